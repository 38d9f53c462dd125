package rtc

import "github.com/vmihailenco/msgpack/v5"

// Data channel message types.
const (
	msgHeartbeat = "heartbeat"
	msgTrack     = "track"
	msgData      = "data"
)

// Message is the envelope for everything sent over a peer's data channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HeartbeatPayload carries the sender's clock in unix milliseconds.
type HeartbeatPayload struct {
	Sent int64 `msgpack:"sent"`
}

// TrackPayload announces that the sender swapped the track behind a sender
// of the given kind.
type TrackPayload struct {
	Kind   string `msgpack:"kind"`
	Source string `msgpack:"source"`
}

// DecodePayload decodes the message payload into the provided value
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

func encodeMessage(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func decodeMessage(b []byte) (Message, error) {
	var msg Message
	err := msgpack.Unmarshal(b, &msg)
	return msg, err
}
