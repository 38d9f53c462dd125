package signaling

import (
	"encoding/json"
	"fmt"
)

// MessageType tags the signaling envelope.
type MessageType string

// Message type constants.
const (
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeCandidate    MessageType = "candidate"
	TypeJoin         MessageType = "join"
	TypeLeave        MessageType = "leave"
	TypeParticipants MessageType = "participants"
)

// Message is the envelope exchanged with the signaling server.
type Message struct {
	Type     MessageType     `json:"type"`
	Sender   string          `json:"sender"`
	Receiver string          `json:"receiver,omitempty"`
	Room     string          `json:"room,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RosterPayload is carried by `participants` messages: the join
// acknowledgement and later roster snapshots.
type RosterPayload struct {
	Success      bool     `json:"success"`
	Participants []string `json:"participants"`
	Error        string   `json:"error,omitempty"`
}

// NewMessage creates a message of type t with payload encoded as JSON.
// A nil payload leaves the field empty.
func NewMessage(t MessageType, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// DecodePayload decodes the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// Known reports whether the type is part of the protocol.
func (t MessageType) Known() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeJoin, TypeLeave, TypeParticipants:
		return true
	}
	return false
}

// IsNegotiation reports whether the type carries SDP or ICE data.
func (t MessageType) IsNegotiation() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}
