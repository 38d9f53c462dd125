package room

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Role is what a participant may do in a room.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// ParseRole accepts the role names used on the command line. An empty name
// means RoleParticipant.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "":
		return RoleParticipant, nil
	case RoleHost, RoleParticipant, RoleObserver:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Presence is whether a participant's link is currently up.
type Presence string

const (
	PresenceActive   Presence = "active"
	PresenceInactive Presence = "inactive"
)

// Participant is the in-memory record of someone in the room. It is built
// from live connections and never persisted.
type Participant struct {
	ID          string     `msgpack:"id" json:"id"`
	DisplayName string     `msgpack:"display_name" json:"display_name"`
	Role        Role       `msgpack:"role" json:"role"`
	Status      Presence   `msgpack:"status" json:"status"`
	JoinedAt    time.Time  `msgpack:"joined_at" json:"joined_at"`
	LeftAt      *time.Time `msgpack:"left_at,omitempty" json:"left_at,omitempty"`
}

// Name returns the display name, falling back to the id.
func (p Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.ID
}

// Identity is who the local side is for the life of one session.
type Identity struct {
	ID          string
	DisplayName string
	Role        Role
}

func (i Identity) participant(now time.Time) Participant {
	return Participant{
		ID:          i.ID,
		DisplayName: i.DisplayName,
		Role:        i.Role,
		Status:      PresenceActive,
		JoinedAt:    now,
	}
}

// Kinds of peer-to-peer payloads the controller exchanges.
const (
	payloadParticipant = "participant"
	payloadApp         = "app"
)

// peerPayload wraps everything the controller sends over a data channel so
// participant records and application data share one stream.
type peerPayload struct {
	Kind        string       `msgpack:"kind"`
	Participant *Participant `msgpack:"participant,omitempty"`
	Data        []byte       `msgpack:"data,omitempty"`
}

func encodeParticipant(p Participant) ([]byte, error) {
	return msgpack.Marshal(peerPayload{Kind: payloadParticipant, Participant: &p})
}

func encodeApp(data []byte) ([]byte, error) {
	return msgpack.Marshal(peerPayload{Kind: payloadApp, Data: data})
}

func decodePeerPayload(b []byte) (peerPayload, error) {
	var p peerPayload
	err := msgpack.Unmarshal(b, &p)
	return p, err
}
