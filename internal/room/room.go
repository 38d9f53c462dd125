package room

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Status is a room lifecycle state.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusEnded   Status = "ended"
)

// Transport says who carries the media for a room.
type Transport string

const (
	TransportDirect   Transport = "direct"
	TransportExternal Transport = "external-engine"
)

// Limits applied by NewRoom.
const (
	MaxNameLength = 100
	MaxCapacity   = 64
)

// Room is the persisted room record. It only changes through Transition.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Transport Transport `json:"transport"`
	Status    Status    `json:"status"`
	Capacity  int       `json:"capacity"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Rooms move forward only: waiting -> active -> (paused <-> active) -> ended.
var transitions = map[Status][]Status{
	StatusWaiting: {StatusActive, StatusEnded},
	StatusActive:  {StatusPaused, StatusEnded},
	StatusPaused:  {StatusActive, StatusEnded},
}

// CanTransition reports whether the room may move to status to.
func (r *Room) CanTransition(to Status) bool {
	for _, next := range transitions[r.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the room to status to.
func (r *Room) Transition(to Status) error {
	if !r.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}

// CreateOptions describe a room to create.
type CreateOptions struct {
	Name      string    `json:"name"`
	Transport Transport `json:"transport"`
	Capacity  int       `json:"capacity"`
	CreatedBy string    `json:"created_by"`
}

// Validate checks the options and fills in the default transport.
func (o *CreateOptions) Validate() error {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if utf8.RuneCountInString(o.Name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalidRoom, MaxNameLength)
	}
	if o.Capacity < 0 || o.Capacity > MaxCapacity {
		return fmt.Errorf("%w: capacity must be between 0 and %d", ErrInvalidRoom, MaxCapacity)
	}
	if o.CreatedBy == "" {
		return fmt.Errorf("%w: creator is required", ErrInvalidRoom)
	}

	switch o.Transport {
	case "":
		o.Transport = TransportDirect
	case TransportDirect, TransportExternal:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidRoom, o.Transport)
	}
	return nil
}

// NewRoom validates opts and returns a waiting room with a fresh id.
func NewRoom(opts CreateOptions) (*Room, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Room{
		ID:        uuid.NewString(),
		Name:      opts.Name,
		Transport: opts.Transport,
		Status:    StatusWaiting,
		Capacity:  opts.Capacity,
		CreatedBy: opts.CreatedBy,
		CreatedAt: time.Now().UTC(),
	}, nil
}
