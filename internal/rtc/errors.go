package rtc

import (
	"errors"
	"fmt"
)

var (
	ErrSessionActive    = errors.New("session already active")
	ErrNotInRoom        = errors.New("not in a room")
	ErrManagerClosed    = errors.New("peer manager closed")
	ErrUnknownPeer      = errors.New("unknown peer")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrUnexpectedSignal = errors.New("unexpected signal type")
	ErrNoICEServers     = errors.New("at least one ICE server is required")
)

// Error records the operation and peer a failure belongs to.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func PeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
