package room

import "errors"

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomExists           = errors.New("room already exists")
	ErrInvalidRoom          = errors.New("invalid room options")
	ErrInvalidTransition    = errors.New("invalid room status transition")
	ErrRoomEnded            = errors.New("room has ended")
	ErrUnsupportedTransport = errors.New("room transport not supported by the peer session")
	ErrSessionActive        = errors.New("session already active")
	ErrNoSession            = errors.New("no active session")
)
