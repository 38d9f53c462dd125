package room

import (
	"context"
	"sync"
)

// Store is the persistence the controller needs. Participants are never
// stored: membership is derived from live connections.
type Store interface {
	CreateRoom(ctx context.Context, r *Room) (*Room, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
}

// StatusUpdater is implemented by stores that persist status transitions.
type StatusUpdater interface {
	UpdateRoomStatus(ctx context.Context, id string, to Status) (*Room, error)
}

// MemoryStore keeps rooms in a map. Callers get copies.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]Room
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]Room)}
}

func (s *MemoryStore) CreateRoom(ctx context.Context, r *Room) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[r.ID]; ok {
		return nil, ErrRoomExists
	}
	s.rooms[r.ID] = *r

	out := *r
	return &out, nil
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return &r, nil
}

func (s *MemoryStore) UpdateRoomStatus(ctx context.Context, id string, to Status) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if err := r.Transition(to); err != nil {
		return nil, err
	}
	s.rooms[id] = r
	return &r, nil
}
