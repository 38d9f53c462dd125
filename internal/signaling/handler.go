package signaling

import "sync"

// Roster is a snapshot of the other participants in the room.
type Roster struct {
	Room         string
	Participants []string
}

// Handlers is the table of callbacks a subscriber registers. Nil entries
// are skipped. Callbacks run on the client's read goroutine, in arrival
// order, and must not block for long.
type Handlers struct {
	// Signal receives offer, answer and candidate messages.
	Signal func(*Message)

	// Presence receives join and leave messages.
	Presence func(*Message)

	// Roster receives participants snapshots that are not a join acknowledgement.
	Roster func(Roster)

	Connected       func()
	Disconnected    func(error)
	Reconnected     func()
	ReconnectFailed func()
}

type subscribers struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handlers
}

func (s *subscribers) add(h Handlers) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subs == nil {
		s.subs = make(map[int]Handlers)
	}
	id := s.next
	s.next++
	s.subs[id] = h

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) each(fn func(Handlers)) {
	s.mu.RLock()
	list := make([]Handlers, 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if h, ok := s.subs[i]; ok {
			list = append(list, h)
		}
	}
	s.mu.RUnlock()

	for _, h := range list {
		fn(h)
	}
}

// routeTable maps each inbound tag to its handler.
func (c *Client) routeTable() map[MessageType]func(*Message) {
	return map[MessageType]func(*Message){
		TypeOffer:        c.emitSignal,
		TypeAnswer:       c.emitSignal,
		TypeCandidate:    c.emitSignal,
		TypeJoin:         c.emitPresence,
		TypeLeave:        c.emitPresence,
		TypeParticipants: c.handleParticipants,
	}
}

func (c *Client) dispatch(msg *Message) {
	route, ok := c.routes[msg.Type]
	if !ok {
		c.log.Warn("dropping message with unknown type", "type", msg.Type, "sender", msg.Sender)
		return
	}
	route(msg)
}

func (c *Client) emitSignal(msg *Message) {
	c.subs.each(func(h Handlers) {
		if h.Signal != nil {
			h.Signal(msg)
		}
	})
}

func (c *Client) emitPresence(msg *Message) {
	c.subs.each(func(h Handlers) {
		if h.Presence != nil {
			h.Presence(msg)
		}
	})
}

func (c *Client) handleParticipants(msg *Message) {
	var payload RosterPayload
	if err := msg.DecodePayload(&payload); err != nil {
		c.log.Warn("invalid participants payload", "error", err)
		return
	}

	c.mu.Lock()
	pending := c.pendingJoin
	c.pendingJoin = nil
	c.mu.Unlock()

	if pending != nil {
		pending <- payload
		return
	}

	if !payload.Success {
		c.log.Warn("server reported roster error", "error", payload.Error)
		return
	}

	roster := Roster{Room: msg.Room, Participants: payload.Participants}
	c.subs.each(func(h Handlers) {
		if h.Roster != nil {
			h.Roster(roster)
		}
	})
}

func (c *Client) emitConnected() {
	c.subs.each(func(h Handlers) {
		if h.Connected != nil {
			h.Connected()
		}
	})
}

func (c *Client) emitDisconnected(err error) {
	c.subs.each(func(h Handlers) {
		if h.Disconnected != nil {
			h.Disconnected(err)
		}
	})
}

func (c *Client) emitReconnected() {
	c.subs.each(func(h Handlers) {
		if h.Reconnected != nil {
			h.Reconnected()
		}
	})
}

func (c *Client) emitReconnectFailed() {
	c.subs.each(func(h Handlers) {
		if h.ReconnectFailed != nil {
			h.ReconnectFailed()
		}
	})
}
