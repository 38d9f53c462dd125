package signalserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

// RoomLookup lets the hub check a room before admitting participants.
type RoomLookup interface {
	GetRoom(ctx context.Context, id string) (*room.Room, error)
}

type hubRoom struct {
	id       string
	capacity int
	members  map[string]*Client
}

func (r *hubRoom) others(id string) []string {
	ids := make([]string, 0, len(r.members))
	for memberID := range r.members {
		if memberID != id {
			ids = append(ids, memberID)
		}
	}
	sort.Strings(ids)
	return ids
}

type inbound struct {
	msg    *signaling.Message
	client *Client
}

// Hub owns every room and client. All state is touched only from Run.
type Hub struct {
	rooms      map[string]*hubRoom
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	lookup     RoomLookup
	log        *slog.Logger
	done       chan struct{}
}

// NewHub creates a hub. lookup may be nil, in which case any room id is
// accepted and rooms exist only while they have members.
func NewHub(lookup RoomLookup, logger *slog.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*hubRoom),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		lookup:     lookup,
		log:        logging.Component(logger, "hub"),
		done:       make(chan struct{}),
	}
}

// Run is the hub's processing loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, r := range h.rooms {
				for _, c := range r.members {
					h.closeSend(c)
				}
			}
			h.rooms = make(map[string]*hubRoom)
			return

		case client := <-h.register:
			h.log.Debug("client registered", "remote", client.remoteAddr())

		case client := <-h.unregister:
			h.log.Debug("client unregistered", "remote", client.remoteAddr(), "participant", client.id)
			h.removeFromRoom(client)
			h.closeSend(client)

		case in := <-h.inbound:
			h.handle(ctx, in.client, in.msg)
		}
	}
}

func (h *Hub) handle(ctx context.Context, client *Client, msg *signaling.Message) {
	switch {
	case msg.Type == signaling.TypeJoin && msg.Receiver == "":
		h.join(ctx, client, msg)

	case msg.Type == signaling.TypeLeave:
		h.removeFromRoom(client)

	case msg.Type.IsNegotiation(), msg.Type == signaling.TypeJoin:
		h.relay(client, msg)

	default:
		h.log.Warn("unexpected message type", "type", msg.Type, "participant", client.id)
	}
}

func (h *Hub) join(ctx context.Context, client *Client, msg *signaling.Message) {
	if msg.Room == "" || msg.Sender == "" {
		h.reject(client, msg.Room, "room and sender are required")
		return
	}

	capacity := 0
	if h.lookup != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rec, err := h.lookup.GetRoom(lookupCtx, msg.Room)
		cancel()
		switch {
		case errors.Is(err, room.ErrRoomNotFound):
			h.reject(client, msg.Room, "room not found")
			return
		case err != nil:
			h.log.Error("room lookup failed", "room", msg.Room, "error", err)
			h.reject(client, msg.Room, "room lookup failed")
			return
		case rec.Status == room.StatusEnded:
			h.reject(client, msg.Room, "room has ended")
			return
		}
		capacity = rec.Capacity
	}

	if client.roomID != "" && (client.roomID != msg.Room || client.id != msg.Sender) {
		h.removeFromRoom(client)
	}

	r, ok := h.rooms[msg.Room]
	if !ok {
		r = &hubRoom{id: msg.Room, members: make(map[string]*Client)}
		h.rooms[msg.Room] = r
	}
	r.capacity = capacity

	if old, ok := r.members[msg.Sender]; ok && old != client {
		h.log.Info("replacing stale connection", "room", r.id, "participant", msg.Sender)
		delete(r.members, msg.Sender)
		old.roomID = ""
		h.closeSend(old)
	}

	if _, rejoin := r.members[msg.Sender]; !rejoin && r.capacity > 0 && len(r.members) >= r.capacity {
		h.reject(client, msg.Room, "room is full")
		return
	}

	others := r.others(msg.Sender)
	r.members[msg.Sender] = client
	client.id = msg.Sender
	client.roomID = r.id

	h.log.Info("participant joined", "room", r.id, "participant", client.id, "members", len(r.members))

	h.send(client, participantsMessage(r.id, signaling.RosterPayload{Success: true, Participants: others}))

	for _, id := range others {
		h.send(r.members[id], &signaling.Message{Type: signaling.TypeJoin, Sender: client.id, Room: r.id})
	}
}

func (h *Hub) relay(client *Client, msg *signaling.Message) {
	if client.roomID == "" {
		h.log.Warn("signal from client outside any room", "type", msg.Type)
		return
	}
	r, ok := h.rooms[client.roomID]
	if !ok {
		return
	}

	target, ok := r.members[msg.Receiver]
	if !ok {
		h.log.Debug("signal target not in room", "room", r.id, "type", msg.Type, "receiver", msg.Receiver)
		return
	}

	out := *msg
	out.Sender = client.id
	out.Room = r.id
	h.send(target, &out)
}

func (h *Hub) removeFromRoom(client *Client) {
	if client.roomID == "" {
		return
	}
	r, ok := h.rooms[client.roomID]
	client.roomID = ""
	if !ok || r.members[client.id] != client {
		return
	}

	delete(r.members, client.id)
	h.log.Info("participant left", "room", r.id, "participant", client.id, "members", len(r.members))

	if len(r.members) == 0 {
		delete(h.rooms, r.id)
		return
	}
	for _, member := range r.members {
		h.send(member, &signaling.Message{Type: signaling.TypeLeave, Sender: client.id, Room: r.id})
	}
}

func (h *Hub) reject(client *Client, roomID, reason string) {
	h.log.Info("join rejected", "room", roomID, "reason", reason)
	h.send(client, participantsMessage(roomID, signaling.RosterPayload{Success: false, Error: reason}))
}

func (h *Hub) send(client *Client, msg *signaling.Message) {
	if client.sendClosed {
		return
	}
	select {
	case client.send <- msg:
	default:
		h.log.Warn("client send buffer full, dropping message", "participant", client.id, "type", msg.Type)
	}
}

func (h *Hub) closeSend(client *Client) {
	if !client.sendClosed {
		client.sendClosed = true
		close(client.send)
	}
}

func participantsMessage(roomID string, payload signaling.RosterPayload) *signaling.Message {
	b, _ := json.Marshal(payload)
	return &signaling.Message{Type: signaling.TypeParticipants, Room: roomID, Payload: b}
}
