package signalserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

func startServer(t *testing.T, lookup RoomLookup, store RoomStore) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(lookup, nil)
	go hub.Run(ctx)

	if store == nil {
		store = room.NewMemoryStore()
	}
	ts := httptest.NewServer(New(hub, store, nil, false).Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, msg signaling.Message) {
	t.Helper()
	if err := c.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) signaling.Message {
	t.Helper()

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg signaling.Message
	if err := c.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func roster(t *testing.T, msg signaling.Message) signaling.RosterPayload {
	t.Helper()

	if msg.Type != signaling.TypeParticipants {
		t.Fatalf("type=%s, want participants", msg.Type)
	}
	var p signaling.RosterPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	return p
}

func join(t *testing.T, c *websocket.Conn, roomID, id string) signaling.RosterPayload {
	t.Helper()
	write(t, c, signaling.Message{Type: signaling.TypeJoin, Sender: id, Room: roomID})
	return roster(t, read(t, c))
}

func TestHub_JoinAcknowledgesAndAnnounces(t *testing.T) {
	ts := startServer(t, nil, nil)
	a := dial(t, ts)
	b := dial(t, ts)

	if p := join(t, a, "R1", "A"); !p.Success || len(p.Participants) != 0 {
		t.Fatalf("first join roster=%+v", p)
	}

	p := join(t, b, "R1", "B")
	if !p.Success || len(p.Participants) != 1 || p.Participants[0] != "A" {
		t.Fatalf("second join roster=%+v", p)
	}

	msg := read(t, a)
	if msg.Type != signaling.TypeJoin || msg.Sender != "B" || msg.Room != "R1" {
		t.Fatalf("A got %+v, want join from B", msg)
	}
}

func TestHub_RelaysToReceiverOnly(t *testing.T) {
	ts := startServer(t, nil, nil)
	a := dial(t, ts)
	b := dial(t, ts)
	c := dial(t, ts)

	join(t, a, "R1", "A")
	join(t, b, "R1", "B")
	read(t, a) // join B
	join(t, c, "R1", "C")
	read(t, a) // join C
	read(t, b) // join C

	write(t, a, signaling.Message{
		Type:     signaling.TypeOffer,
		Sender:   "spoofed",
		Receiver: "C",
		Payload:  json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})

	msg := read(t, c)
	if msg.Type != signaling.TypeOffer || msg.Sender != "A" || msg.Room != "R1" {
		t.Fatalf("C got %+v", msg)
	}

	b.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	var stray signaling.Message
	if err := b.ReadJSON(&stray); err == nil {
		t.Fatalf("B unexpectedly received %+v", stray)
	}
}

func TestHub_LeaveAndDisconnectBroadcast(t *testing.T) {
	ts := startServer(t, nil, nil)
	a := dial(t, ts)
	b := dial(t, ts)
	c := dial(t, ts)

	join(t, a, "R1", "A")
	join(t, b, "R1", "B")
	read(t, a)
	join(t, c, "R1", "C")
	read(t, a)
	read(t, b)

	write(t, b, signaling.Message{Type: signaling.TypeLeave, Sender: "B", Room: "R1"})
	for _, conn := range []*websocket.Conn{a, c} {
		if msg := read(t, conn); msg.Type != signaling.TypeLeave || msg.Sender != "B" {
			t.Fatalf("got %+v, want leave from B", msg)
		}
	}

	c.Close()
	if msg := read(t, a); msg.Type != signaling.TypeLeave || msg.Sender != "C" {
		t.Fatalf("got %+v, want leave from C after disconnect", msg)
	}
}

func TestHub_RejectsUsingRoomLookup(t *testing.T) {
	store := room.NewMemoryStore()
	ctx := context.Background()

	small, _ := room.NewRoom(room.CreateOptions{Name: "small", Capacity: 1, CreatedBy: "host"})
	store.CreateRoom(ctx, small)
	over, _ := room.NewRoom(room.CreateOptions{Name: "over", CreatedBy: "host"})
	store.CreateRoom(ctx, over)
	store.UpdateRoomStatus(ctx, over.ID, room.StatusEnded)

	ts := startServer(t, store, store)
	a := dial(t, ts)
	b := dial(t, ts)

	if p := join(t, a, "missing", "A"); p.Success || p.Error != "room not found" {
		t.Fatalf("missing room roster=%+v", p)
	}
	if p := join(t, a, over.ID, "A"); p.Success || p.Error != "room has ended" {
		t.Fatalf("ended room roster=%+v", p)
	}
	if p := join(t, a, small.ID, "A"); !p.Success {
		t.Fatalf("join small=%+v", p)
	}
	if p := join(t, b, small.ID, "B"); p.Success || p.Error != "room is full" {
		t.Fatalf("full room roster=%+v", p)
	}
}

func TestHub_DuplicateIDReplacesOlderConnection(t *testing.T) {
	ts := startServer(t, nil, nil)
	a := dial(t, ts)
	a2 := dial(t, ts)
	b := dial(t, ts)

	join(t, a, "R1", "A")
	join(t, b, "R1", "B")
	read(t, a)

	if p := join(t, a2, "R1", "A"); !p.Success || len(p.Participants) != 1 || p.Participants[0] != "B" {
		t.Fatalf("rejoin roster=%+v", p)
	}
	if msg := read(t, b); msg.Type != signaling.TypeJoin || msg.Sender != "A" {
		t.Fatalf("B got %+v, want re-announced join from A", msg)
	}

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := a.ReadMessage(); err == nil {
		t.Fatalf("expected stale connection to be closed")
	}
}
