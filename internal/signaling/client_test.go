package signaling_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/room"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signalserver"
)

type server struct {
	ts   *httptest.Server
	url  string
	stop func()
}

func startServer(t *testing.T, lookup signalserver.RoomLookup) *server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := signalserver.NewHub(lookup, nil)
	go hub.Run(ctx)

	ts := httptest.NewServer(signalserver.New(hub, room.NewMemoryStore(), nil, false).Handler())

	// Closing the listener first keeps reconnects from reaching a hub that
	// is shutting down.
	stop := func() {
		ts.Close()
		cancel()
	}
	t.Cleanup(stop)

	return &server{
		ts:   ts,
		url:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
		stop: stop,
	}
}

func newClient(t *testing.T, s *server, id string) *signaling.Client {
	t.Helper()
	c := signaling.NewClient(signaling.Options{
		URL:            s.url,
		LocalID:        id,
		ReconnectDelay: 10 * time.Millisecond,
		JoinTimeout:    2 * time.Second,
	})
	t.Cleanup(c.Close)
	return c
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "alice")

	connected := make(chan struct{}, 4)
	c.Subscribe(signaling.Handlers{Connected: func() { connected <- struct{}{} }})

	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if len(connected) != 1 {
		t.Fatalf("connected fired %d times, want 1", len(connected))
	}
	if c.State() != signaling.StateConnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_ConnectFailure(t *testing.T) {
	s := startServer(t, nil)
	s.stop()

	c := newClient(t, s, "alice")
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if c.State() != signaling.StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_JoinRoomReturnsRosterAndAnnounces(t *testing.T) {
	s := startServer(t, nil)
	alice := newClient(t, s, "alice")
	bob := newClient(t, s, "bob")
	ctx := context.Background()

	presence := make(chan *signaling.Message, 4)
	alice.Subscribe(signaling.Handlers{Presence: func(m *signaling.Message) { presence <- m }})

	roster, err := alice.JoinRoom(ctx, "R1", "alice")
	if err != nil {
		t.Fatalf("alice JoinRoom: %v", err)
	}
	if len(roster) != 0 {
		t.Fatalf("alice roster=%v, want empty", roster)
	}

	roster, err = bob.JoinRoom(ctx, "R1", "bob")
	if err != nil {
		t.Fatalf("bob JoinRoom: %v", err)
	}
	if !slices.Equal(roster, []string{"alice"}) {
		t.Fatalf("bob roster=%v", roster)
	}

	msg := receive(t, presence, "join announcement")
	if msg.Type != signaling.TypeJoin || msg.Sender != "bob" || msg.Room != "R1" {
		t.Fatalf("presence=%+v", msg)
	}
}

func TestClient_JoinRejected(t *testing.T) {
	store := room.NewMemoryStore()
	ctx := context.Background()
	r, err := room.NewRoom(room.CreateOptions{Name: "pair", Capacity: 1, CreatedBy: "host"})
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	store.CreateRoom(ctx, r)

	s := startServer(t, store)
	alice := newClient(t, s, "alice")
	bob := newClient(t, s, "bob")

	if _, err := alice.JoinRoom(ctx, r.ID, "alice"); err != nil {
		t.Fatalf("alice JoinRoom: %v", err)
	}
	_, err = bob.JoinRoom(ctx, r.ID, "bob")
	if !errors.Is(err, signaling.ErrJoinRejected) {
		t.Fatalf("err=%v, want ErrJoinRejected", err)
	}
	if !strings.Contains(err.Error(), "room is full") {
		t.Fatalf("err=%v, want reason", err)
	}

	if _, err := bob.JoinRoom(ctx, "", "bob"); !errors.Is(err, signaling.ErrJoinRejected) {
		t.Fatalf("empty room err=%v", err)
	}
}

func TestClient_SignalsAreStampedAndRouted(t *testing.T) {
	s := startServer(t, nil)
	alice := newClient(t, s, "alice")
	bob := newClient(t, s, "bob")
	ctx := context.Background()

	signals := make(chan *signaling.Message, 4)
	bob.Subscribe(signaling.Handlers{Signal: func(m *signaling.Message) { signals <- m }})

	if _, err := alice.JoinRoom(ctx, "R1", "alice"); err != nil {
		t.Fatalf("alice JoinRoom: %v", err)
	}
	if _, err := bob.JoinRoom(ctx, "R1", "bob"); err != nil {
		t.Fatalf("bob JoinRoom: %v", err)
	}

	offer, err := signaling.NewMessage(signaling.TypeOffer, map[string]string{"type": "offer", "sdp": "v=0"})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	offer.Sender = "mallory"
	offer.Receiver = "bob"
	alice.SendMessage(offer)

	got := receive(t, signals, "offer")
	if got.Type != signaling.TypeOffer || got.Sender != "alice" || got.Room != "R1" {
		t.Fatalf("signal=%+v", got)
	}
	var payload map[string]string
	if err := got.DecodePayload(&payload); err != nil || payload["sdp"] != "v=0" {
		t.Fatalf("payload=%v err=%v", payload, err)
	}
	if offer.Sender != "mallory" {
		t.Fatal("SendMessage modified the caller's message")
	}
}

func TestClient_SendWhileDisconnectedDrops(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "alice")

	msg, _ := signaling.NewMessage(signaling.TypeCandidate, map[string]string{"candidate": "x"})
	msg.Receiver = "bob"
	c.SendMessage(msg)

	if c.State() != signaling.StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_LeaveRoom(t *testing.T) {
	s := startServer(t, nil)
	alice := newClient(t, s, "alice")
	bob := newClient(t, s, "bob")
	ctx := context.Background()

	if err := alice.LeaveRoom(ctx); err != nil {
		t.Fatalf("LeaveRoom before joining: %v", err)
	}

	presence := make(chan *signaling.Message, 4)
	bob.Subscribe(signaling.Handlers{Presence: func(m *signaling.Message) { presence <- m }})

	if _, err := bob.JoinRoom(ctx, "R1", "bob"); err != nil {
		t.Fatalf("bob JoinRoom: %v", err)
	}
	if _, err := alice.JoinRoom(ctx, "R1", "alice"); err != nil {
		t.Fatalf("alice JoinRoom: %v", err)
	}
	receive(t, presence, "join")

	if err := alice.LeaveRoom(ctx); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	msg := receive(t, presence, "leave")
	if msg.Type != signaling.TypeLeave || msg.Sender != "alice" {
		t.Fatalf("presence=%+v", msg)
	}
}

func TestClient_ReconnectsAndRejoins(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "alice")
	ctx := context.Background()

	disconnected := make(chan error, 4)
	reconnected := make(chan struct{}, 4)
	rosters := make(chan signaling.Roster, 4)
	c.Subscribe(signaling.Handlers{
		Disconnected: func(err error) { disconnected <- err },
		Reconnected:  func() { reconnected <- struct{}{} },
		Roster:       func(r signaling.Roster) { rosters <- r },
	})

	if _, err := c.JoinRoom(ctx, "R1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	// A second connection claiming the same id makes the server drop ours.
	intruder, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer intruder.Close()
	if err := intruder.WriteJSON(signaling.Message{Type: signaling.TypeJoin, Sender: "alice", Room: "R1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	receive(t, disconnected, "disconnect")
	receive(t, reconnected, "reconnect")
	r := receive(t, rosters, "rejoin roster")
	if r.Room != "R1" || len(r.Participants) != 0 {
		t.Fatalf("roster=%+v", r)
	}
	if c.State() != signaling.StateConnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_ReconnectGivesUp(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "alice")

	failed := make(chan struct{}, 1)
	c.Subscribe(signaling.Handlers{ReconnectFailed: func() { failed <- struct{}{} }})

	// The hub only drops connections that are in a room when it stops.
	if _, err := c.JoinRoom(context.Background(), "R1", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	s.stop()

	receive(t, failed, "reconnect failure")
	if c.State() != signaling.StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClient_CloseDoesNotReconnect(t *testing.T) {
	s := startServer(t, nil)
	c := newClient(t, s, "alice")

	disconnected := make(chan error, 1)
	c.Subscribe(signaling.Handlers{Disconnected: func(err error) { disconnected <- err }})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()

	select {
	case err := <-disconnected:
		t.Fatalf("explicit close reported as connection loss: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() != signaling.StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
}
