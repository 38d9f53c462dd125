package rtc

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

// bus is an in-memory signaling server: it relays targeted messages and
// broadcasts presence to the other members of one room.
type bus struct {
	mu      sync.Mutex
	members map[string]chan *signaling.Message
	joined  []string
}

func newBus() *bus {
	return &bus{members: make(map[string]chan *signaling.Message)}
}

func (b *bus) attach(t *testing.T, id string, m *Manager) {
	inbox := make(chan *signaling.Message, 64)
	b.mu.Lock()
	b.members[id] = inbox
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range inbox {
			_ = m.HandleSignalingMessage(context.Background(), msg)
		}
	}()
	t.Cleanup(func() {
		b.mu.Lock()
		delete(b.members, id)
		b.mu.Unlock()
		close(inbox)
		<-done
	})
}

func (b *bus) route(msg *signaling.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range b.joined {
		if id == msg.Sender || (msg.Receiver != "" && msg.Receiver != id) {
			continue
		}
		if inbox, ok := b.members[id]; ok {
			out := *msg
			inbox <- &out
		}
	}
}

type busSignaler struct {
	bus *bus
	id  string
}

func (s *busSignaler) SendMessage(msg *signaling.Message) {
	out := *msg
	out.Sender = s.id
	s.bus.route(&out)
}

func (s *busSignaler) JoinRoom(_ context.Context, roomID, id string) ([]string, error) {
	s.bus.mu.Lock()
	roster := slices.Clone(s.bus.joined)
	s.bus.joined = append(s.bus.joined, id)
	s.bus.mu.Unlock()

	s.bus.route(&signaling.Message{Type: signaling.TypeJoin, Sender: id, Room: roomID})
	return roster, nil
}

func (s *busSignaler) LeaveRoom(context.Context) error {
	s.bus.route(&signaling.Message{Type: signaling.TypeLeave, Sender: s.id})
	s.bus.mu.Lock()
	s.bus.joined = slices.DeleteFunc(s.bus.joined, func(id string) bool { return id == s.id })
	s.bus.mu.Unlock()
	return nil
}

type participant struct {
	m   *Manager
	net *fakeNet
	rec *recorder
}

func newParticipant(t *testing.T, b *bus, id string) *participant {
	t.Helper()
	net := &fakeNet{autoConnect: true}
	m, err := NewManager(Config{
		LocalID:           id,
		WebRTC:            testICE,
		Signaler:          &busSignaler{bus: b, id: id},
		Media:             media.NewSyntheticSource(),
		Factory:           net.factory,
		Logger:            slog.New(slog.DiscardHandler),
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager(%s): %v", id, err)
	}
	t.Cleanup(func() { _ = m.Close() })
	b.attach(t, id, m)
	return &participant{m: m, net: net, rec: record(m)}
}

func (p *participant) join(t *testing.T) {
	t.Helper()
	if err := p.m.JoinRoom(context.Background(), "room-1", media.Constraints{Audio: true, Video: true}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
}

func (p *participant) connectedTo() []string {
	var ids []string
	for _, e := range eventsOf[PeerConnectedEvent](p.rec) {
		ids = append(ids, e.PeerID)
	}
	slices.Sort(ids)
	return ids
}

func pipe(a, b *fakeChannel) {
	a.mu.Lock()
	a.remote = b
	a.mu.Unlock()
	b.mu.Lock()
	b.remote = a
	b.mu.Unlock()
}

func TestScenario_TwoParticipants(t *testing.T) {
	b := newBus()
	alice := newParticipant(t, b, "alice")
	bob := newParticipant(t, b, "bob")

	alice.join(t)
	bob.join(t)

	waitFor(t, "alice connected to bob", func() bool { return slices.Equal(alice.connectedTo(), []string{"bob"}) })
	waitFor(t, "bob connected to alice", func() bool { return slices.Equal(bob.connectedTo(), []string{"alice"}) })
	if alice.net.count() != 1 || bob.net.count() != 1 {
		t.Fatalf("connections alice=%d bob=%d, want 1 each", alice.net.count(), bob.net.count())
	}

	pipe(alice.net.peer(0).channel(), bob.net.peer(0).channel())

	if _, err := alice.m.StartScreenShare(context.Background()); err != nil {
		t.Fatalf("StartScreenShare: %v", err)
	}
	waitFor(t, "bob sees replaced video", func() bool {
		for _, e := range eventsOf[RemoteStreamEvent](bob.rec) {
			if e.Replaced && e.PeerID == "alice" && e.Source == media.SourceScreen {
				return true
			}
		}
		return false
	})

	if err := alice.m.SendData(context.Background(), "bob", []byte("hi bob")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
	waitFor(t, "bob receives data", func() bool {
		data := eventsOf[DataEvent](bob.rec)
		return len(data) == 1 && string(data[0].Payload) == "hi bob"
	})

	if err := alice.m.LeaveRoom(context.Background()); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	waitFor(t, "bob sees alice leave", func() bool {
		left := eventsOf[PeerDisconnectedEvent](bob.rec)
		return len(left) == 1 && left[0].PeerID == "alice"
	})
	peers, err := bob.m.Peers(context.Background())
	if err != nil || len(peers) != 0 {
		t.Fatalf("bob peers=%v err=%v", peers, err)
	}
}

func TestScenario_ThirdParticipantMeshes(t *testing.T) {
	b := newBus()
	alice := newParticipant(t, b, "alice")
	bob := newParticipant(t, b, "bob")
	carol := newParticipant(t, b, "carol")

	alice.join(t)
	bob.join(t)
	waitFor(t, "alice and bob connected", func() bool { return len(alice.connectedTo()) == 1 && len(bob.connectedTo()) == 1 })

	carol.join(t)

	waitFor(t, "full mesh", func() bool {
		return slices.Equal(alice.connectedTo(), []string{"bob", "carol"}) &&
			slices.Equal(bob.connectedTo(), []string{"alice", "carol"}) &&
			slices.Equal(carol.connectedTo(), []string{"alice", "bob"})
	})

	for name, p := range map[string]*participant{"alice": alice, "bob": bob, "carol": carol} {
		peers, err := p.m.Peers(context.Background())
		if err != nil {
			t.Fatalf("%s Peers: %v", name, err)
		}
		if len(peers) != 2 {
			t.Fatalf("%s links=%d, want 2", name, len(peers))
		}
		if n := p.net.count(); n != 2 {
			t.Fatalf("%s built %d connections, want 2", name, n)
		}
	}
}
