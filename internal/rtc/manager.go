package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

const (
	DefaultHeartbeatInterval    = 3 * time.Second
	DefaultStaleAfter           = 10 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultReconnectBackoff     = 2 * time.Second
	DefaultConnectTimeout       = 15 * time.Second

	dataChannelLabel = "huddle"
	opsBuffer        = 64
	leaveTimeout     = 5 * time.Second
)

// Signaler is the signaling surface the manager needs. *signaling.Client
// satisfies it.
type Signaler interface {
	SendMessage(msg *signaling.Message)
	JoinRoom(ctx context.Context, roomID, participantID string) ([]string, error)
	LeaveRoom(ctx context.Context) error
}

// Config holds everything a Manager needs. LocalID, WebRTC.ICEServers,
// Signaler and Media are required; zero durations take the defaults.
type Config struct {
	LocalID  string
	WebRTC   webrtc.Configuration
	Signaler Signaler
	Media    media.Source
	Factory  PeerFactory
	Logger   *slog.Logger

	HeartbeatInterval    time.Duration
	StaleAfter           time.Duration
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	ConnectTimeout       time.Duration
}

// PeerInfo is a snapshot of one link.
type PeerInfo struct {
	ID           string
	State        webrtc.PeerConnectionState
	Initiator    bool
	Connected    bool
	LastActivity time.Time
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateJoining
	stateActive
)

// Manager owns one peer connection per remote participant in a room.
// All link state is owned by a single goroutine; public methods and pion
// callbacks hand work to it.
type Manager struct {
	cfg    Config
	log    *slog.Logger
	events *emitter

	ops       chan func()
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	state         sessionState
	roomID        string
	local         *media.Stream
	screen        *media.Stream
	links         map[string]*peerLink
	attempts      map[string]int
	retries       map[string]*retry
	stopHeartbeat chan struct{}
}

// NewManager validates cfg and starts the manager's loop.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.LocalID == "" {
		return nil, NewError("new manager", errors.New("local id is required"))
	}
	if len(cfg.WebRTC.ICEServers) == 0 {
		return nil, NewError("new manager", ErrNoICEServers)
	}
	if cfg.Signaler == nil {
		return nil, NewError("new manager", errors.New("signaler is required"))
	}
	if cfg.Media == nil {
		return nil, NewError("new manager", errors.New("media source is required"))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Factory == nil {
		api, err := NewAPI(cfg.Logger)
		if err != nil {
			return nil, err
		}
		cfg.Factory = NewPionFactory(api)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	m := &Manager{
		cfg:      cfg,
		log:      logging.Component(cfg.Logger, "rtc").With("local", cfg.LocalID),
		events:   newEmitter(),
		ops:      make(chan func(), opsBuffer),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		links:    make(map[string]*peerLink),
		attempts: make(map[string]int),
		retries:  make(map[string]*retry),
	}
	go m.loop()
	return m, nil
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	for {
		select {
		case op := <-m.ops:
			op()
		case <-m.quit:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (m *Manager) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case m.ops <- op:
	case <-m.quit:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-m.loopDone:
		return ErrManagerClosed
	}
}

// post queues fn on the loop without waiting. Used from callbacks and timers.
func (m *Manager) post(fn func()) {
	select {
	case m.ops <- fn:
	case <-m.quit:
	}
}

// LocalID returns the id this manager negotiates as.
func (m *Manager) LocalID() string {
	return m.cfg.LocalID
}

// Subscribe registers h and returns a function that removes it. Handlers run
// on a dedicated goroutine and may call back into the Manager.
func (m *Manager) Subscribe(h Handlers) func() {
	return m.events.subscribe(h)
}

// JoinRoom acquires local media with the given constraints, announces
// presence in roomID and starts connecting to everyone already there.
func (m *Manager) JoinRoom(ctx context.Context, roomID string, constraints media.Constraints) error {
	if roomID == "" {
		return NewError("join room", errors.New("room id is required"))
	}
	if err := constraints.Validate(); err != nil {
		return NewError("join room", err)
	}

	busy := false
	if err := m.do(ctx, func() {
		if m.state != stateIdle {
			busy = true
			return
		}
		m.state = stateJoining
		m.roomID = roomID
	}); err != nil {
		return err
	}
	if busy {
		return ErrSessionActive
	}

	stream, err := m.cfg.Media.UserMedia(ctx, constraints)
	if err != nil {
		m.abortJoin()
		return WrapError("acquire local media", err, fmt.Sprintf("audio=%t video=%t", constraints.Audio, constraints.WantsVideo()))
	}

	if err := m.do(ctx, func() {
		m.local = stream
		m.events.emit(LocalStreamEvent{Stream: stream})
	}); err != nil {
		stream.Stop()
		m.abortJoin()
		return err
	}

	roster, err := m.cfg.Signaler.JoinRoom(ctx, roomID, m.cfg.LocalID)
	if err != nil {
		m.abortJoin()
		return NewError("announce presence", err)
	}

	// The server already counts us as present, so a join abandoned from here
	// on has to be withdrawn there too.
	if err := ctx.Err(); err != nil {
		m.withdrawJoin()
		return err
	}
	left := false
	if err := m.do(ctx, func() {
		if m.state != stateJoining {
			left = true
			return
		}
		m.state = stateActive
		m.startHeartbeat()
		m.connectPeers(roster)
	}); err != nil {
		m.withdrawJoin()
		return err
	}
	if left {
		return NewError("join room", ErrNotInRoom)
	}

	m.log.Info("joined room", "room", roomID, "participants", len(roster))
	return nil
}

// abortJoin returns a half-finished join to idle. A LeaveRoom that already
// ran during the join has done this.
func (m *Manager) abortJoin() {
	_ = m.do(context.Background(), func() {
		if m.state != stateJoining {
			return
		}
		m.local.Stop()
		m.local = nil
		m.roomID = ""
		m.state = stateIdle
	})
}

func (m *Manager) withdrawJoin() {
	m.abortJoin()
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := m.cfg.Signaler.LeaveRoom(ctx); err != nil {
		m.log.Warn("abandoned join not withdrawn", "error", err)
	}
}

// LeaveRoom closes every link, stops local media and tells signaling we are
// gone. The manager can join again afterwards.
func (m *Manager) LeaveRoom(ctx context.Context) error {
	wasJoined := false
	if err := m.do(ctx, func() {
		wasJoined = m.state != stateIdle
		m.teardown()
	}); err != nil {
		return err
	}

	if wasJoined {
		if err := m.cfg.Signaler.LeaveRoom(ctx); err != nil {
			m.log.Warn("leave not announced", "error", err)
		}
	}
	return nil
}

// teardown must run on the loop.
func (m *Manager) teardown() {
	m.stopHeartbeatLoop()

	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		m.removePeer(id)
	}
	for id, r := range m.retries {
		r.timer.Stop()
		delete(m.retries, id)
	}
	clear(m.attempts)

	m.screen.Stop()
	m.screen = nil
	m.local.Stop()
	m.local = nil
	m.roomID = ""
	m.state = stateIdle
}

// Peers returns a snapshot of every link, sorted by peer id.
func (m *Manager) Peers(ctx context.Context) ([]PeerInfo, error) {
	var out []PeerInfo
	err := m.do(ctx, func() {
		for _, link := range m.links {
			out = append(out, link.info())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// LocalStream returns the media acquired by the current join, if any.
func (m *Manager) LocalStream(ctx context.Context) (*media.Stream, error) {
	var s *media.Stream
	err := m.do(ctx, func() { s = m.local })
	return s, err
}

// Close leaves the room and stops the manager. It must not be called from
// an event handler.
func (m *Manager) Close() error {
	err := m.LeaveRoom(context.Background())
	if errors.Is(err, ErrManagerClosed) {
		err = nil
	}

	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.loopDone
		m.events.close()
	})
	return err
}

func (m *Manager) isInitiator(peerID string) bool {
	return m.cfg.LocalID < peerID
}

func (m *Manager) sendSignal(t signaling.MessageType, to string, payload any) {
	msg, err := signaling.NewMessage(t, payload)
	if err != nil {
		m.log.Error("failed to encode signal", "type", t, "peer", to, "error", err)
		return
	}
	msg.Sender = m.cfg.LocalID
	msg.Receiver = to
	msg.Room = m.roomID
	m.cfg.Signaler.SendMessage(msg)
}
