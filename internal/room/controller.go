package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/rtc"
)

// Session is one join's worth of signaling and peer connections. A new
// Session is built for every JoinRoom and closed on LeaveRoom.
type Session interface {
	JoinRoom(ctx context.Context, roomID string, c media.Constraints) error
	LeaveRoom(ctx context.Context) error
	StartScreenShare(ctx context.Context) (*media.Stream, error)
	StopScreenShare(ctx context.Context) error
	SendData(ctx context.Context, peerID string, payload []byte) error
	Broadcast(ctx context.Context, payload []byte) error
	Subscribe(h rtc.Handlers) func()
	Close() error
}

// SessionFactory builds the session for one join as identity.
type SessionFactory func(identity Identity) (Session, error)

// ControllerConfig configures a Controller. Store and Sessions are required.
// Identity supplies defaults for every join; an empty ID gets a fresh uuid
// per session.
type ControllerConfig struct {
	Store    Store
	Sessions SessionFactory
	Identity Identity
	Logger   *slog.Logger
}

// JoinOptions override the configured identity for one join and choose the
// local media.
type JoinOptions struct {
	DisplayName string
	Role        Role
	Media       media.Constraints
}

// Controller is the application-facing side of a room: it persists rooms,
// runs one session at a time and keeps the participant list in step with
// the live connections.
type Controller struct {
	store    Store
	sessions SessionFactory
	identity Identity
	log      *slog.Logger
	events   listeners

	mu           sync.Mutex
	joining      bool
	session      Session
	unsubscribe  func()
	room         *Room
	self         Participant
	participants map[string]*Participant
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("room store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session factory is required")
	}
	return &Controller{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		identity: cfg.Identity,
		log:      logging.Component(cfg.Logger, "room"),
	}, nil
}

// Subscribe registers h and returns a function that removes it.
func (c *Controller) Subscribe(h Handlers) func() {
	return c.events.add(h)
}

// CreateRoom validates opts and persists a new waiting room.
func (c *Controller) CreateRoom(ctx context.Context, opts CreateOptions) (*Room, error) {
	if opts.CreatedBy == "" {
		opts.CreatedBy = c.identity.ID
	}
	r, err := NewRoom(opts)
	if err != nil {
		return nil, err
	}

	created, err := c.store.CreateRoom(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	c.log.Info("room created", "room", created.ID, "name", created.Name, "transport", created.Transport)
	return created, nil
}

// JoinRoom fetches roomID, starts a fresh session in it and moves a waiting
// room to active.
func (c *Controller) JoinRoom(ctx context.Context, roomID string, opts JoinOptions) error {
	c.mu.Lock()
	if c.session != nil || c.joining {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.joining = true
	c.mu.Unlock()

	err := c.join(ctx, roomID, opts)

	c.mu.Lock()
	c.joining = false
	c.mu.Unlock()
	return err
}

func (c *Controller) join(ctx context.Context, roomID string, opts JoinOptions) error {
	rec, err := c.store.GetRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("get room %s: %w", roomID, err)
	}
	if rec.Status == StatusEnded {
		return ErrRoomEnded
	}
	if rec.Transport != TransportDirect {
		return fmt.Errorf("%w: %s", ErrUnsupportedTransport, rec.Transport)
	}

	identity, err := c.identityFor(opts)
	if err != nil {
		return err
	}

	session, err := c.sessions(identity)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.mu.Lock()
	c.session = session
	c.room = rec
	c.self = identity.participant(time.Now())
	c.participants = make(map[string]*Participant)
	c.unsubscribe = session.Subscribe(c.sessionHandlers(session))
	c.mu.Unlock()

	if err := session.JoinRoom(ctx, roomID, opts.Media); err != nil {
		c.detach(session)
		_ = session.Close()
		return err
	}

	c.log.Info("joined room", "room", roomID, "participant", identity.ID, "role", identity.Role)
	c.activate(ctx, rec)
	return nil
}

func (c *Controller) identityFor(opts JoinOptions) (Identity, error) {
	identity := c.identity
	if opts.DisplayName != "" {
		identity.DisplayName = opts.DisplayName
	}
	if opts.Role != "" {
		identity.Role = opts.Role
	}

	role, err := ParseRole(string(identity.Role))
	if err != nil {
		return Identity{}, err
	}
	identity.Role = role

	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	return identity, nil
}

// activate moves a waiting room to active when the store can persist it.
func (c *Controller) activate(ctx context.Context, rec *Room) {
	updater, ok := c.store.(StatusUpdater)
	if !ok || rec.Status != StatusWaiting {
		return
	}

	updated, err := updater.UpdateRoomStatus(ctx, rec.ID, StatusActive)
	if err != nil {
		c.log.Warn("failed to activate room", "room", rec.ID, "error", err)
		return
	}

	c.mu.Lock()
	if c.room != nil && c.room.ID == updated.ID {
		c.room = updated
	}
	c.mu.Unlock()
}

// detach forgets session if it is still the current one.
func (c *Controller) detach(session Session) bool {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return false
	}
	unsubscribe := c.unsubscribe
	c.session = nil
	c.unsubscribe = nil
	c.room = nil
	c.self = Participant{}
	c.participants = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return true
}

// LeaveRoom ends the current session and clears the participant list. It
// is a no-op without a session.
func (c *Controller) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session == nil || !c.detach(session) {
		return nil
	}

	leaveErr := session.LeaveRoom(ctx)
	closeErr := session.Close()
	c.log.Info("left room")
	return errors.Join(leaveErr, closeErr)
}

func (c *Controller) current() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrNoSession
	}
	return c.session, nil
}

func (c *Controller) StartScreenShare(ctx context.Context) (*media.Stream, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.StartScreenShare(ctx)
}

func (c *Controller) StopScreenShare(ctx context.Context) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return s.StopScreenShare(ctx)
}

// SendData sends application data to one participant.
func (c *Controller) SendData(ctx context.Context, peerID string, data []byte) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	b, err := encodeApp(data)
	if err != nil {
		return err
	}
	return s.SendData(ctx, peerID, b)
}

// Broadcast sends application data to every connected participant.
func (c *Controller) Broadcast(ctx context.Context, data []byte) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	b, err := encodeApp(data)
	if err != nil {
		return err
	}
	return s.Broadcast(ctx, b)
}

// Participants returns the remote participants ordered by join time.
func (c *Controller) Participants() []Participant {
	c.mu.Lock()
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Self returns the local participant. It is the zero value between sessions.
func (c *Controller) Self() Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Room returns the room of the current session, or nil.
func (c *Controller) Room() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil
	}
	r := *c.room
	return &r
}

// sessionHandlers binds session events to participant bookkeeping. Events
// from a session that is no longer current are dropped.
func (c *Controller) sessionHandlers(session Session) rtc.Handlers {
	return rtc.Handlers{
		LocalStream: func(e rtc.LocalStreamEvent) {
			if c.isCurrent(session) {
				c.events.emit(LocalStreamEvent{Stream: e.Stream})
			}
		},
		RemoteStream: func(e rtc.RemoteStreamEvent) {
			if c.isCurrent(session) {
				c.events.emit(RemoteStreamEvent{
					From:     e.PeerID,
					Track:    e.Track,
					Kind:     e.Kind,
					Source:   e.Source,
					Replaced: e.Replaced,
				})
			}
		},
		PeerConnected:    func(e rtc.PeerConnectedEvent) { c.peerConnected(session, e.PeerID) },
		PeerDisconnected: func(e rtc.PeerDisconnectedEvent) { c.peerGone(session, e.PeerID) },
		ConnectionState:  func(e rtc.ConnectionStateEvent) { c.connectionState(session, e.PeerID, e.State) },
		Data:             func(e rtc.DataEvent) { c.data(session, e.PeerID, e.Payload) },
		ScreenShareStarted: func(e rtc.ScreenShareStartedEvent) {
			if c.isCurrent(session) {
				c.events.emit(ScreenShareStartedEvent{Stream: e.Stream})
			}
		},
		ScreenShareStopped: func(rtc.ScreenShareStoppedEvent) {
			if c.isCurrent(session) {
				c.events.emit(ScreenShareStoppedEvent{})
			}
		},
	}
}

func (c *Controller) isCurrent(session Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == session
}

// peerConnected materialises the participant and tells it who we are.
func (c *Controller) peerConnected(session Session, peerID string) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	p, existed := c.participants[peerID]
	if !existed {
		p = &Participant{ID: peerID, Role: RoleParticipant, JoinedAt: time.Now()}
		c.participants[peerID] = p
	}
	p.Status = PresenceActive
	snapshot := *p
	self := c.self
	c.mu.Unlock()

	if existed {
		c.events.emit(ParticipantUpdatedEvent{Participant: snapshot})
	} else {
		c.log.Info("participant joined", "participant", peerID)
		c.events.emit(ParticipantJoinedEvent{Participant: snapshot})
	}

	b, err := encodeParticipant(self)
	if err != nil {
		c.log.Error("failed to encode participant", "error", err)
		return
	}
	if err := session.SendData(context.Background(), peerID, b); err != nil {
		c.log.Warn("failed to announce participant", "participant", peerID, "error", err)
	}
}

func (c *Controller) peerGone(session Session, peerID string) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	p, ok := c.participants[peerID]
	if ok {
		delete(c.participants, peerID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	now := time.Now()
	p.LeftAt = &now
	p.Status = PresenceInactive

	c.log.Info("participant left", "participant", peerID)
	c.events.emit(ParticipantLeftEvent{Participant: *p})
}

func (c *Controller) connectionState(session Session, peerID string, state webrtc.PeerConnectionState) {
	var status Presence
	switch state {
	case webrtc.PeerConnectionStateConnected:
		status = PresenceActive
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		status = PresenceInactive
	default:
		return
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	p, ok := c.participants[peerID]
	if !ok || p.Status == status {
		c.mu.Unlock()
		return
	}
	p.Status = status
	snapshot := *p
	c.mu.Unlock()

	c.events.emit(ParticipantUpdatedEvent{Participant: snapshot})
}

func (c *Controller) data(session Session, peerID string, payload []byte) {
	if !c.isCurrent(session) {
		return
	}

	msg, err := decodePeerPayload(payload)
	if err != nil {
		c.log.Warn("invalid peer payload", "participant", peerID, "error", err)
		return
	}

	switch msg.Kind {
	case payloadParticipant:
		if msg.Participant != nil {
			c.participantRecord(session, peerID, *msg.Participant)
		}
	case payloadApp:
		c.events.emit(DataEvent{From: peerID, Payload: msg.Data})
	default:
		c.log.Debug("unknown peer payload", "participant", peerID, "kind", msg.Kind)
	}
}

// participantRecord applies a record a peer sent about itself. The sender's
// id always wins over whatever id the record claims.
func (c *Controller) participantRecord(session Session, peerID string, rec Participant) {
	role, err := ParseRole(string(rec.Role))
	if err != nil {
		role = RoleParticipant
	}

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	p, existed := c.participants[peerID]
	if !existed {
		p = &Participant{ID: peerID, Status: PresenceActive, JoinedAt: time.Now()}
		c.participants[peerID] = p
	}
	p.DisplayName = rec.DisplayName
	p.Role = role
	snapshot := *p
	c.mu.Unlock()

	if existed {
		c.events.emit(ParticipantUpdatedEvent{Participant: snapshot})
	} else {
		c.events.emit(ParticipantJoinedEvent{Participant: snapshot})
	}
}
