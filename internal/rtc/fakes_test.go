package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

var testICE = webrtc.Configuration{
	ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
}

// fakeNet hands out fakePeers and remembers them in creation order.
type fakeNet struct {
	mu          sync.Mutex
	peers       []*fakePeer
	autoConnect bool
	fail        error
}

func (n *fakeNet) factory(webrtc.Configuration) (PeerConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	p := &fakePeer{id: len(n.peers) + 1, autoConnect: n.autoConnect}
	n.peers = append(n.peers, p)
	return p, nil
}

// count reports how many connections the manager has finished wiring.
func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	wired := 0
	for _, p := range n.peers {
		if p.wired() {
			wired++
		}
	}
	return wired
}

func (n *fakeNet) setFail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

func (n *fakeNet) peer(i int) *fakePeer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[i]
}

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

type fakeChannel struct {
	mu        sync.Mutex
	label     string
	state     webrtc.DataChannelState
	sent      [][]byte
	failSend  bool
	remote    *fakeChannel
	onOpen    func()
	onMessage func([]byte)
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.failSend {
		c.mu.Unlock()
		return errors.New("send failed")
	}
	if c.state != webrtc.DataChannelStateOpen {
		c.mu.Unlock()
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	remote := c.remote
	c.mu.Unlock()

	if remote != nil {
		remote.receive(data)
	}
	return nil
}

func (c *fakeChannel) OnOpen(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen = fn
}

func (c *fakeChannel) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = webrtc.DataChannelStateClosed
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	c.state = webrtc.DataChannelStateOpen
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *fakeChannel) receive(data []byte) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), data...))
	}
}

func (c *fakeChannel) setFailSend(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = v
}

// frames decodes everything sent on the channel.
func (c *fakeChannel) frames(t *testing.T) []Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Message
	for _, b := range c.sent {
		msg, err := decodeMessage(b)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

type fakeRemoteTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t fakeRemoteTrack) ID() string                { return t.id }
func (t fakeRemoteTrack) StreamID() string          { return "stream-" + t.id }
func (t fakeRemoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

// fakePeer records what the manager does with a connection. With
// autoConnect it reports connected once both descriptions are set.
type fakePeer struct {
	mu          sync.Mutex
	id          int
	autoConnect bool
	connected   bool
	closed      bool

	senders    []*fakeSender
	channels   []*fakeChannel
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	offers     int
	restarts   int

	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(RemoteTrack)
	onState    func(webrtc.PeerConnectionState)
	onICEState func(webrtc.ICEConnectionState)
	onNeg      func()
}

func (p *fakePeer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSender{track: track}
	p.senders = append(p.senders, s)
	return s, nil
}

func (p *fakePeer) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &fakeChannel{label: label, state: webrtc.DataChannelStateConnecting}
	p.channels = append(p.channels, c)
	return c, nil
}

func (p *fakePeer) CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	if opts != nil && opts.ICERestart {
		p.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", p.id, p.offers)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", p.id)}, nil
}

func (p *fakePeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.local = &desc
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	p.remote = &desc
	p.mu.Unlock()
	p.maybeConnect()
	return nil
}

func (p *fakePeer) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *fakePeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICEState = fn
}

func (p *fakePeer) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNeg = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fn := p.onState
	p.mu.Unlock()

	if fn != nil {
		go fn(webrtc.PeerConnectionStateClosed)
	}
	return nil
}

func (p *fakePeer) maybeConnect() {
	p.mu.Lock()
	ready := p.autoConnect && !p.connected && p.local != nil && p.remote != nil
	if ready {
		p.connected = true
	}
	p.mu.Unlock()

	if ready {
		go p.connect()
	}
}

// connect opens the data channel and reports the connection as up.
func (p *fakePeer) connect() {
	p.channel().open()
	p.fireState(webrtc.PeerConnectionStateConnected)
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) fireICEState(s webrtc.ICEConnectionState) {
	p.mu.Lock()
	fn := p.onICEState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) fireTrack(t RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn(t)
}

func (p *fakePeer) fireCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	fn(c)
}

func (p *fakePeer) channel() *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[0]
}

func (p *fakePeer) sender(kind webrtc.RTPCodecType) *fakeSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.senders {
		if s.Track().Kind() == kind {
			return s
		}
	}
	return nil
}

// wired reports whether the manager has attached its channel handlers,
// the last step of building a link.
func (p *fakePeer) wired() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return false
	}
	c := p.channels[0]
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onMessage != nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) stats() (offers, restarts, candidates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offers, p.restarts, len(p.candidates)
}

// fakeSignaler records outbound signaling and answers joins with a fixed
// roster.
type fakeSignaler struct {
	mu      sync.Mutex
	sent    []*signaling.Message
	roster  []string
	joinErr error
	onJoin  func()
	joins   int
	leaves  int
}

func (s *fakeSignaler) SendMessage(msg *signaling.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *msg
	s.sent = append(s.sent, &out)
}

func (s *fakeSignaler) JoinRoom(context.Context, string, string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joins++
	if s.onJoin != nil {
		s.onJoin()
	}
	if s.joinErr != nil {
		return nil, s.joinErr
	}
	return append([]string(nil), s.roster...), nil
}

func (s *fakeSignaler) LeaveRoom(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaves++
	return nil
}

func (s *fakeSignaler) messages(t signaling.MessageType, to string) []*signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*signaling.Message
	for _, m := range s.sent {
		if m.Type == t && (to == "" || m.Receiver == to) {
			out = append(out, m)
		}
	}
	return out
}

func (s *fakeSignaler) leaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves
}

// recordingSource remembers the constraints it was asked for.
type recordingSource struct {
	*media.SyntheticSource

	mu  sync.Mutex
	got []media.Constraints
	err error
}

func (s *recordingSource) UserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	s.mu.Lock()
	s.got = append(s.got, c)
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.SyntheticSource.UserMedia(ctx, c)
}

func (s *recordingSource) requests() []media.Constraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Constraints(nil), s.got...)
}

func (s *recordingSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// recorder collects every event a manager emits.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(m *Manager) *recorder {
	r := &recorder{}
	m.Subscribe(Handlers{
		LocalStream:        func(e LocalStreamEvent) { r.add(e) },
		RemoteStream:       func(e RemoteStreamEvent) { r.add(e) },
		PeerConnected:      func(e PeerConnectedEvent) { r.add(e) },
		PeerDisconnected:   func(e PeerDisconnectedEvent) { r.add(e) },
		ConnectionState:    func(e ConnectionStateEvent) { r.add(e) },
		Data:               func(e DataEvent) { r.add(e) },
		ScreenShareStarted: func(e ScreenShareStartedEvent) { r.add(e) },
		ScreenShareStopped: func(e ScreenShareStoppedEvent) { r.add(e) },
	})
	return r
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func eventsOf[T Event](r *recorder) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []T
	for _, e := range r.events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type harness struct {
	m   *Manager
	net *fakeNet
	sig *fakeSignaler
	src *recordingSource
	rec *recorder
}

func newHarness(t *testing.T, id string, tweak func(*Config)) *harness {
	t.Helper()

	h := &harness{
		net: &fakeNet{},
		sig: &fakeSignaler{},
		src: &recordingSource{SyntheticSource: media.NewSyntheticSource()},
	}
	cfg := Config{
		LocalID:           id,
		WebRTC:            testICE,
		Signaler:          h.sig,
		Media:             h.src,
		Factory:           h.net.factory,
		Logger:            slog.New(slog.DiscardHandler),
		HeartbeatInterval: time.Hour,
		ReconnectBackoff:  5 * time.Millisecond,
		ConnectTimeout:    time.Minute,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	h.m = m
	h.rec = record(m)
	return h
}

// join enters room-1 with audio and video and the given roster.
func (h *harness) join(t *testing.T, roster ...string) {
	t.Helper()
	h.sig.mu.Lock()
	h.sig.roster = roster
	h.sig.mu.Unlock()
	if err := h.m.JoinRoom(context.Background(), "room-1", media.Constraints{Audio: true, Video: true}); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
}

func (h *harness) attempts(t *testing.T, peerID string) int {
	t.Helper()
	var n int
	if err := h.m.do(context.Background(), func() { n = h.m.attempts[peerID] }); err != nil {
		t.Fatalf("read attempts: %v", err)
	}
	return n
}

func (h *harness) signal(t *testing.T, msg *signaling.Message) {
	t.Helper()
	if err := h.m.HandleSignalingMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleSignalingMessage(%s from %s): %v", msg.Type, msg.Sender, err)
	}
}

func (h *harness) peers(t *testing.T) []PeerInfo {
	t.Helper()
	peers, err := h.m.Peers(context.Background())
	if err != nil {
		t.Fatalf("Peers: %v", err)
	}
	return peers
}

func signalMsg(t *testing.T, typ signaling.MessageType, from, to string, payload any) *signaling.Message {
	t.Helper()
	msg, err := signaling.NewMessage(typ, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	msg.Sender = from
	msg.Receiver = to
	msg.Room = "room-1"
	return msg
}

func frame(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	b, err := encodeMessage(typ, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
