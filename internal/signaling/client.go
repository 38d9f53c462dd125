package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/dns"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	outgoingBuffer = 64
)

// Reconnection and join defaults.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = time.Second
	DefaultJoinTimeout          = 10 * time.Second
	DefaultDialTimeout          = 10 * time.Second
)

var (
	ErrJoinRejected = errors.New("join rejected")
	ErrJoinTimeout  = errors.New("join acknowledgement timed out")
	ErrNotConnected = errors.New("signaling client not connected")
	ErrClosed       = errors.New("signaling client closed")
)

// State is the connection state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Options configure a Client. Zero values take the package defaults.
type Options struct {
	URL                  string
	LocalID              string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	JoinTimeout          time.Duration
	DialTimeout          time.Duration
	Dialer               *websocket.Dialer
	Logger               *slog.Logger
}

// connection is one websocket session. A reconnect creates a new one.
type connection struct {
	ws       *websocket.Conn
	outgoing chan *Message
	done     chan struct{}
	once     sync.Once
}

func (cn *connection) shutdown() {
	cn.once.Do(func() { close(cn.done) })
}

// Client manages the WebSocket connection to the signaling server.
type Client struct {
	opts   Options
	log    *slog.Logger
	routes map[MessageType]func(*Message)
	subs   subscribers

	dialMu sync.Mutex

	mu            sync.Mutex
	conn          *connection
	state         State
	localID       string
	room          string
	pendingJoin   chan RosterPayload
	stopReconnect chan struct{}
	closed        bool
}

// NewClient creates a new signaling client
func NewClient(opts Options) *Client {
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.DialTimeout,
			NetDialContext:   dns.NewResolver().DialContext,
		}
	}

	c := &Client{
		opts:    opts,
		log:     logging.Component(opts.Logger, "signaling").With("local", opts.LocalID),
		localID: opts.LocalID,
	}
	c.routes = c.routeTable()
	return c
}

// Subscribe registers a handler table and returns a func that removes it.
func (c *Client) Subscribe(h Handlers) func() {
	return c.subs.add(h)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LocalID returns the participant id stamped on outbound messages.
func (c *Client) LocalID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

// Connect establishes the WebSocket connection. It returns immediately when
// already connected and cancels any automatic reconnection in progress.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.cancelReconnectLocked()
	c.closed = false
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dial(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.log.Info("signaling connected", "url", c.opts.URL)
	c.emitConnected()
	return nil
}

// dial must be called with dialMu held.
func (c *Client) dial(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	cn := &connection{
		ws:       ws,
		outgoing: make(chan *Message, outgoingBuffer),
		done:     make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.conn = cn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readPump(cn)
	go c.writePump(cn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump(cn *connection) {
	defer cn.ws.Close()

	cn.ws.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.connectionLost(cn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("dropping malformed message", "error", err)
			continue
		}
		c.dispatch(&msg)
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump(cn *connection) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		cn.ws.Close()
	}()

	for {
		select {
		case msg := <-cn.outgoing:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteJSON(msg); err != nil {
				c.connectionLost(cn, err)
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.connectionLost(cn, err)
				return
			}

		case <-cn.done:
			c.flush(cn)
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			cn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued so a final leave is not lost on Close.
func (c *Client) flush(cn *connection) {
	for {
		select {
		case msg := <-cn.outgoing:
			cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// connectionLost handles a read or write failure on cn. Failures of a
// connection that was already replaced or closed are ignored.
func (c *Client) connectionLost(cn *connection, err error) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	cn.shutdown()
	c.failPendingJoinLocked("connection lost")

	if c.closed {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	stop := make(chan struct{})
	c.stopReconnect = stop
	c.state = StateReconnecting
	c.mu.Unlock()

	c.log.Warn("signaling connection lost", "error", err)
	c.emitDisconnected(err)

	go c.reconnectLoop(stop)
}

// reconnectLoop retries the connection with linearly increasing delay and
// rejoins the previous room on success.
func (c *Client) reconnectLoop(stop chan struct{}) {
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		timer := time.NewTimer(time.Duration(attempt) * c.opts.ReconnectDelay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.dialMu.Lock()
		select {
		case <-stop:
			c.dialMu.Unlock()
			return
		default:
		}
		err := c.dial(context.Background())
		c.dialMu.Unlock()

		if err != nil {
			c.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.stopReconnect == stop {
			c.stopReconnect = nil
		}
		room := c.room
		c.mu.Unlock()

		c.log.Info("signaling reconnected", "attempt", attempt)
		c.emitConnected()
		if room != "" {
			c.rejoin(room)
		}
		c.emitReconnected()
		return
	}

	c.mu.Lock()
	if c.stopReconnect == stop {
		c.stopReconnect = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.log.Error("signaling reconnect failed", "attempts", c.opts.MaxReconnectAttempts)
	c.emitReconnectFailed()
}

func (c *Client) rejoin(room string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.JoinTimeout)
	defer cancel()

	payload, err := c.join(ctx, room)
	if err != nil {
		c.log.Warn("rejoin after reconnect failed", "room", room, "error", err)
		return
	}

	roster := Roster{Room: room, Participants: payload.Participants}
	c.subs.each(func(h Handlers) {
		if h.Roster != nil {
			h.Roster(roster)
		}
	})
}

func (c *Client) cancelReconnectLocked() {
	if c.stopReconnect != nil {
		close(c.stopReconnect)
		c.stopReconnect = nil
	}
}

func (c *Client) failPendingJoinLocked(reason string) {
	if c.pendingJoin != nil {
		c.pendingJoin <- RosterPayload{Success: false, Error: reason}
		c.pendingJoin = nil
	}
}

// JoinRoom sends a join request and waits for the server's acknowledgement,
// returning the ids of the participants already in the room.
func (c *Client) JoinRoom(ctx context.Context, roomID, participantID string) ([]string, error) {
	if roomID == "" {
		return nil, fmt.Errorf("%w: room id is required", ErrJoinRejected)
	}

	c.mu.Lock()
	if participantID != "" {
		c.localID = participantID
	}
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	payload, err := c.join(ctx, roomID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.room = roomID
	c.mu.Unlock()

	c.log.Info("joined room", "room", roomID, "participants", len(payload.Participants))
	return payload.Participants, nil
}

func (c *Client) join(ctx context.Context, roomID string) (RosterPayload, error) {
	ack := make(chan RosterPayload, 1)

	c.mu.Lock()
	cn := c.conn
	if cn == nil {
		c.mu.Unlock()
		return RosterPayload{}, ErrNotConnected
	}
	c.failPendingJoinLocked("superseded by a newer join")
	c.pendingJoin = ack
	msg := &Message{Type: TypeJoin, Sender: c.localID, Room: roomID}
	c.mu.Unlock()

	clearPending := func() {
		c.mu.Lock()
		if c.pendingJoin == ack {
			c.pendingJoin = nil
		}
		c.mu.Unlock()
	}

	if !enqueue(cn, msg) {
		clearPending()
		return RosterPayload{}, ErrNotConnected
	}

	timer := time.NewTimer(c.opts.JoinTimeout)
	defer timer.Stop()

	select {
	case payload := <-ack:
		if !payload.Success {
			return payload, fmt.Errorf("%w: %s", ErrJoinRejected, payload.Error)
		}
		return payload, nil
	case <-timer.C:
		clearPending()
		return RosterPayload{}, ErrJoinTimeout
	case <-ctx.Done():
		clearPending()
		return RosterPayload{}, ctx.Err()
	}
}

// LeaveRoom tells the server we are leaving. It never fails: if the
// transport is already down there is nobody to tell.
func (c *Client) LeaveRoom(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.room = ""
	cn := c.conn
	msg := &Message{Type: TypeLeave, Sender: c.localID, Room: room}
	c.mu.Unlock()

	if cn == nil || room == "" {
		return nil
	}
	if !enqueue(cn, msg) {
		c.log.Debug("leave not delivered", "room", room)
	}
	return nil
}

// SendMessage stamps the local id as sender and queues msg for delivery.
// When the client is not connected the message is dropped with a warning.
func (c *Client) SendMessage(msg *Message) {
	out := *msg

	c.mu.Lock()
	cn := c.conn
	out.Sender = c.localID
	if out.Room == "" {
		out.Room = c.room
	}
	c.mu.Unlock()

	if cn == nil {
		c.log.Warn("signaling not connected, dropping message", "type", out.Type, "receiver", out.Receiver)
		return
	}
	if !enqueue(cn, &out) {
		c.log.Warn("signaling queue unavailable, dropping message", "type", out.Type, "receiver", out.Receiver)
	}
}

func enqueue(cn *connection, msg *Message) bool {
	select {
	case <-cn.done:
		return false
	default:
	}

	select {
	case cn.outgoing <- msg:
		return true
	default:
		return false
	}
}

// Close closes the WebSocket connection and stops any reconnection. An
// explicit close never triggers reconnection.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.cancelReconnectLocked()
	cn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.failPendingJoinLocked("client closed")
	c.mu.Unlock()

	if cn != nil {
		cn.shutdown()
	}
}
