package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
)

// Event is one of the notifications a Manager emits.
type Event interface {
	event()
}

// LocalStreamEvent fires once per successful JoinRoom with the acquired media.
type LocalStreamEvent struct {
	Stream *media.Stream
}

// RemoteStreamEvent fires when a remote track arrives, and again with
// Replaced set when the remote side swaps the track behind an existing sender.
type RemoteStreamEvent struct {
	PeerID   string
	Track    RemoteTrack
	Kind     webrtc.RTPCodecType
	Source   media.SourceKind
	Replaced bool
}

type PeerConnectedEvent struct {
	PeerID string
}

type PeerDisconnectedEvent struct {
	PeerID string
}

type ConnectionStateEvent struct {
	PeerID string
	State  webrtc.PeerConnectionState
}

// DataEvent carries an application payload received from a peer.
// Heartbeats never surface here.
type DataEvent struct {
	PeerID  string
	Payload []byte
}

type ScreenShareStartedEvent struct {
	Stream *media.Stream
}

type ScreenShareStoppedEvent struct{}

func (LocalStreamEvent) event()        {}
func (RemoteStreamEvent) event()       {}
func (PeerConnectedEvent) event()      {}
func (PeerDisconnectedEvent) event()   {}
func (ConnectionStateEvent) event()    {}
func (DataEvent) event()               {}
func (ScreenShareStartedEvent) event() {}
func (ScreenShareStoppedEvent) event() {}

// Handlers is a table of optional callbacks, one per event kind.
type Handlers struct {
	LocalStream        func(LocalStreamEvent)
	RemoteStream       func(RemoteStreamEvent)
	PeerConnected      func(PeerConnectedEvent)
	PeerDisconnected   func(PeerDisconnectedEvent)
	ConnectionState    func(ConnectionStateEvent)
	Data               func(DataEvent)
	ScreenShareStarted func(ScreenShareStartedEvent)
	ScreenShareStopped func(ScreenShareStoppedEvent)
}

// Dispatch calls the handler registered for ev's kind, if any.
func (h Handlers) Dispatch(ev Event) {
	switch e := ev.(type) {
	case LocalStreamEvent:
		if h.LocalStream != nil {
			h.LocalStream(e)
		}
	case RemoteStreamEvent:
		if h.RemoteStream != nil {
			h.RemoteStream(e)
		}
	case PeerConnectedEvent:
		if h.PeerConnected != nil {
			h.PeerConnected(e)
		}
	case PeerDisconnectedEvent:
		if h.PeerDisconnected != nil {
			h.PeerDisconnected(e)
		}
	case ConnectionStateEvent:
		if h.ConnectionState != nil {
			h.ConnectionState(e)
		}
	case DataEvent:
		if h.Data != nil {
			h.Data(e)
		}
	case ScreenShareStartedEvent:
		if h.ScreenShareStarted != nil {
			h.ScreenShareStarted(e)
		}
	case ScreenShareStoppedEvent:
		if h.ScreenShareStopped != nil {
			h.ScreenShareStopped(e)
		}
	}
}

type subscription struct {
	id       int
	handlers Handlers
}

// emitter delivers events in order on its own goroutine so handlers may call
// back into the Manager.
type emitter struct {
	mu     sync.Mutex
	queue  []Event
	subs   []subscription
	nextID int
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newEmitter() *emitter {
	e := &emitter{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *emitter) subscribe(h Handlers) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription{id: id, handlers: h})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()

	e.signal()
}

func (e *emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *emitter) run() {
	defer close(e.done)

	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		batch := e.queue
		e.queue = nil
		subs := make([]subscription, len(e.subs))
		copy(subs, e.subs)
		e.mu.Unlock()

		for _, ev := range batch {
			for _, s := range subs {
				s.handlers.Dispatch(ev)
			}
		}
	}
}

// close stops accepting events. Already queued events are still delivered.
func (e *emitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
}
