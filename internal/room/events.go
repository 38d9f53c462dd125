package room

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/rtc"
)

// Event is one of the notifications a Controller emits.
type Event interface {
	event()
}

type ParticipantJoinedEvent struct {
	Participant Participant
}

type ParticipantUpdatedEvent struct {
	Participant Participant
}

type ParticipantLeftEvent struct {
	Participant Participant
}

// DataEvent is application data received from a participant.
type DataEvent struct {
	From    string
	Payload []byte
}

type LocalStreamEvent struct {
	Stream *media.Stream
}

// RemoteStreamEvent reports media arriving from a participant, or a track
// swap behind an existing sender when Replaced is set.
type RemoteStreamEvent struct {
	From     string
	Track    rtc.RemoteTrack
	Kind     webrtc.RTPCodecType
	Source   media.SourceKind
	Replaced bool
}

type ScreenShareStartedEvent struct {
	Stream *media.Stream
}

type ScreenShareStoppedEvent struct{}

func (ParticipantJoinedEvent) event()  {}
func (ParticipantUpdatedEvent) event() {}
func (ParticipantLeftEvent) event()    {}
func (DataEvent) event()               {}
func (LocalStreamEvent) event()        {}
func (RemoteStreamEvent) event()       {}
func (ScreenShareStartedEvent) event() {}
func (ScreenShareStoppedEvent) event() {}

// Handlers is the controller's per-kind handler table.
type Handlers struct {
	ParticipantJoined  func(ParticipantJoinedEvent)
	ParticipantUpdated func(ParticipantUpdatedEvent)
	ParticipantLeft    func(ParticipantLeftEvent)
	Data               func(DataEvent)
	LocalStream        func(LocalStreamEvent)
	RemoteStream       func(RemoteStreamEvent)
	ScreenShareStarted func(ScreenShareStartedEvent)
	ScreenShareStopped func(ScreenShareStoppedEvent)
}

// Dispatch calls the handler registered for ev's kind, if any.
func (h Handlers) Dispatch(ev Event) {
	switch e := ev.(type) {
	case ParticipantJoinedEvent:
		if h.ParticipantJoined != nil {
			h.ParticipantJoined(e)
		}
	case ParticipantUpdatedEvent:
		if h.ParticipantUpdated != nil {
			h.ParticipantUpdated(e)
		}
	case ParticipantLeftEvent:
		if h.ParticipantLeft != nil {
			h.ParticipantLeft(e)
		}
	case DataEvent:
		if h.Data != nil {
			h.Data(e)
		}
	case LocalStreamEvent:
		if h.LocalStream != nil {
			h.LocalStream(e)
		}
	case RemoteStreamEvent:
		if h.RemoteStream != nil {
			h.RemoteStream(e)
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

type listeners struct {
	mu   sync.Mutex
	next int
	subs map[int]Handlers
}

func (l *listeners) add(h Handlers) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[int]Handlers)
	}
	id := l.next
	l.next++
	l.subs[id] = h
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *listeners) emit(ev Event) {
	l.mu.Lock()
	list := make([]Handlers, 0, len(l.subs))
	for i := 0; i < l.next; i++ {
		if h, ok := l.subs[i]; ok {
			list = append(list, h)
		}
	}
	l.mu.Unlock()

	for _, h := range list {
		h.Dispatch(ev)
	}
}
