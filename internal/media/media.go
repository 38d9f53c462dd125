// Package media models the local media a participant publishes: tracks,
// the streams that group them, and the sources that produce them.
package media

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	ErrPermissionDenied   = errors.New("media permission denied")
	ErrNoTracksRequested  = errors.New("at least one of audio or video must be requested")
	ErrTrackEnded         = errors.New("track has ended")
	ErrNoDisplayAvailable = errors.New("no display available for capture")
)

// ReadyState mirrors a capture track's lifecycle.
type ReadyState int

const (
	TrackLive ReadyState = iota
	TrackEnded
)

func (s ReadyState) String() string {
	if s == TrackEnded {
		return "ended"
	}
	return "live"
}

// SourceKind tells camera and microphone tracks apart from screen capture.
type SourceKind string

const (
	SourceCamera     SourceKind = "camera"
	SourceMicrophone SourceKind = "microphone"
	SourceScreen     SourceKind = "screen"
)

// VideoSettings narrow a video request.
type VideoSettings struct {
	Width     int
	Height    int
	FrameRate float64
}

// Constraints select which tracks to acquire. Video is requested when
// Video is true or VideoSettings is set.
type Constraints struct {
	Audio         bool
	Video         bool
	VideoSettings *VideoSettings
}

// WantsVideo reports whether a video track is requested.
func (c Constraints) WantsVideo() bool {
	return c.Video || c.VideoSettings != nil
}

// Validate rejects requests for nothing.
func (c Constraints) Validate() error {
	if !c.Audio && !c.WantsVideo() {
		return ErrNoTracksRequested
	}
	return nil
}

// Source acquires local media.
type Source interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
}

// Track is one local capture track backed by a pion sample track. Every peer
// connection publishing it shares the same Track value.
type Track struct {
	local  *webrtc.TrackLocalStaticSample
	kind   webrtc.RTPCodecType
	source SourceKind

	mu      sync.Mutex
	state   ReadyState
	onEnded []func()
}

// NewTrack creates a live track for codec, grouped under streamID.
func NewTrack(kind webrtc.RTPCodecType, source SourceKind, codec webrtc.RTPCodecCapability, streamID string) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(codec, string(source)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &Track{local: local, kind: kind, source: source}, nil
}

// Local is the pion track handed to RTP senders.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Source() SourceKind        { return t.source }

func (t *Track) ReadyState() ReadyState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnEnded registers fn to run once when the track stops. If the track has
// already ended fn runs immediately.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	if t.state == TrackEnded {
		t.mu.Unlock()
		fn()
		return
	}
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// Stop ends the track. Further calls are no-ops.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.state == TrackEnded {
		t.mu.Unlock()
		return
	}
	t.state = TrackEnded
	callbacks := t.onEnded
	t.onEnded = nil
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// WriteSample pushes encoded media to every sender bound to the track.
func (t *Track) WriteSample(s pionmedia.Sample) error {
	if t.ReadyState() == TrackEnded {
		return ErrTrackEnded
	}
	return t.local.WriteSample(s)
}

// Stream groups the tracks returned by one acquisition.
type Stream struct {
	ID     string
	tracks []*Track
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{ID: id, tracks: tracks}
}

func (s *Stream) Tracks() []*Track {
	if s == nil {
		return nil
	}
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// Track returns the first track of kind, or nil.
func (s *Stream) Track(kind webrtc.RTPCodecType) *Track {
	if s == nil {
		return nil
	}
	for _, t := range s.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Stop ends every track in the stream.
func (s *Stream) Stop() {
	if s == nil {
		return
	}
	for _, t := range s.tracks {
		t.Stop()
	}
}

// Ended reports whether every track has stopped.
func (s *Stream) Ended() bool {
	for _, t := range s.tracks {
		if t.ReadyState() != TrackEnded {
			return false
		}
	}
	return true
}
