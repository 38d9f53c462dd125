package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// Codecs used by SyntheticSource.
var (
	OpusCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	VP8Codec  = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceInterval = 20 * time.Millisecond

// SyntheticSource produces tracks without touching capture hardware, which
// is what a headless client has. Audio tracks carry Opus silence so remote
// jitter buffers stay primed; video tracks stay idle until something writes
// samples.
type SyntheticSource struct {
	// AllowDisplay controls whether DisplayMedia succeeds.
	AllowDisplay bool

	wg sync.WaitGroup
}

func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{AllowDisplay: true}
}

func (s *SyntheticSource) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	var tracks []*Track

	if c.Audio {
		audio, err := NewTrack(webrtc.RTPCodecTypeAudio, SourceMicrophone, OpusCodec, streamID)
		if err != nil {
			return nil, err
		}
		s.pumpSilence(audio)
		tracks = append(tracks, audio)
	}
	if c.WantsVideo() {
		video, err := NewTrack(webrtc.RTPCodecTypeVideo, SourceCamera, VP8Codec, streamID)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, video)
	}

	return NewStream(streamID, tracks...), nil
}

func (s *SyntheticSource) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.AllowDisplay {
		return nil, ErrNoDisplayAvailable
	}

	streamID := uuid.NewString()
	screen, err := NewTrack(webrtc.RTPCodecTypeVideo, SourceScreen, VP8Codec, streamID)
	if err != nil {
		return nil, err
	}
	return NewStream(streamID, screen), nil
}

func (s *SyntheticSource) pumpSilence(t *Track) {
	done := make(chan struct{})
	t.OnEnded(func() { close(done) })

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(silenceInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := t.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: silenceInterval}); err != nil {
					return
				}
			}
		}
	}()
}

// Wait blocks until every silence pump has exited. Pumps exit when their
// track stops.
func (s *SyntheticSource) Wait() {
	s.wg.Wait()
}
