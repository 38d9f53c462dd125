package rtc

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
)

var errNoDisplayTrack = errors.New("display capture returned no video track")

// StartScreenShare captures the display and swaps it in for the camera on
// every link. The connections are not renegotiated. Calling it while a share
// is running returns the running stream.
func (m *Manager) StartScreenShare(ctx context.Context) (*media.Stream, error) {
	var (
		joined  bool
		running *media.Stream
	)
	if err := m.do(ctx, func() {
		joined = m.state == stateActive
		running = m.screen
	}); err != nil {
		return nil, err
	}
	if !joined {
		return nil, NewError("start screen share", ErrNotInRoom)
	}
	if running != nil {
		return running, nil
	}

	stream, err := m.cfg.Media.DisplayMedia(ctx)
	if err != nil {
		return nil, NewError("acquire display media", err)
	}
	track := stream.Track(webrtc.RTPCodecTypeVideo)
	if track == nil {
		stream.Stop()
		return nil, NewError("start screen share", errNoDisplayTrack)
	}

	var applyErr error
	if err := m.do(ctx, func() {
		switch {
		case m.state != stateActive:
			applyErr = NewError("start screen share", ErrNotInRoom)
		case m.screen != nil:
			running = m.screen
		default:
			m.screen = stream
			m.replaceVideo(track.Local())
			m.announceTrack(media.SourceScreen)
			m.events.emit(ScreenShareStartedEvent{Stream: stream})
		}
	}); err != nil {
		stream.Stop()
		return nil, err
	}
	if applyErr != nil {
		stream.Stop()
		return nil, applyErr
	}
	if running != nil {
		stream.Stop()
		return running, nil
	}

	// Capture ended outside our control, e.g. the user closed the picker.
	track.OnEnded(func() {
		go func() {
			_ = m.do(context.Background(), func() { m.stopScreen(stream) })
		}()
	})

	m.log.Info("screen share started", "stream", stream.ID)
	return stream, nil
}

// StopScreenShare restores the camera track on every link. It is a no-op
// when no share is running.
func (m *Manager) StopScreenShare(ctx context.Context) error {
	return m.do(ctx, func() { m.stopScreen(nil) })
}

// stopScreen ends the running share. With only set, it acts only if that
// stream is still the running one.
func (m *Manager) stopScreen(only *media.Stream) {
	if m.screen == nil || (only != nil && m.screen != only) {
		return
	}
	stream := m.screen
	m.screen = nil

	if camera := m.local.Track(webrtc.RTPCodecTypeVideo); camera != nil {
		m.replaceVideo(camera.Local())
		m.announceTrack(media.SourceCamera)
	}
	stream.Stop()

	m.log.Info("screen share stopped", "stream", stream.ID)
	m.events.emit(ScreenShareStoppedEvent{})
}

func (m *Manager) replaceVideo(track webrtc.TrackLocal) {
	for id, link := range m.links {
		sender, ok := link.senders[webrtc.RTPCodecTypeVideo]
		if !ok {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			m.log.Warn("failed to replace video track", "peer", id, "error", err)
		}
	}
}

// announceTrack tells connected peers which source now feeds our video
// sender. ReplaceTrack raises no track event on the far side.
func (m *Manager) announceTrack(source media.SourceKind) {
	payload := TrackPayload{Kind: webrtc.RTPCodecTypeVideo.String(), Source: string(source)}
	for _, link := range m.links {
		if !link.connected {
			continue
		}
		if err := m.sendOnLink(link, msgTrack, payload); err != nil {
			m.log.Debug("track change not announced", "peer", link.id, "error", err)
		}
	}
}

func mediaSource(s string) media.SourceKind {
	switch media.SourceKind(s) {
	case media.SourceScreen:
		return media.SourceScreen
	case media.SourceMicrophone:
		return media.SourceMicrophone
	default:
		return media.SourceCamera
	}
}
