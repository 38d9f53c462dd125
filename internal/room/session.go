package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/rtc"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

// SessionConfig is what every PeerSession built by a factory shares.
type SessionConfig struct {
	SignalURL string
	WebRTC    webrtc.Configuration
	Media     media.Source
	Logger    *slog.Logger

	// Optional overrides, mostly for tests.
	Factory              rtc.PeerFactory
	Dialer               *websocket.Dialer
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// PeerSession ties one signaling client to one peer manager for a single
// join.
type PeerSession struct {
	*rtc.Manager

	client *signaling.Client
	log    *slog.Logger
	stop   func()
}

// NewSession builds the signaling client and peer manager for identity and
// routes inbound signaling into the manager.
func NewSession(cfg SessionConfig, identity Identity) (*PeerSession, error) {
	if cfg.SignalURL == "" {
		return nil, errors.New("signal url is required")
	}
	log := logging.Component(cfg.Logger, "session").With("local", identity.ID)

	client := signaling.NewClient(signaling.Options{
		URL:                  cfg.SignalURL,
		LocalID:              identity.ID,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Dialer:               cfg.Dialer,
		Logger:               cfg.Logger,
	})

	manager, err := rtc.NewManager(rtc.Config{
		LocalID:  identity.ID,
		WebRTC:   cfg.WebRTC,
		Signaler: client,
		Media:    cfg.Media,
		Factory:  cfg.Factory,
		Logger:   cfg.Logger,
	})
	if err != nil {
		client.Close()
		return nil, err
	}

	s := &PeerSession{Manager: manager, client: client, log: log}
	s.stop = client.Subscribe(signaling.Handlers{
		Signal:   s.forward,
		Presence: s.forward,
		Roster: func(r signaling.Roster) {
			if err := manager.ConnectPeers(context.Background(), r.Participants); err != nil {
				log.Debug("roster not applied", "room", r.Room, "error", err)
			}
		},
		Disconnected: func(err error) {
			log.Warn("signaling lost, reconnecting", "error", err)
		},
		Reconnected: func() {
			log.Info("signaling restored")
		},
		ReconnectFailed: func() {
			log.Error("signaling could not be restored; existing peers stay up until they drop")
		},
	})
	return s, nil
}

// NewSessionFactory returns a SessionFactory building PeerSessions from cfg.
func NewSessionFactory(cfg SessionConfig) SessionFactory {
	return func(identity Identity) (Session, error) {
		return NewSession(cfg, identity)
	}
}

func (s *PeerSession) forward(msg *signaling.Message) {
	if err := s.HandleSignalingMessage(context.Background(), msg); err != nil {
		s.log.Warn("signal not applied", "type", msg.Type, "from", msg.Sender, "error", err)
	}
}

// Signaling exposes the session's signaling client.
func (s *PeerSession) Signaling() *signaling.Client {
	return s.client
}

// Close stops the manager, then the signaling connection.
func (s *PeerSession) Close() error {
	s.stop()
	err := s.Manager.Close()
	s.client.Close()
	return err
}
