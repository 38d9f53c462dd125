package rtc

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

func (m *Manager) startHeartbeat() {
	m.stopHeartbeatLoop()

	stop := make(chan struct{})
	m.stopHeartbeat = stop
	interval := m.cfg.HeartbeatInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.post(m.beat)
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLoop() {
	if m.stopHeartbeat != nil {
		close(m.stopHeartbeat)
		m.stopHeartbeat = nil
	}
}

// beat sends a heartbeat on every connected link. A link whose send fails
// and that has been silent past StaleAfter is treated as dropped.
func (m *Manager) beat() {
	if m.state != stateActive {
		return
	}

	now := time.Now()
	for _, link := range m.links {
		if !link.connected {
			continue
		}
		err := m.sendOnLink(link, msgHeartbeat, HeartbeatPayload{Sent: now.UnixMilli()})
		if err == nil {
			continue
		}
		if now.Sub(link.lastActivity) <= m.cfg.StaleAfter {
			continue
		}
		m.log.Warn("peer stale", "peer", link.id, "last_activity", link.lastActivity, "error", err)
		link.connected = false
		m.scheduleReconnect(link.id, "heartbeat")
	}
}

// sendOnLink delivers one envelope. Only connected links with an open
// channel are written to.
func (m *Manager) sendOnLink(link *peerLink, t string, payload any) error {
	if !link.connected || link.dc == nil || link.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return PeerError("send", link.id, ErrChannelNotOpen)
	}
	b, err := encodeMessage(t, payload)
	if err != nil {
		return PeerError("encode message", link.id, err)
	}
	if err := link.dc.Send(b); err != nil {
		return PeerError("send", link.id, err)
	}
	return nil
}

func (m *Manager) onData(link *peerLink, data []byte) {
	if !m.current(link) {
		return
	}
	link.lastActivity = time.Now()

	msg, err := decodeMessage(data)
	if err != nil {
		m.log.Warn("invalid data channel message", "peer", link.id, "error", err)
		return
	}

	switch msg.Type {
	case msgHeartbeat:
	case msgTrack:
		var p TrackPayload
		if err := msg.DecodePayload(&p); err != nil {
			m.log.Warn("invalid track message", "peer", link.id, "error", err)
			return
		}
		m.events.emit(RemoteStreamEvent{
			PeerID:   link.id,
			Kind:     webrtc.NewRTPCodecType(p.Kind),
			Source:   mediaSource(p.Source),
			Replaced: true,
		})
	case msgData:
		var payload []byte
		if err := msg.DecodePayload(&payload); err != nil {
			m.log.Warn("invalid data message", "peer", link.id, "error", err)
			return
		}
		m.events.emit(DataEvent{PeerID: link.id, Payload: payload})
	default:
		m.log.Debug("unknown data channel message", "peer", link.id, "type", msg.Type)
	}
}

// SendData sends payload to one connected peer.
func (m *Manager) SendData(ctx context.Context, peerID string, payload []byte) error {
	var err error
	if e := m.do(ctx, func() {
		link, ok := m.links[peerID]
		if !ok {
			err = PeerError("send", peerID, ErrUnknownPeer)
			return
		}
		err = m.sendOnLink(link, msgData, payload)
	}); e != nil {
		return e
	}
	return err
}

// Broadcast sends payload to every connected peer. Links that are not yet
// connected are skipped; failures on connected links are joined.
func (m *Manager) Broadcast(ctx context.Context, payload []byte) error {
	var errs []error
	if e := m.do(ctx, func() {
		for _, link := range m.links {
			if !link.connected {
				continue
			}
			if err := m.sendOnLink(link, msgData, payload); err != nil {
				errs = append(errs, err)
			}
		}
	}); e != nil {
		return e
	}
	return errors.Join(errs...)
}
