package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// retry is a pending reconnection for one peer. The pointer identifies the
// timer so a stopped timer that already fired is recognised and ignored.
type retry struct {
	timer *time.Timer
}

func (m *Manager) setState(link *peerLink, s webrtc.PeerConnectionState) {
	if link.state == s {
		return
	}
	link.state = s
	m.events.emit(ConnectionStateEvent{PeerID: link.id, State: s})
}

func (m *Manager) onConnectionState(link *peerLink, s webrtc.PeerConnectionState) {
	if !m.current(link) {
		return
	}
	m.log.Debug("connection state changed", "peer", link.id, "state", s.String())
	m.setState(link, s)

	switch s {
	case webrtc.PeerConnectionStateConnected:
		if link.connectTimer != nil {
			link.connectTimer.Stop()
		}
		link.connected = true
		link.iceRestarted = false
		link.lastActivity = time.Now()
		delete(m.attempts, link.id)
		m.announce(link)

	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		link.connected = false
		link.announced = false
		m.scheduleReconnect(link.id, s.String())

	case webrtc.PeerConnectionStateClosed:
		m.removePeer(link.id)
	}
}

// announce reports a peer as connected once its transport is up and the
// data channel can carry traffic. pion usually reaches the connected state
// before the SCTP channel opens.
func (m *Manager) announce(link *peerLink) {
	if link.announced || !link.connected || link.dc == nil || link.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return
	}
	link.announced = true
	m.log.Info("peer connected", "peer", link.id)
	m.events.emit(PeerConnectedEvent{PeerID: link.id})
}

func (m *Manager) onICEState(link *peerLink, s webrtc.ICEConnectionState) {
	if !m.current(link) || s != webrtc.ICEConnectionStateFailed {
		return
	}
	// One ICE restart per link, driven by the initiator, before falling back
	// to rebuilding the connection.
	if link.initiator && link.negotiated && !link.iceRestarted {
		link.iceRestarted = true
		m.log.Info("ICE failed, restarting", "peer", link.id)
		m.offer(link, true)
	}
}

func (m *Manager) onConnectTimeout(link *peerLink) {
	if !m.current(link) || link.connected {
		return
	}
	m.log.Warn("peer did not connect in time", "peer", link.id, "timeout", m.cfg.ConnectTimeout)
	m.scheduleReconnect(link.id, "connect timeout")
}

// scheduleReconnect arms a backoff timer for peerID unless one is already
// pending. Once the attempt budget is spent the peer is removed.
func (m *Manager) scheduleReconnect(peerID, reason string) {
	if m.state != stateActive {
		return
	}
	if _, pending := m.retries[peerID]; pending {
		return
	}

	m.attempts[peerID]++
	attempt := m.attempts[peerID]
	if attempt > m.cfg.MaxReconnectAttempts {
		m.log.Warn("giving up on peer", "peer", peerID, "attempts", attempt-1, "reason", reason)
		m.removePeer(peerID)
		return
	}

	delay := time.Duration(attempt) * m.cfg.ReconnectBackoff
	m.log.Info("scheduling reconnect", "peer", peerID, "attempt", attempt, "delay", delay, "reason", reason)

	r := &retry{}
	r.timer = time.AfterFunc(delay, func() {
		m.post(func() { m.reconnect(peerID, r) })
	})
	m.retries[peerID] = r
}

func (m *Manager) reconnect(peerID string, r *retry) {
	if m.retries[peerID] != r {
		return
	}
	delete(m.retries, peerID)

	if m.state != stateActive {
		return
	}
	link, ok := m.links[peerID]
	if !ok {
		delete(m.attempts, peerID)
		return
	}
	if link.connected {
		return
	}

	m.log.Info("reconnecting peer", "peer", peerID, "attempt", m.attempts[peerID])
	if err := m.startLink(peerID); err != nil {
		// The old link is already gone, so there is nothing left to retry.
		m.log.Warn("reconnect failed", "peer", peerID, "error", err)
		delete(m.attempts, peerID)
		m.events.emit(PeerDisconnectedEvent{PeerID: peerID})
	}
}
