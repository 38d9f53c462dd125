package rtc

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/media"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

// peerLink is the manager's record of one remote participant.
type peerLink struct {
	id        string
	pc        PeerConnection
	dc        DataChannel
	initiator bool

	state        webrtc.PeerConnectionState
	connected    bool
	announced    bool
	lastActivity time.Time
	senders      map[webrtc.RTPCodecType]Sender

	remoteSet    bool
	remoteSDP    string
	pending      []webrtc.ICECandidateInit
	negotiated   bool
	iceRestarted bool

	connectTimer *time.Timer
}

func (l *peerLink) info() PeerInfo {
	return PeerInfo{
		ID:           l.id,
		State:        l.state,
		Initiator:    l.initiator,
		Connected:    l.connected,
		LastActivity: l.lastActivity,
	}
}

func (l *peerLink) close() {
	if l.connectTimer != nil {
		l.connectTimer.Stop()
	}
	if l.dc != nil {
		_ = l.dc.Close()
	}
	_ = l.pc.Close()
}

// current reports whether link is still the live record for its peer.
// Callbacks from replaced or closed links are dropped with this check.
func (m *Manager) current(link *peerLink) bool {
	return m.links[link.id] == link
}

// newLink builds a fresh link for peerID, replacing any existing one.
// Must run on the loop.
func (m *Manager) newLink(peerID string) (*peerLink, error) {
	if old, ok := m.links[peerID]; ok {
		old.close()
		delete(m.links, peerID)
	}

	pc, err := m.cfg.Factory(m.cfg.WebRTC)
	if err != nil {
		return nil, PeerError("create peer connection", peerID, err)
	}

	link := &peerLink{
		id:        peerID,
		pc:        pc,
		initiator: m.isInitiator(peerID),
		state:     webrtc.PeerConnectionStateNew,
		senders:   make(map[webrtc.RTPCodecType]Sender),
	}

	for _, t := range m.local.Tracks() {
		track := t.Local()
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			if st := m.screen.Track(webrtc.RTPCodecTypeVideo); st != nil {
				track = st.Local()
			}
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, PeerError("add track", peerID, err)
		}
		link.senders[t.Kind()] = sender
	}

	// Both sides create the same pre-negotiated channel so neither waits on
	// OnDataChannel.
	negotiated := true
	id := uint16(0)
	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &id,
		Ordered:    &ordered,
	})
	if err != nil {
		_ = pc.Close()
		return nil, PeerError("create data channel", peerID, err)
	}
	link.dc = dc

	m.wire(link)
	m.links[peerID] = link

	link.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.post(func() { m.onConnectTimeout(link) })
	})

	m.log.Debug("peer link created", "peer", peerID, "initiator", link.initiator)
	return link, nil
}

func (m *Manager) wire(link *peerLink) {
	link.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.post(func() {
			if m.current(link) {
				m.sendSignal(signaling.TypeCandidate, link.id, c)
			}
		})
	})

	link.pc.OnTrack(func(t RemoteTrack) {
		m.post(func() {
			if !m.current(link) {
				return
			}
			source := media.SourceMicrophone
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				source = media.SourceCamera
			}
			m.events.emit(RemoteStreamEvent{
				PeerID: link.id,
				Track:  t,
				Kind:   t.Kind(),
				Source: source,
			})
		})
	})

	link.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.post(func() { m.onConnectionState(link, s) })
	})

	link.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		m.post(func() { m.onICEState(link, s) })
	})

	link.pc.OnNegotiationNeeded(func() {
		m.post(func() { m.onNegotiationNeeded(link) })
	})

	link.dc.OnOpen(func() {
		m.post(func() {
			if m.current(link) {
				link.lastActivity = time.Now()
				m.announce(link)
			}
		})
	})

	link.dc.OnMessage(func(data []byte) {
		m.post(func() { m.onData(link, data) })
	})
}

// removePeer closes and forgets a link and any pending retry for it.
func (m *Manager) removePeer(peerID string) {
	if r, ok := m.retries[peerID]; ok {
		r.timer.Stop()
		delete(m.retries, peerID)
	}
	delete(m.attempts, peerID)

	link, ok := m.links[peerID]
	if !ok {
		return
	}
	link.close()
	delete(m.links, peerID)

	m.log.Info("peer removed", "peer", peerID)
	m.events.emit(PeerDisconnectedEvent{PeerID: peerID})
}
