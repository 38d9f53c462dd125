package rtc

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/signaling"
)

// CreatePeerConnection builds a fresh link to peerID, replacing any existing
// one. The initiator of the pair sends an offer right away; the other side
// asks the initiator to offer.
func (m *Manager) CreatePeerConnection(ctx context.Context, peerID string) error {
	var err error
	if e := m.do(ctx, func() {
		if m.state == stateIdle {
			err = ErrNotInRoom
			return
		}
		if peerID == "" || peerID == m.cfg.LocalID {
			err = PeerError("create peer connection", peerID, ErrUnknownPeer)
			return
		}
		err = m.startLink(peerID)
	}); e != nil {
		return e
	}
	return err
}

// ConnectPeers opens links to every roster entry we initiate toward. Entries
// we already have a link for, and our own id, are skipped.
func (m *Manager) ConnectPeers(ctx context.Context, roster []string) error {
	var err error
	if e := m.do(ctx, func() {
		if m.state == stateIdle {
			err = ErrNotInRoom
			return
		}
		m.connectPeers(roster)
	}); e != nil {
		return e
	}
	return err
}

func (m *Manager) connectPeers(roster []string) {
	for _, id := range roster {
		if id == "" || id == m.cfg.LocalID {
			continue
		}
		if _, ok := m.links[id]; ok {
			continue
		}
		// The other side sees us in its roster or via our join and offers.
		if !m.isInitiator(id) {
			continue
		}
		if err := m.startLink(id); err != nil {
			m.log.Warn("failed to connect peer", "peer", id, "error", err)
		}
	}
}

func (m *Manager) startLink(peerID string) error {
	link, err := m.newLink(peerID)
	if err != nil {
		return err
	}
	m.setState(link, webrtc.PeerConnectionStateConnecting)

	if link.initiator {
		m.offer(link, false)
	} else {
		m.requestOffer(peerID)
	}
	return nil
}

// requestOffer sends a join addressed to peerID, which asks it to rebuild
// its side and offer again.
func (m *Manager) requestOffer(peerID string) {
	m.sendSignal(signaling.TypeJoin, peerID, nil)
}

func (m *Manager) offer(link *peerLink, iceRestart bool) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := link.pc.CreateOffer(opts)
	if err != nil {
		m.log.Warn("failed to create offer", "peer", link.id, "error", err)
		return
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		m.log.Warn("failed to set local description", "peer", link.id, "error", err)
		return
	}

	m.log.Debug("sending offer", "peer", link.id, "ice_restart", iceRestart)
	m.sendSignal(signaling.TypeOffer, link.id, offer)
}

// HandleSignalingMessage applies one inbound signaling message.
func (m *Manager) HandleSignalingMessage(ctx context.Context, msg *signaling.Message) error {
	if msg == nil {
		return nil
	}
	var err error
	if e := m.do(ctx, func() { err = m.handleSignal(msg) }); e != nil {
		return e
	}
	return err
}

func (m *Manager) handleSignal(msg *signaling.Message) error {
	if m.state == stateIdle {
		m.log.Debug("ignoring signal outside a room", "type", msg.Type, "from", msg.Sender)
		return nil
	}
	if msg.Sender == "" || msg.Sender == m.cfg.LocalID {
		return nil
	}
	if msg.Receiver != "" && msg.Receiver != m.cfg.LocalID {
		return nil
	}

	switch msg.Type {
	case signaling.TypeOffer:
		return m.handleOffer(msg)
	case signaling.TypeAnswer:
		return m.handleAnswer(msg)
	case signaling.TypeCandidate:
		return m.handleCandidate(msg)
	case signaling.TypeJoin:
		m.handleJoin(msg.Sender, msg.Receiver != "")
		return nil
	case signaling.TypeLeave:
		m.log.Info("peer left", "peer", msg.Sender)
		m.removePeer(msg.Sender)
		return nil
	default:
		return PeerError("handle signal", msg.Sender, fmt.Errorf("%w: %s", ErrUnexpectedSignal, msg.Type))
	}
}

func (m *Manager) handleOffer(msg *signaling.Message) error {
	var desc webrtc.SessionDescription
	if err := msg.DecodePayload(&desc); err != nil {
		return PeerError("decode offer", msg.Sender, err)
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return PeerError("handle offer", msg.Sender, ErrUnexpectedSignal)
	}

	// Only the side with the larger id answers. This resolves glare.
	if m.isInitiator(msg.Sender) {
		m.log.Debug("ignoring offer from peer we initiate to", "peer", msg.Sender)
		return nil
	}

	link, ok := m.links[msg.Sender]
	if ok && link.remoteSet && fingerprint(link.remoteSDP) != fingerprint(desc.SDP) {
		// A new certificate means the remote rebuilt its connection.
		ok = false
	}
	if !ok {
		var err error
		if link, err = m.newLink(msg.Sender); err != nil {
			return err
		}
		m.setState(link, webrtc.PeerConnectionStateConnecting)
	}

	if err := link.pc.SetRemoteDescription(desc); err != nil {
		return PeerError("set remote description", msg.Sender, err)
	}
	link.remoteSet = true
	link.remoteSDP = desc.SDP
	m.flushCandidates(link)

	answer, err := link.pc.CreateAnswer()
	if err != nil {
		return PeerError("create answer", msg.Sender, err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return PeerError("set local description", msg.Sender, err)
	}
	link.negotiated = true

	m.sendSignal(signaling.TypeAnswer, msg.Sender, answer)
	return nil
}

func (m *Manager) handleAnswer(msg *signaling.Message) error {
	var desc webrtc.SessionDescription
	if err := msg.DecodePayload(&desc); err != nil {
		return PeerError("decode answer", msg.Sender, err)
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return PeerError("handle answer", msg.Sender, ErrUnexpectedSignal)
	}

	link, ok := m.links[msg.Sender]
	if !ok || !link.initiator {
		m.log.Debug("dropping answer with no pending offer", "peer", msg.Sender)
		return nil
	}

	if err := link.pc.SetRemoteDescription(desc); err != nil {
		return PeerError("set remote description", msg.Sender, err)
	}
	link.remoteSet = true
	link.remoteSDP = desc.SDP
	link.negotiated = true
	m.flushCandidates(link)
	return nil
}

func (m *Manager) handleCandidate(msg *signaling.Message) error {
	var c webrtc.ICECandidateInit
	if err := msg.DecodePayload(&c); err != nil {
		return PeerError("decode candidate", msg.Sender, err)
	}

	link, ok := m.links[msg.Sender]
	if !ok {
		m.log.Debug("dropping candidate for unknown peer", "peer", msg.Sender)
		return nil
	}
	if !link.remoteSet {
		link.pending = append(link.pending, c)
		return nil
	}
	if err := link.pc.AddICECandidate(c); err != nil {
		m.log.Warn("failed to add ICE candidate", "peer", msg.Sender, "error", err)
	}
	return nil
}

func (m *Manager) flushCandidates(link *peerLink) {
	for _, c := range link.pending {
		if err := link.pc.AddICECandidate(c); err != nil {
			m.log.Warn("failed to add queued ICE candidate", "peer", link.id, "error", err)
		}
	}
	link.pending = nil
}

// handleJoin reacts to a presence announcement. A broadcast join is a new or
// restarted participant, or one whose signaling reconnected; a targeted one
// asks us to offer again.
func (m *Manager) handleJoin(peerID string, targeted bool) {
	if !m.isInitiator(peerID) {
		// The newcomer has the smaller id and offers from its roster.
		return
	}
	if !targeted {
		// A connected peer re-announcing itself only lost its signaling
		// socket. The media path is independent and stays up.
		if link, ok := m.links[peerID]; ok && link.connected {
			m.log.Debug("peer rejoined signaling, keeping link", "peer", peerID)
			return
		}
		m.log.Info("peer joined", "peer", peerID)
	}
	if err := m.startLink(peerID); err != nil {
		m.log.Warn("failed to connect peer", "peer", peerID, "error", err)
	}
}

func (m *Manager) onNegotiationNeeded(link *peerLink) {
	// The first offer is sent explicitly when the link is built.
	if !m.current(link) || !link.initiator || !link.negotiated {
		return
	}
	m.offer(link, false)
}

// fingerprint returns the first DTLS fingerprint in sdp.
func fingerprint(sdp string) string {
	for line := range strings.Lines(sdp) {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "a=fingerprint:"); ok {
			return v
		}
	}
	return ""
}
