package transport

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/util"
)

// TransceiverInfo describes one negotiated media section.
type TransceiverInfo struct {
	Mid           string
	SenderTrackID string // id of the local track being sent, if any
}

// Peer wraps a single PeerConnection.
//
// Its lifecycle is governed by the context passed at construction time and
// by the PeerConnection reaching the closed state.
type Peer struct {
	pc      *webrtc.PeerConnection
	release func(*Peer)

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
}

func newPeer(ctx context.Context, pc *webrtc.PeerConnection, release func(*Peer)) *Peer {
	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:      pc,
		release: release,
		ctx:     pCtx,
		cancel:  pCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()

		if state == webrtc.PeerConnectionStateClosed {
			pCancel()
		}
	})

	return p
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Done returns a channel that is closed when the Peer is shut down.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close closes the PeerConnection. Subsequent calls return the first result.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.closeErr = p.pc.Close()
		if p.release != nil {
			p.release(p)
		}
	})
	return p.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pcState
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer, optionally restarting ICE.
func (p *Peer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	if iceRestart {
		return p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	}
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

// Rollback discards a pending local offer and returns to stable.
func (p *Peer) Rollback() error {
	rb := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if ld := p.pc.LocalDescription(); ld != nil {
		rb.SDP = ld.SDP
	}
	return p.pc.SetLocalDescription(rb)
}

// SignalingState returns the current signaling state.
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

// Transceivers lists the media sections that already have a mid.
func (p *Peer) Transceivers() []TransceiverInfo {
	var out []TransceiverInfo
	for _, t := range p.pc.GetTransceivers() {
		mid := t.Mid()
		if mid == "" {
			continue
		}
		info := TransceiverInfo{Mid: mid}
		if s := t.Sender(); s != nil && s.Track() != nil {
			info.SenderTrackID = s.Track().ID()
		}
		out = append(out, info)
	}
	return out
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// OnNegotiationNeeded registers the negotiation-needed handler.
func (p *Peer) OnNegotiationNeeded(fn func()) {
	p.pc.OnNegotiationNeeded(fn)
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// OnICEConnectionStateChange registers the ICE state handler.
func (p *Peer) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(fn)
}

// OnSignalingStateChange registers the signaling state handler.
func (p *Peer) OnSignalingStateChange(fn func(webrtc.SignalingState)) {
	p.pc.OnSignalingStateChange(fn)
}

// OnTrack registers a handler for remote tracks. mid identifies the media
// section the track arrived on, or is empty if it cannot be determined.
func (p *Peer) OnTrack(fn func(track *webrtc.TrackRemote, mid string)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		fn(track, p.midOf(receiver))
	})
}

func (p *Peer) midOf(receiver *webrtc.RTPReceiver) string {
	for _, t := range p.pc.GetTransceivers() {
		if t.Receiver() == receiver {
			return t.Mid()
		}
	}
	return ""
}

// OnDataChannel registers a handler for channels opened by the remote side.
func (p *Peer) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.pc.OnDataChannel(fn)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// CreateDataChannel opens a data channel with default options.
func (p *Peer) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	return p.pc.CreateDataChannel(label, nil)
}

// AddTrack starts sending track. The stream id is carried by the track.
func (p *Peer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return p.pc.AddTrack(track)
}
