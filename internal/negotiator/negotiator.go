// Package negotiator implements perfect negotiation: either side may start
// a renegotiation at any time, and simultaneous offers are resolved by a
// fixed role. The polite side yields to a colliding remote offer; the
// impolite side ignores it.
package negotiator

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/signaling"
	"github.com/1ureka/edgertc/internal/transport"
	"github.com/1ureka/edgertc/internal/util"
)

const eventBufferSize = 64

// Peer is the part of a PeerConnection the negotiator drives.
type Peer interface {
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	Rollback() error
	SignalingState() webrtc.SignalingState
	AddICECandidate(webrtc.ICECandidateInit) error
	Transceivers() []transport.TransceiverInfo
}

// Signaler carries descriptions and candidates to the other side.
type Signaler interface {
	SendDescription(ctx context.Context, desc webrtc.SessionDescription, md protocol.Metadata) <-chan error
	SendCandidate(ctx context.Context, c webrtc.ICECandidateInit) <-chan error
	Recv() (signaling.Event, error)
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithErrorHandler sets the callback for non-fatal failures. It may be
// called from several goroutines.
func WithErrorHandler(fn func(error)) Option {
	return func(n *Negotiator) { n.onError = fn }
}

// WithLogger sets the scoped logger.
func WithLogger(l util.Logger) Option {
	return func(n *Negotiator) { n.log = l }
}

type eventKind int

const (
	evNegotiationNeeded eventKind = iota
	evLocalCandidate
	evICEState
	evSignalingState
	evRemote
	evOfferSent
	evRecvFailed
)

type event struct {
	kind      eventKind
	candidate webrtc.ICECandidateInit
	iceState  webrtc.ICEConnectionState
	remote    signaling.Event
	err       error
}

// Negotiator runs the negotiation for one peer connection. All negotiation
// state is owned by the goroutine executing Run.
type Negotiator struct {
	peer    Peer
	sig     Signaler
	polite  bool
	onError func(error)
	log     util.Logger

	events   chan event
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	// Owned by Run.
	makingOffer   bool
	ignoreOffer   bool
	offerQueued   bool
	restartQueued bool

	mu     sync.RWMutex
	tracks map[string]protocol.MetadataTrack // received metadata by mid
}

// New creates a Negotiator. Input events may be delivered before Run is
// called; they are buffered.
func New(peer Peer, sig Signaler, polite bool, opts ...Option) *Negotiator {
	n := &Negotiator{
		peer:    peer,
		sig:     sig,
		polite:  polite,
		onError: func(error) {},
		log:     util.Scoped("negotiator"),
		events:  make(chan event, eventBufferSize),
		quit:    make(chan struct{}),
		tracks:  make(map[string]protocol.MetadataTrack),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Polite reports the role of this side.
func (n *Negotiator) Polite() bool { return n.polite }

// ---------------------------------------------------------------------------
// Inputs
// ---------------------------------------------------------------------------

// NegotiationNeeded requests a new offer.
func (n *Negotiator) NegotiationNeeded() {
	n.post(event{kind: evNegotiationNeeded})
}

// LocalCandidate queues a gathered local candidate for signaling.
func (n *Negotiator) LocalCandidate(c webrtc.ICECandidateInit) {
	n.post(event{kind: evLocalCandidate, candidate: c})
}

// ICEConnectionStateChange reports a new ICE connection state. Failed
// triggers an ICE restart.
func (n *Negotiator) ICEConnectionStateChange(state webrtc.ICEConnectionState) {
	n.post(event{kind: evICEState, iceState: state})
}

// SignalingStateChange reports a new signaling state. Queued offers are
// made once the state is stable again.
func (n *Negotiator) SignalingStateChange(state webrtc.SignalingState) {
	if state == webrtc.SignalingStateStable {
		n.post(event{kind: evSignalingState})
	}
}

func (n *Negotiator) post(ev event) {
	select {
	case n.events <- ev:
	case <-n.quit:
	}
}

func (n *Negotiator) postCtx(ctx context.Context, ev event) {
	select {
	case n.events <- ev:
	case <-ctx.Done():
	case <-n.quit:
	}
}

// ---------------------------------------------------------------------------
// Loop
// ---------------------------------------------------------------------------

// Run processes events until ctx is cancelled (returning nil) or the
// signaling stream ends (returning the receive error). A receive still
// blocked when Run returns ends with the next message or once the
// signaling channel is closed; that message is dropped.
func (n *Negotiator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		n.wg.Wait()
		n.quitOnce.Do(func() { close(n.quit) })
	}()

	go n.receive(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-n.events:
			if err := n.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (n *Negotiator) receive(ctx context.Context) {
	for {
		ev, err := n.sig.Recv()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			n.postCtx(ctx, event{kind: evRemote, remote: ev})
			continue
		}

		var de *rtcerr.DecodeError
		if errors.As(err, &de) && de.Kind == rtcerr.UnknownType {
			n.log.Debug("skipping signaling message of unknown type")
			continue
		}
		if errors.As(err, &de) {
			n.log.Warning("dropping undecodable signaling message: %v", err)
			n.report(&rtcerr.SignalingError{Kind: rtcerr.InvalidMessage, Err: err})
			continue
		}

		n.postCtx(ctx, event{kind: evRecvFailed, err: err})
		return
	}
}

func (n *Negotiator) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case evNegotiationNeeded:
		n.makeOffer(ctx, false)

	case evLocalCandidate:
		done := n.sig.SendCandidate(ctx, ev.candidate)
		n.watch(ctx, done, n.report)

	case evICEState:
		n.log.Debug("ICE connection state: %s", ev.iceState)
		if ev.iceState == webrtc.ICEConnectionStateFailed {
			n.log.Info("ICE failed, restarting")
			n.makeOffer(ctx, true)
		}

	case evSignalingState:
		if n.offerQueued {
			n.makeOffer(ctx, false)
		}

	case evOfferSent:
		n.makingOffer = false
		if ev.err != nil {
			n.report(ev.err)
		}
		if n.offerQueued {
			n.makeOffer(ctx, false)
		}

	case evRemote:
		n.handleRemote(ctx, ev.remote)

	case evRecvFailed:
		if rtcerr.IsTerminal(ev.err) {
			return ev.err
		}
		return &rtcerr.SignalingError{Kind: rtcerr.FailedRecv, Err: ev.err}
	}
	return nil
}

// makeOffer creates, applies and signals an offer. If one is in flight or
// the state is not stable the request is queued and replayed later.
func (n *Negotiator) makeOffer(ctx context.Context, restart bool) {
	restart = restart || n.restartQueued

	if n.makingOffer || n.peer.SignalingState() != webrtc.SignalingStateStable {
		n.offerQueued = true
		n.restartQueued = restart
		return
	}
	n.offerQueued, n.restartQueued = false, false
	n.makingOffer = true

	offer, err := n.peer.CreateOffer(restart)
	if err != nil {
		n.makingOffer = false
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpCreateOffer, Err: err})
		return
	}
	if err := n.peer.SetLocalDescription(offer); err != nil {
		n.makingOffer = false
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpSetLocalDescription, Err: err})
		return
	}

	n.log.Debug("sending offer (ice restart: %v)", restart)
	done := n.sig.SendDescription(ctx, offer, n.Metadata())
	n.watch(ctx, done, func(err error) {
		n.postCtx(ctx, event{kind: evOfferSent, err: err})
	})
}

func (n *Negotiator) handleRemote(ctx context.Context, ev signaling.Event) {
	switch ev.Kind {
	case signaling.EventDescription:
		n.handleDescription(ctx, ev.Description, ev.Metadata)
	case signaling.EventCandidate:
		n.handleCandidate(ev.Candidate)
	case signaling.EventMetadata:
		n.applyMetadata(*ev.Metadata)
	default:
		n.log.Debug("ignoring signaling message: %s", ev.Note)
	}
}

func (n *Negotiator) handleDescription(ctx context.Context, desc webrtc.SessionDescription, md *protocol.Metadata) {
	isOffer := desc.Type == webrtc.SDPTypeOffer
	state := n.peer.SignalingState()
	collision := isOffer && (n.makingOffer || state != webrtc.SignalingStateStable)

	n.ignoreOffer = !n.polite && collision
	if n.ignoreOffer {
		n.log.Debug("ignoring colliding remote offer")
		return
	}

	if md != nil {
		n.applyMetadata(*md)
	}

	if collision && state == webrtc.SignalingStateHaveLocalOffer {
		n.log.Debug("yielding to remote offer, rolling back local offer")
		if err := n.peer.Rollback(); err != nil {
			n.log.Warning("rollback failed: %v", err)
		}
		n.offerQueued = true
	}

	if err := n.peer.SetRemoteDescription(desc); err != nil {
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpSetRemoteDescription, Err: err})
		return
	}
	if !isOffer {
		return
	}

	answer, err := n.peer.CreateAnswer()
	if err != nil {
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpSendAnswer, Err: err})
		return
	}
	if err := n.peer.SetLocalDescription(answer); err != nil {
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpSendAnswer, Err: err})
		return
	}

	n.log.Debug("sending answer")
	done := n.sig.SendDescription(ctx, answer, n.Metadata())
	n.watch(ctx, done, func(err error) {
		if err != nil {
			n.report(&rtcerr.NegotiationError{Op: rtcerr.OpSendAnswer, Err: err})
		}
	})
}

func (n *Negotiator) handleCandidate(c webrtc.ICECandidateInit) {
	if err := n.peer.AddICECandidate(c); err != nil {
		if n.ignoreOffer {
			n.log.Debug("dropping candidate of ignored offer: %v", err)
			return
		}
		n.report(&rtcerr.NegotiationError{Op: rtcerr.OpAddICECandidate, Err: err})
	}
}

// watch waits for a send completion off the loop and hands its result to
// fn. fn must not touch loop-owned state.
func (n *Negotiator) watch(ctx context.Context, done <-chan error, fn func(error)) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		select {
		case err := <-done:
			fn(err)
		case <-ctx.Done():
		}
	}()
}

func (n *Negotiator) report(err error) {
	if err == nil {
		return
	}
	n.log.Warning("%v", err)
	n.onError(err)
}

// ---------------------------------------------------------------------------
// Track metadata
// ---------------------------------------------------------------------------

func (n *Negotiator) applyMetadata(md protocol.Metadata) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, t := range md.Tracks {
		n.tracks[t.Mid] = t
		if t.Failed() {
			n.log.Warning("remote reported error for track %q (mid %s): %s", t.TrackID, t.Mid, t.Error)
		}
	}
}

// TrackID returns the application track id signaled for mid.
func (n *Negotiator) TrackID(mid string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	t, ok := n.tracks[mid]
	return t.TrackID, ok
}

// Metadata describes the current media sections: each mid with the entry
// received for it, or with the id of the local track it sends.
func (n *Negotiator) Metadata() protocol.Metadata {
	infos := n.peer.Transceivers()

	n.mu.RLock()
	defer n.mu.RUnlock()

	var tracks []protocol.MetadataTrack
	for _, info := range infos {
		if t, ok := n.tracks[info.Mid]; ok {
			tracks = append(tracks, t)
			continue
		}
		if info.SenderTrackID != "" {
			tracks = append(tracks, protocol.MetadataTrack{Mid: info.Mid, TrackID: info.SenderTrackID})
		}
	}
	return protocol.NewMetadata(tracks)
}
