package negotiator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/signaling"
	"github.com/1ureka/edgertc/internal/transport"
)

// ---------------------------------------------------------------------------
// fakePeer: a minimal signaling state machine
// ---------------------------------------------------------------------------

type fakePeer struct {
	mu           sync.Mutex
	state        webrtc.SignalingState
	remoteSet    bool
	offers       int
	restarts     int
	rollbacks    int
	remotes      []webrtc.SDPType
	candidates   int
	candidateErr error
	transceivers []transport.TransceiverInfo
	onState      func(webrtc.SignalingState)
}

func newFakePeer() *fakePeer {
	return &fakePeer{state: webrtc.SignalingStateStable}
}

func (p *fakePeer) setState(s webrtc.SignalingState) {
	p.state = s
	if p.onState != nil {
		// Delivered asynchronously, as pion does.
		go p.onState(s)
	}
}

func (p *fakePeer) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers++
	if iceRestart {
		p.restarts++
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", p.offers)}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case d.Type == webrtc.SDPTypeOffer && p.state == webrtc.SignalingStateStable:
		p.setState(webrtc.SignalingStateHaveLocalOffer)
	case d.Type == webrtc.SDPTypeAnswer && p.state == webrtc.SignalingStateHaveRemoteOffer:
		p.setState(webrtc.SignalingStateStable)
	default:
		return fmt.Errorf("set local %s in %s", d.Type, p.state)
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case d.Type == webrtc.SDPTypeOffer && p.state == webrtc.SignalingStateStable:
		p.setState(webrtc.SignalingStateHaveRemoteOffer)
	case d.Type == webrtc.SDPTypeAnswer && p.state == webrtc.SignalingStateHaveLocalOffer:
		p.setState(webrtc.SignalingStateStable)
	default:
		return fmt.Errorf("set remote %s in %s", d.Type, p.state)
	}
	p.remoteSet = true
	p.remotes = append(p.remotes, d.Type)
	return nil
}

func (p *fakePeer) Rollback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("rollback in %s", p.state)
	}
	p.rollbacks++
	p.setState(webrtc.SignalingStateStable)
	return nil
}

func (p *fakePeer) SignalingState() webrtc.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) AddICECandidate(webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidateErr != nil {
		return p.candidateErr
	}
	if !p.remoteSet {
		return errors.New("remote description not set")
	}
	p.candidates++
	return nil
}

func (p *fakePeer) Transceivers() []transport.TransceiverInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]transport.TransceiverInfo(nil), p.transceivers...)
}

func (p *fakePeer) snapshot() fakePeer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePeer{
		state:      p.state,
		offers:     p.offers,
		restarts:   p.restarts,
		rollbacks:  p.rollbacks,
		remotes:    append([]webrtc.SDPType(nil), p.remotes...),
		candidates: p.candidates,
	}
}

// ---------------------------------------------------------------------------
// fakeSignaler: records sends, replays scripted events
// ---------------------------------------------------------------------------

type sent struct {
	desc *webrtc.SessionDescription
	md   protocol.Metadata
	cand *webrtc.ICECandidateInit
}

type fakeSignaler struct {
	sent     chan sent
	incoming chan signaling.Event
	recvErr  chan error
	remote   *fakeSignaler // when linked, sends are delivered here
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{
		sent:     make(chan sent, 256),
		incoming: make(chan signaling.Event, 64),
		recvErr:  make(chan error, 4),
	}
}

func linkedSignalers() (*fakeSignaler, *fakeSignaler) {
	a, b := newFakeSignaler(), newFakeSignaler()
	a.remote, b.remote = b, a
	return a, b
}

func (s *fakeSignaler) SendDescription(_ context.Context, desc webrtc.SessionDescription, md protocol.Metadata) <-chan error {
	s.sent <- sent{desc: &desc, md: md}
	if s.remote != nil {
		mdCopy := md
		s.remote.incoming <- signaling.Event{Kind: signaling.EventDescription, Description: desc, Metadata: &mdCopy}
	}
	return completed(nil)
}

func (s *fakeSignaler) SendCandidate(_ context.Context, c webrtc.ICECandidateInit) <-chan error {
	s.sent <- sent{cand: &c}
	if s.remote != nil {
		s.remote.incoming <- signaling.Event{Kind: signaling.EventCandidate, Candidate: c}
	}
	return completed(nil)
}

func (s *fakeSignaler) Recv() (signaling.Event, error) {
	select {
	case ev := <-s.incoming:
		return ev, nil
	case err := <-s.recvErr:
		return signaling.Event{}, err
	}
}

func completed(err error) <-chan error {
	ch := make(chan error, 1)
	ch <- err
	return ch
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type errRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errRecorder) add(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errRecorder) list() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func nextSent(t *testing.T, s *fakeSignaler) sent {
	t.Helper()
	select {
	case m := <-s.sent:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was sent")
		return sent{}
	}
}

func noneSent(t *testing.T, s *fakeSignaler) {
	t.Helper()
	select {
	case m := <-s.sent:
		t.Fatalf("unexpected send: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// start runs n until the test ends and returns Run's result channel.
func start(t *testing.T, n *Negotiator) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- n.Run(ctx) }()
	t.Cleanup(cancel)
	return result
}
