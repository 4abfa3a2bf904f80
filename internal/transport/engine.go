// Package transport adapts pion's PeerConnection to what the negotiator and
// the connection facade need. An Engine is the explicit context object that
// owns the WebRTC API configuration and every Peer created from it.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/util"
)

// EngineOptions tune ICE gathering for every Peer of an Engine.
type EngineOptions struct {
	IncludeLoopback bool                 // gather 127.0.0.1 candidates (tests, same-host demos)
	DisableMDNS     bool                 // publish plain host IPs instead of .local names
	NetworkTypes    []webrtc.NetworkType // restrict gathering, e.g. UDP4 only
}

// Engine creates peers and closes whatever is left of them on Close.
type Engine struct {
	api *webrtc.API

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	closed bool
}

// NewEngine builds the pion API from opts.
func NewEngine(opts EngineOptions) *Engine {
	se := webrtc.SettingEngine{LoggerFactory: util.NewPionLoggerFactory()}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	if opts.DisableMDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
	if len(opts.NetworkTypes) > 0 {
		se.SetNetworkTypes(opts.NetworkTypes)
	}

	return &Engine{
		api:   webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		peers: make(map[*Peer]struct{}),
	}
}

// NewPeer creates a Peer using servers for ICE. A failure is a
// *rtcerr.ConnectionInitError.
func (e *Engine) NewPeer(ctx context.Context, servers []webrtc.ICEServer) (*Peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, &rtcerr.ConnectionInitError{Err: rtcerr.ErrClosed}
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, &rtcerr.ConnectionInitError{Err: err}
	}

	p := newPeer(ctx, pc, e.release)
	e.peers[p] = struct{}{}
	return p, nil
}

func (e *Engine) release(p *Peer) {
	e.mu.Lock()
	delete(e.peers, p)
	e.mu.Unlock()
}

// Close closes every peer still open and rejects new ones.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	peers := make([]*Peer, 0, len(e.peers))
	for p := range e.peers {
		peers = append(peers, p)
	}
	e.mu.Unlock()

	var errs []error
	for _, p := range peers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
