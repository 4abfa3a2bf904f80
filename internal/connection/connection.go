// Package connection is the client-side entry point: given a tunnel to a
// device it discovers the signaling endpoint, performs the handshake and
// keeps the peer connection negotiated until closed.
package connection

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/config"
	"github.com/1ureka/edgertc/internal/framing"
	"github.com/1ureka/edgertc/internal/negotiator"
	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/signaling"
	"github.com/1ureka/edgertc/internal/transport"
	"github.com/1ureka/edgertc/internal/tunnel"
	"github.com/1ureka/edgertc/internal/util"
)

// Option configures a Connection.
type Option func(*Connection)

// WithProtocol pins the signaling version instead of choosing from the
// discovery response.
func WithProtocol(p config.Protocol) Option {
	return func(c *Connection) { c.protocol = p }
}

// WithPreferPolite sends a politeness preference in the v2 setup request.
// It has no effect on v1, where the client is always polite.
func WithPreferPolite(polite *bool) Option {
	return func(c *Connection) { c.prefer = polite }
}

// Connection is a WebRTC session with one device.
type Connection struct {
	tunnel   tunnel.Tunnel
	engine   *transport.Engine
	protocol config.Protocol
	prefer   *bool
	log      util.Logger

	onTrack  func(*webrtc.TrackRemote, string)
	onError  func(error)
	onClosed func()

	mu       sync.Mutex
	isClosed bool
	cancel   context.CancelFunc
	peer     *transport.Peer
	neg      *negotiator.Negotiator
	closer   interface{ Close() error } // signaling channel
	wg       sync.WaitGroup

	closedOnce sync.Once
	closeOnce  sync.Once
}

// New creates a Connection over t. Peers are created from engine.
func New(t tunnel.Tunnel, engine *transport.Engine, opts ...Option) *Connection {
	c := &Connection{
		tunnel:   t,
		engine:   engine,
		protocol: config.ProtocolAuto,
		log:      util.Scoped("connection"),
		onTrack:  func(*webrtc.TrackRemote, string) {},
		onError:  func(error) {},
		onClosed: func() {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnTrack sets the handler for remote tracks. The string is the track id
// announced by the device's metadata, or the track's own id when the
// device announced none. Must be set before Connect.
func (c *Connection) OnTrack(fn func(track *webrtc.TrackRemote, trackID string)) {
	c.onTrack = fn
}

// OnError sets the handler for non-fatal negotiation and signaling
// failures. Must be set before Connect.
func (c *Connection) OnError(fn func(error)) {
	c.onError = fn
}

// OnClosed sets the handler called once when the session ends on its own:
// ICE closed or the signaling stream lost. Must be set before Connect.
func (c *Connection) OnClosed(fn func()) {
	c.onClosed = fn
}

// Polite reports the negotiated role. Valid after Connect.
func (c *Connection) Polite() bool {
	_, neg := c.session()
	return neg != nil && neg.Polite()
}

func (c *Connection) session() (*transport.Peer, *negotiator.Negotiator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer, c.neg
}

// Connect runs discovery, opens the signaling stream, performs the
// handshake, creates the peer connection and starts negotiating. Failures
// before the peer exists are *rtcerr.SignalingError; peer creation
// failures are *rtcerr.ConnectionInitError. Connect returns rtcerr.ErrClosed
// when Close was called before it finished.
func (c *Connection) Connect(ctx context.Context) error {
	info, err := c.discover(ctx)
	if err != nil {
		return err
	}

	version, port, err := c.choose(info)
	if err != nil {
		return err
	}
	c.log.Info("using signaling %s on stream port %d", version, port)

	rw, err := c.tunnel.OpenStream(ctx, port)
	if err != nil {
		return &rtcerr.SignalingError{Kind: rtcerr.FailedToInitialize, Err: err}
	}
	stream := framing.NewStream(rw)

	c.mu.Lock()
	if c.isClosed {
		c.mu.Unlock()
		_ = stream.Close()
		return rtcerr.ErrClosed
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	var (
		sig     negotiator.Signaler
		polite  bool
		servers []protocol.IceServer
	)

	switch version {
	case config.ProtocolV1:
		ch := signaling.NewChannel[protocol.Message](stream, protocol.V1Codec{})
		ch.Start(runCtx)
		c.setCloser(ch)
		servers, err = signaling.RequestTurn(ctx, ch)
		sig, polite = signaling.NewV1(ch), true
	default:
		ch := signaling.NewChannel[protocol.V2Message](stream, protocol.V2Codec{})
		ch.Start(runCtx)
		c.setCloser(ch)
		var res signaling.SetupResult
		res, err = signaling.Setup(ctx, ch, c.prefer)
		sig, polite, servers = signaling.NewV2(ch), res.Polite, res.IceServers
		if err == nil {
			c.log.Debug("setup accepted, session %s", res.ID)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		err = rtcerr.ErrClosed
	}
	if err != nil {
		cancel()
		_ = c.closer.Close()
		return err
	}

	peer, err := c.engine.NewPeer(runCtx, signaling.ICEServers(servers))
	if err != nil {
		cancel()
		_ = c.closer.Close()
		return err
	}

	neg := negotiator.New(peer, sig, polite,
		negotiator.WithErrorHandler(c.reportError),
		negotiator.WithLogger(util.Scoped("negotiator")),
	)
	negotiator.Bind(peer, neg, func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateClosed {
			c.closed()
		}
	})
	peer.OnTrack(func(track *webrtc.TrackRemote, mid string) {
		id, ok := neg.TrackID(mid)
		if !ok {
			id = track.ID()
		}
		c.onTrack(track, id)
	})

	c.peer, c.neg = peer, neg

	util.Stats.AddSession()

	c.wg.Add(1)
	go func() {
		err := neg.Run(runCtx)
		c.wg.Done()
		if err != nil {
			if !rtcerr.IsTerminal(err) {
				c.reportError(err)
			}
			c.log.Info("signaling ended: %v", err)
			c.closed()
		}
	}()

	c.log.Info("connected (polite=%v)", polite)
	return nil
}

// discover fetches and decodes the device's signaling ports.
func (c *Connection) discover(ctx context.Context) (protocol.RTCInfo, error) {
	resp, err := c.tunnel.Get(ctx, protocol.InfoPath)
	if err != nil {
		return protocol.RTCInfo{}, &rtcerr.SignalingError{Kind: rtcerr.FailedToInitialize, Err: err}
	}
	if resp.Status != protocol.StatusContent {
		return protocol.RTCInfo{}, &rtcerr.SignalingError{
			Kind: rtcerr.FailedToInitialize,
			Err:  fmt.Errorf("discovery returned status %d", resp.Status),
		}
	}
	if resp.ContentFormat != protocol.ContentFormatJSON && resp.ContentFormat != protocol.ContentFormatCBOR {
		return protocol.RTCInfo{}, &rtcerr.SignalingError{
			Kind: rtcerr.FailedToInitialize,
			Err:  fmt.Errorf("discovery returned content format %d", resp.ContentFormat),
		}
	}

	info, err := protocol.DecodeInfo(resp.ContentFormat, resp.Payload)
	if err != nil {
		return protocol.RTCInfo{}, &rtcerr.SignalingError{Kind: rtcerr.FailedToInitialize, Err: err}
	}
	return info, nil
}

// choose picks the signaling version and its stream port.
func (c *Connection) choose(info protocol.RTCInfo) (config.Protocol, uint32, error) {
	v1, v2 := info.SignalingStreamPort, info.SignalingV2StreamPort

	switch {
	case c.protocol == config.ProtocolV1 && v1 != nil:
		return config.ProtocolV1, *v1, nil
	case c.protocol == config.ProtocolV2 && v2 != nil:
		return config.ProtocolV2, *v2, nil
	case c.protocol == config.ProtocolAuto && v2 != nil:
		return config.ProtocolV2, *v2, nil
	case c.protocol == config.ProtocolAuto && v1 != nil:
		return config.ProtocolV1, *v1, nil
	}

	return "", 0, &rtcerr.SignalingError{
		Kind: rtcerr.FailedToInitialize,
		Err:  fmt.Errorf("device offers no signaling port for protocol %s", c.protocol),
	}
}

func (c *Connection) setCloser(ch interface{ Close() error }) {
	c.mu.Lock()
	c.closer = ch
	c.mu.Unlock()
}

// CreateDataChannel opens a data channel on the peer connection.
func (c *Connection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	peer, _ := c.session()
	if peer == nil {
		return nil, rtcerr.ErrClosed
	}
	return peer.CreateDataChannel(label)
}

// AddTrack starts sending track; its stream id travels with it.
func (c *Connection) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	peer, _ := c.session()
	if peer == nil {
		return nil, rtcerr.ErrClosed
	}
	return peer.AddTrack(track)
}

// Metadata returns the current track metadata.
func (c *Connection) Metadata() protocol.Metadata {
	_, neg := c.session()
	if neg == nil {
		return protocol.Metadata{}
	}
	return neg.Metadata()
}

// Done is closed once the peer connection is closed.
func (c *Connection) Done() <-chan struct{} {
	peer, _ := c.session()
	if peer == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return peer.Done()
}

// Close stops negotiation and closes the peer connection and the
// signaling stream. Failures are logged, never returned. OnClosed is not
// called for a local close. A Connect still in progress fails with
// rtcerr.ErrClosed.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closedOnce.Do(func() {})

		c.mu.Lock()
		c.isClosed = true
		cancel, peer, closer := c.cancel, c.peer, c.closer
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if peer != nil {
			util.Stats.RemoveSession()
			if err := peer.Close(); err != nil {
				c.log.Warning("failed to close peer connection: %v", err)
			}
		}
		if closer != nil {
			if err := closer.Close(); err != nil {
				c.log.Warning("failed to close signaling stream: %v", err)
			}
		}
		c.wg.Wait()
	})
	return nil
}

func (c *Connection) reportError(err error) {
	c.log.Warning("%v", err)
	c.onError(err)
}

// closed fires OnClosed on its own goroutine so the handler may call Close.
func (c *Connection) closed() {
	c.closedOnce.Do(func() { go c.onClosed() })
}
