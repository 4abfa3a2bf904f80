package device

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/framing"
	"github.com/1ureka/edgertc/internal/negotiator"
	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/signaling"
	"github.com/1ureka/edgertc/internal/transport"
	"github.com/1ureka/edgertc/internal/tunnel"
	"github.com/1ureka/edgertc/internal/util"
)

// serve runs the handshake for the stream's signaling version and then the
// session. The device is impolite on v1; on v2 it takes the role opposite
// to the one granted to the client.
func (s *Server) serve(conn *websocket.Conn, port uint32) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stream := framing.NewStream(tunnel.NewStreamConn(conn))

	var (
		sig    negotiator.Signaler
		polite bool
	)

	switch port {
	case PortV1:
		ch := signaling.NewChannel[protocol.Message](stream, protocol.V1Codec{})
		ch.Start(ctx)
		defer ch.Close()

		if err := signaling.ServeTurn(ctx, ch, s.opts.ICEServers); err != nil {
			s.log.Warning("v1 handshake failed: %v", err)
			return
		}
		sig, polite = signaling.NewV1(ch), false

	case PortV2:
		ch := signaling.NewChannel[protocol.V2Message](stream, protocol.V2Codec{})
		ch.Start(ctx)
		defer ch.Close()

		res, err := signaling.AcceptSetup(ctx, ch, s.opts.ICEServers)
		if err != nil {
			s.log.Warning("v2 handshake failed: %v", err)
			return
		}
		s.log.Debug("session %s accepted", res.ID)
		sig, polite = signaling.NewV2(ch), !res.Polite
	}

	if err := s.runSession(ctx, sig, polite); err != nil && !rtcerr.IsTerminal(err) {
		s.log.Warning("session ended: %v", err)
	}
}

// runSession negotiates one peer connection until signaling ends.
func (s *Server) runSession(ctx context.Context, sig negotiator.Signaler, polite bool) error {
	peer, err := s.engine.NewPeer(ctx, signaling.ICEServers(s.opts.ICEServers))
	if err != nil {
		return err
	}
	defer peer.Close()

	util.Stats.AddSession()
	defer util.Stats.RemoveSession()

	neg := negotiator.New(peer, sig, polite,
		negotiator.WithErrorHandler(func(err error) { s.log.Warning("%v", err) }),
		negotiator.WithLogger(util.Scoped("device-negotiator")),
	)
	negotiator.Bind(peer, neg, func(state webrtc.ICEConnectionState) {
		s.log.Debug("ICE connection state: %s", state)
	})

	peer.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.log.Info("echoing data channel %q", dc.Label())
		echo(ctx, dc)
	})

	if s.opts.Video {
		track, err := newTestTrack(s.opts.TrackID)
		if err != nil {
			return err
		}
		if _, err := peer.AddTrack(track); err != nil {
			return &rtcerr.ConnectionInitError{Err: err}
		}
		go runTestPattern(ctx, track)
	}

	s.log.Info("session started (polite=%v)", polite)
	err = neg.Run(ctx)
	if errors.Is(err, rtcerr.ErrEndOfStream) {
		s.log.Info("client disconnected (peer connection %s)", peer.ConnectionState())
	}
	return err
}

// echo sends every message received on dc back to the sender.
func echo(ctx context.Context, dc *webrtc.DataChannel) {
	sender := transport.NewSender(ctx, dc)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		sender.Send(ctx, msg.Data)
	})
}
