package signaling

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/util"
)

// V1 speaks the integer-typed message set. Metadata travels inside OFFER
// and ANSWER messages.
type V1 struct {
	ch *Channel[protocol.Message]
}

// NewV1 wraps a started channel.
func NewV1(ch *Channel[protocol.Message]) *V1 {
	return &V1{ch: ch}
}

// SendDescription signals an offer or answer together with md.
func (s *V1) SendDescription(ctx context.Context, desc webrtc.SessionDescription, md protocol.Metadata) <-chan error {
	msg, err := protocol.NewDescriptionMessage(descriptionFromPion(desc), &md)
	if err != nil {
		return failed(&rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: err})
	}
	return s.ch.Send(ctx, msg)
}

// SendCandidate signals a local ICE candidate.
func (s *V1) SendCandidate(ctx context.Context, c webrtc.ICECandidateInit) <-chan error {
	msg, err := protocol.NewCandidateMessage(candidateFromPion(c))
	if err != nil {
		return failed(&rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: err})
	}
	return s.ch.Send(ctx, msg)
}

// Recv reads the next message and translates it.
func (s *V1) Recv() (Event, error) {
	msg, err := s.ch.Recv()
	if err != nil {
		return Event{}, err
	}
	return eventFromV1(msg)
}

func eventFromV1(msg protocol.Message) (Event, error) {
	switch msg.Type {
	case protocol.TypeOffer, protocol.TypeAnswer:
		d, err := protocol.DecodeDescription(msg.Data)
		if err != nil {
			return Event{}, err
		}
		desc, err := descriptionToPion(d)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventDescription, Description: desc, Metadata: msg.Metadata}, nil

	case protocol.TypeIceCandidate:
		c, err := protocol.DecodeCandidate(msg.Data)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventCandidate, Candidate: candidateToPion(c)}, nil

	default:
		return Event{Kind: EventIgnored, Note: msg.Type.String()}, nil
	}
}

// RequestTurn performs the v1 handshake: it sends TURN_REQUEST and waits for
// the TURN_RESPONSE. Unrelated messages arriving first are skipped. The
// channel must be closed by the caller if ctx ends first.
func RequestTurn(ctx context.Context, ch *Channel[protocol.Message]) ([]protocol.IceServer, error) {
	if err := <-ch.Send(ctx, protocol.Message{Type: protocol.TypeTurnRequest}); err != nil {
		return nil, err
	}

	for {
		msg, err := ch.RecvContext(ctx)
		if err != nil {
			if skippable(err) {
				util.LogDebug("skipping unknown message before TURN_RESPONSE: %v", err)
				continue
			}
			return nil, recvFailed(err)
		}

		if msg.Type != protocol.TypeTurnResponse {
			util.LogDebug("skipping %s before TURN_RESPONSE", msg.Type)
			continue
		}

		return append(msg.IceServers, legacyICEServers(msg.Servers)...), nil
	}
}

// skippable reports whether a receive error concerns only one message of a
// type this side does not know.
func skippable(err error) bool {
	var de *rtcerr.DecodeError
	return errors.As(err, &de) && de.Kind == rtcerr.UnknownType
}

func recvFailed(err error) error {
	var se *rtcerr.SignalingError
	if errors.As(err, &se) {
		return err
	}
	return &rtcerr.SignalingError{Kind: rtcerr.FailedRecv, Err: err}
}
