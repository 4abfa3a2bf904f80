package signaling

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/util"
)

// V2 speaks the string-typed message set. Metadata is sent as a METADATA
// message immediately ahead of each DESCRIPTION, and on receive it is
// folded back into the description event it preceded.
type V2 struct {
	ch *Channel[protocol.V2Message]

	// Recv lookahead; Recv must be called from one goroutine.
	pending *protocol.Metadata
	queued  *Event
	err     error
}

// NewV2 wraps a started channel.
func NewV2(ch *Channel[protocol.V2Message]) *V2 {
	return &V2{ch: ch}
}

// SendDescription signals md followed by desc. The completion yields after
// both frames.
func (s *V2) SendDescription(ctx context.Context, desc webrtc.SessionDescription, md protocol.Metadata) <-chan error {
	text, err := protocol.EncodeMetadata(md)
	if err != nil {
		return failed(&rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: err})
	}
	d := descriptionFromPion(desc)

	mdDone := s.ch.Send(ctx, protocol.V2Message{Type: protocol.TypeMetadata, Metadata: &text})
	descDone := s.ch.Send(ctx, protocol.V2Message{Type: protocol.TypeDescription, Description: &d})
	return joinCompletions(mdDone, descDone)
}

// SendCandidate signals a local ICE candidate.
func (s *V2) SendCandidate(ctx context.Context, c webrtc.ICECandidateInit) <-chan error {
	pc := candidateFromPion(c)
	return s.ch.Send(ctx, protocol.V2Message{Type: protocol.TypeCandidate, Candidate: &pc})
}

// Recv reads the next message and translates it. Track metadata is held
// until the following message: a DESCRIPTION carries it in Event.Metadata,
// anything else releases it first as a standalone EventMetadata.
func (s *V2) Recv() (Event, error) {
	if s.queued != nil {
		ev := *s.queued
		s.queued = nil
		return ev, nil
	}
	if s.err != nil {
		err := s.err
		s.err = nil
		return Event{}, err
	}

	for {
		msg, err := s.ch.Recv()
		if err != nil {
			if md := s.takePending(); md != nil {
				s.err = err
				return Event{Kind: EventMetadata, Metadata: md}, nil
			}
			return Event{}, err
		}

		ev, err := eventFromV2(msg)
		if err != nil {
			return Event{}, err
		}

		switch ev.Kind {
		case EventMetadata:
			prev := s.takePending()
			s.pending = ev.Metadata
			if prev != nil {
				return Event{Kind: EventMetadata, Metadata: prev}, nil
			}
		case EventDescription:
			ev.Metadata = s.takePending()
			return ev, nil
		default:
			if md := s.takePending(); md != nil {
				s.queued = &ev
				return Event{Kind: EventMetadata, Metadata: md}, nil
			}
			return ev, nil
		}
	}
}

func (s *V2) takePending() *protocol.Metadata {
	md := s.pending
	s.pending = nil
	return md
}

func eventFromV2(msg protocol.V2Message) (Event, error) {
	switch msg.Type {
	case protocol.TypeDescription:
		desc, err := descriptionToPion(*msg.Description)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: EventDescription, Description: desc}, nil

	case protocol.TypeCandidate:
		return Event{Kind: EventCandidate, Candidate: candidateToPion(*msg.Candidate)}, nil

	case protocol.TypeMetadata:
		md, err := protocol.DecodeMetadata(*msg.Metadata)
		if err != nil {
			// Metadata is free-form in v2; only track metadata concerns us.
			return Event{Kind: EventIgnored, Note: "non-track metadata"}, nil
		}
		return Event{Kind: EventMetadata, Metadata: &md}, nil

	default:
		return Event{Kind: EventIgnored, Note: string(msg.Type)}, nil
	}
}

// SetupResult is the outcome of the v2 setup handshake.
type SetupResult struct {
	ID         string
	Polite     bool // politeness of the requesting side
	IceServers []protocol.IceServer
}

// Setup performs the v2 handshake: it sends SETUP_REQUEST with the optional
// politeness preference and waits for SETUP_RESPONSE. A SETUP_ERROR yields a
// *rtcerr.SignalingError of kind SetupRejected.
func Setup(ctx context.Context, ch *Channel[protocol.V2Message], prefer *bool) (SetupResult, error) {
	if err := <-ch.Send(ctx, protocol.V2Message{Type: protocol.TypeSetupRequest, Polite: prefer}); err != nil {
		return SetupResult{}, err
	}

	for {
		msg, err := ch.RecvContext(ctx)
		if err != nil {
			if skippable(err) {
				util.LogDebug("skipping unknown message before SETUP_RESPONSE: %v", err)
				continue
			}
			return SetupResult{}, recvFailed(err)
		}

		switch msg.Type {
		case protocol.TypeSetupResponse:
			return SetupResult{ID: msg.ID, Polite: *msg.Polite, IceServers: msg.IceServers}, nil
		case protocol.TypeSetupError:
			return SetupResult{}, &rtcerr.SignalingError{
				Kind:        rtcerr.SetupRejected,
				Code:        msg.Error.Code,
				Description: msg.Error.Description,
			}
		default:
			util.LogDebug("skipping %s before SETUP_RESPONSE", msg.Type)
		}
	}
}
