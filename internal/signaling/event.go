package signaling

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
)

// EventKind identifies what a received message means to the negotiator.
type EventKind int

const (
	EventDescription EventKind = iota // remote offer or answer
	EventCandidate                    // remote ICE candidate
	EventMetadata                     // track metadata not followed by a description
	EventIgnored                      // message with no negotiation meaning
)

// Event is a received signaling message in protocol-neutral form.
type Event struct {
	Kind        EventKind
	Description webrtc.SessionDescription
	Candidate   webrtc.ICECandidateInit
	Metadata    *protocol.Metadata // may accompany a description
	Note        string             // EventIgnored: what was received
}
