package negotiator

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/transport"
)

// Bind routes the peer's negotiation events into n. onICEState, if not nil,
// additionally observes every ICE connection state.
func Bind(p *transport.Peer, n *Negotiator, onICEState func(webrtc.ICEConnectionState)) {
	p.OnNegotiationNeeded(n.NegotiationNeeded)
	p.OnSignalingStateChange(n.SignalingStateChange)

	p.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		n.LocalCandidate(c.ToJSON())
	})

	p.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		n.ICEConnectionStateChange(state)
		if onICEState != nil {
			onICEState(state)
		}
	})
}
