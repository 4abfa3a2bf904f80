package signaling

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
)

func descriptionToPion(d protocol.Description) (webrtc.SessionDescription, error) {
	t := webrtc.NewSDPType(string(d.Type))
	if t == webrtc.SDPTypeUnknown {
		return webrtc.SessionDescription{}, &rtcerr.DecodeError{Kind: rtcerr.TypeMismatch, Field: "type"}
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

func descriptionFromPion(d webrtc.SessionDescription) protocol.Description {
	return protocol.Description{Type: protocol.SDPType(d.Type.String()), SDP: d.SDP}
}

func candidateToPion(c protocol.Candidate) webrtc.ICECandidateInit {
	mid := c.SDPMid
	init := webrtc.ICECandidateInit{Candidate: c.Candidate, SDPMid: &mid}
	if c.SDPMLineIndex >= 0 {
		idx := uint16(c.SDPMLineIndex)
		init.SDPMLineIndex = &idx
	}
	if c.UsernameFragment != "" {
		ufrag := c.UsernameFragment
		init.UsernameFragment = &ufrag
	}
	return init
}

func candidateFromPion(init webrtc.ICECandidateInit) protocol.Candidate {
	c := protocol.Candidate{Candidate: init.Candidate, SDPMLineIndex: protocol.NoMLineIndex}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	if init.UsernameFragment != nil {
		c.UsernameFragment = *init.UsernameFragment
	}
	return c
}

// ICEServers converts signaled ICE servers to pion's configuration form.
func ICEServers(servers []protocol.IceServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		srv := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

// legacyICEServers turns the single-host TURN entries of an old
// TURN_RESPONSE into ICE server entries.
func legacyICEServers(servers []protocol.TurnServer) []protocol.IceServer {
	out := make([]protocol.IceServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, protocol.IceServer{
			URLs:       []string{fmt.Sprintf("turn:%s:%d", s.Hostname, s.Port)},
			Username:   s.Username,
			Credential: s.Password,
		})
	}
	return out
}
