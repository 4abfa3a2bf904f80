package protocol

import (
	"encoding/json"

	"github.com/1ureka/edgertc/internal/rtcerr"
)

// ---------------------------------------------------------------------------
// Session description
// ---------------------------------------------------------------------------

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypePranswer SDPType = "pranswer"
	SDPTypeRollback SDPType = "rollback"
)

// Description is a session description as it travels over signaling.
type Description struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

func (d *Description) UnmarshalJSON(data []byte) error {
	var w struct {
		Type *SDPType `json:"type"`
		SDP  *string  `json:"sdp"`
	}
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	if w.Type == nil {
		return missing("type")
	}
	if w.SDP == nil {
		return missing("sdp")
	}
	switch *w.Type {
	case SDPTypeOffer, SDPTypeAnswer, SDPTypePranswer, SDPTypeRollback:
	default:
		return &rtcerr.DecodeError{Kind: rtcerr.TypeMismatch, Field: "type"}
	}
	*d = Description{Type: *w.Type, SDP: *w.SDP}
	return nil
}

// ---------------------------------------------------------------------------
// ICE candidate
// ---------------------------------------------------------------------------

// NoMLineIndex marks a candidate without an m-line index.
const NoMLineIndex = -1

// Candidate is a trickled ICE candidate. SDPMLineIndex is NoMLineIndex when
// absent and is then omitted on the wire.
type Candidate struct {
	Candidate        string
	SDPMid           string
	SDPMLineIndex    int
	UsernameFragment string
}

type candidateWire struct {
	SDPMid           *string `json:"sdpMid"`
	Candidate        *string `json:"candidate"`
	SDPMLineIndex    *int    `json:"sdpMLineIndex,omitempty"`
	UsernameFragment string  `json:"usernameFragment,omitempty"`
}

func (c Candidate) MarshalJSON() ([]byte, error) {
	w := candidateWire{
		SDPMid:           &c.SDPMid,
		Candidate:        &c.Candidate,
		UsernameFragment: c.UsernameFragment,
	}
	if c.SDPMLineIndex >= 0 {
		w.SDPMLineIndex = &c.SDPMLineIndex
	}
	return json.Marshal(w)
}

func (c *Candidate) UnmarshalJSON(data []byte) error {
	var w candidateWire
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	if w.Candidate == nil {
		return missing("candidate")
	}
	if w.SDPMid == nil {
		return missing("sdpMid")
	}
	*c = Candidate{
		Candidate:        *w.Candidate,
		SDPMid:           *w.SDPMid,
		SDPMLineIndex:    NoMLineIndex,
		UsernameFragment: w.UsernameFragment,
	}
	if w.SDPMLineIndex != nil {
		c.SDPMLineIndex = *w.SDPMLineIndex
	}
	return nil
}

// ---------------------------------------------------------------------------
// ICE / TURN servers
// ---------------------------------------------------------------------------

// IceServer is a STUN or TURN server entry.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

func (s *IceServer) UnmarshalJSON(data []byte) error {
	var w struct {
		URLs       *[]string `json:"urls"`
		Username   string    `json:"username"`
		Credential string    `json:"credential"`
	}
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	if w.URLs == nil {
		return missing("urls")
	}
	*s = IceServer{URLs: *w.URLs, Username: w.Username, Credential: w.Credential}
	return nil
}

// TurnServer is the legacy single-host TURN entry of a v1 TURN_RESPONSE.
type TurnServer struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *TurnServer) UnmarshalJSON(data []byte) error {
	var w struct {
		Hostname *string `json:"hostname"`
		Port     *int    `json:"port"`
		Username *string `json:"username"`
		Password *string `json:"password"`
	}
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	switch {
	case w.Hostname == nil:
		return missing("hostname")
	case w.Port == nil:
		return missing("port")
	case w.Username == nil:
		return missing("username")
	case w.Password == nil:
		return missing("password")
	}
	*s = TurnServer{Hostname: *w.Hostname, Port: *w.Port, Username: *w.Username, Password: *w.Password}
	return nil
}

// ---------------------------------------------------------------------------
// Track metadata
// ---------------------------------------------------------------------------

// Metadata status values.
const (
	StatusOK     = "OK"
	StatusFailed = "FAILED"
)

// MetadataTrack maps a negotiated media section to an application track id.
// Error is set by the device when it could not provide the track.
type MetadataTrack struct {
	Mid     string `json:"mid"`
	TrackID string `json:"trackId"`
	Error   string `json:"error,omitempty"`
}

func (t *MetadataTrack) UnmarshalJSON(data []byte) error {
	var w struct {
		Mid     *string `json:"mid"`
		TrackID *string `json:"trackId"`
		Error   string  `json:"error"`
	}
	if err := unmarshal(data, &w); err != nil {
		return err
	}
	if w.Mid == nil {
		return missing("mid")
	}
	if w.TrackID == nil {
		return missing("trackId")
	}
	*t = MetadataTrack{Mid: *w.Mid, TrackID: *w.TrackID, Error: w.Error}
	return nil
}

// Failed reports whether the track carries an error.
func (t MetadataTrack) Failed() bool {
	return t.Error != "" && t.Error != StatusOK
}

// Metadata accompanies descriptions and tells the other side which
// application track each media section carries.
type Metadata struct {
	Tracks    []MetadataTrack `json:"tracks,omitempty"`
	NoTrickle bool            `json:"noTrickle,omitempty"`
	Status    string          `json:"status,omitempty"`
}

// NewMetadata builds metadata for tracks. Status is FAILED when any track
// carries an error, OK otherwise.
func NewMetadata(tracks []MetadataTrack) Metadata {
	status := StatusOK
	for _, t := range tracks {
		if t.Failed() {
			status = StatusFailed
			break
		}
	}
	return Metadata{Tracks: tracks, Status: status}
}

// EncodeMetadata returns the JSON text of md. Version 2 carries metadata as
// a string.
func EncodeMetadata(md Metadata) (string, error) {
	b, err := json.Marshal(md)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMetadata parses JSON text produced by EncodeMetadata.
func DecodeMetadata(s string) (Metadata, error) {
	var md Metadata
	if err := unmarshal([]byte(s), &md); err != nil {
		return Metadata{}, err
	}
	return md, nil
}
