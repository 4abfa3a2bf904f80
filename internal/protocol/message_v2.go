package protocol

import (
	"encoding/json"
	"strings"

	"github.com/1ureka/edgertc/internal/rtcerr"
)

// V2Type is the v2 discriminant.
type V2Type string

const (
	TypeSetupRequest  V2Type = "SETUP_REQUEST"
	TypeSetupResponse V2Type = "SETUP_RESPONSE"
	TypeSetupError    V2Type = "SETUP_ERROR"
	TypeDescription   V2Type = "DESCRIPTION"
	TypeCandidate     V2Type = "CANDIDATE"
	TypeMetadata      V2Type = "METADATA"
)

var v2Types = []V2Type{
	TypeSetupRequest,
	TypeSetupResponse,
	TypeSetupError,
	TypeDescription,
	TypeCandidate,
	TypeMetadata,
}

// parseV2Type matches s against the known types ignoring case and
// underscores, so "setupResponse" and "SETUP_RESPONSE" are equal.
func parseV2Type(s string) (V2Type, bool) {
	key := foldType(s)
	for _, t := range v2Types {
		if foldType(string(t)) == key {
			return t, true
		}
	}
	return "", false
}

func foldType(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, "_", ""))
}

// SetupFailure is the error body of a SETUP_ERROR.
type SetupFailure struct {
	Code        string `json:"errorCode"`
	Description string `json:"errorDescription"`
}

// V2Message is a v2 signaling message. Which fields are set depends on Type.
type V2Message struct {
	Type        V2Type        `json:"type"`
	ID          string        `json:"id,omitempty"`          // SETUP_RESPONSE
	Polite      *bool         `json:"polite,omitempty"`      // SETUP_REQUEST (optional), SETUP_RESPONSE
	IceServers  []IceServer   `json:"iceServers,omitempty"`  // SETUP_RESPONSE
	Error       *SetupFailure `json:"error,omitempty"`       // SETUP_ERROR
	Description *Description  `json:"description,omitempty"` // DESCRIPTION
	Candidate   *Candidate    `json:"candidate,omitempty"`   // CANDIDATE
	Metadata    *string       `json:"metadata,omitempty"`    // METADATA, free-form text
}

// EncodeV2 serializes a v2 message.
func EncodeV2(msg V2Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeV2 parses a v2 message and checks the fields its type requires.
func DecodeV2(data []byte) (V2Message, error) {
	var w struct {
		Type        *string     `json:"type"`
		ID          *string     `json:"id"`
		Polite      *bool       `json:"polite"`
		IceServers  []IceServer `json:"iceServers"`
		Error       *struct {
			Code        *string `json:"errorCode"`
			Description *string `json:"errorDescription"`
		} `json:"error"`
		Description *Description `json:"description"`
		Candidate   *Candidate   `json:"candidate"`
		Metadata    *string      `json:"metadata"`
	}
	if err := unmarshal(data, &w); err != nil {
		return V2Message{}, err
	}
	if w.Type == nil {
		return V2Message{}, missing("type")
	}
	t, ok := parseV2Type(*w.Type)
	if !ok {
		return V2Message{}, &rtcerr.DecodeError{Kind: rtcerr.UnknownType, Field: "type"}
	}

	msg := V2Message{Type: t, Polite: w.Polite}
	switch t {
	case TypeSetupResponse:
		if w.ID == nil {
			return V2Message{}, missing("id")
		}
		if w.Polite == nil {
			return V2Message{}, missing("polite")
		}
		msg.ID = *w.ID
		msg.IceServers = w.IceServers
	case TypeSetupError:
		if w.Error == nil {
			return V2Message{}, missing("error")
		}
		if w.Error.Code == nil {
			return V2Message{}, missing("errorCode")
		}
		if w.Error.Description == nil {
			return V2Message{}, missing("errorDescription")
		}
		msg.Error = &SetupFailure{Code: *w.Error.Code, Description: *w.Error.Description}
	case TypeDescription:
		if w.Description == nil {
			return V2Message{}, missing("description")
		}
		msg.Description = w.Description
	case TypeCandidate:
		if w.Candidate == nil {
			return V2Message{}, missing("candidate")
		}
		msg.Candidate = w.Candidate
	case TypeMetadata:
		if w.Metadata == nil {
			return V2Message{}, missing("metadata")
		}
		msg.Metadata = w.Metadata
	}
	return msg, nil
}

// V2Codec encodes v2 messages for a signaling channel.
type V2Codec struct{}

func (V2Codec) Encode(msg V2Message) ([]byte, error) { return EncodeV2(msg) }
func (V2Codec) Decode(data []byte) (V2Message, error) { return DecodeV2(data) }
