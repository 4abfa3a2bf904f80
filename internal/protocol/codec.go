package protocol

import (
	"encoding/json"
	"errors"

	"github.com/1ureka/edgertc/internal/rtcerr"
)

// Encode serializes a v1 message.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a v1 message. Unknown fields are ignored; a missing or
// unknown "type" is a *rtcerr.DecodeError.
func Decode(data []byte) (Message, error) {
	var w struct {
		Type       *MessageType `json:"type"`
		Data       string       `json:"data"`
		Servers    []TurnServer `json:"servers"`
		IceServers []IceServer  `json:"iceServers"`
		Metadata   *Metadata    `json:"metadata"`
	}
	if err := unmarshal(data, &w); err != nil {
		return Message{}, err
	}
	if w.Type == nil {
		return Message{}, missing("type")
	}
	if !w.Type.valid() {
		return Message{}, &rtcerr.DecodeError{Kind: rtcerr.UnknownType, Field: "type"}
	}
	return Message{
		Type:       *w.Type,
		Data:       w.Data,
		Servers:    w.Servers,
		IceServers: w.IceServers,
		Metadata:   w.Metadata,
	}, nil
}

// EncodeDescription returns the JSON text carried in a v1 "data" field.
func EncodeDescription(d Description) (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeDescription parses the "data" field of an OFFER or ANSWER.
func DecodeDescription(data string) (Description, error) {
	var d Description
	if err := unmarshal([]byte(data), &d); err != nil {
		return Description{}, err
	}
	return d, nil
}

// EncodeCandidate returns the JSON text carried in a v1 "data" field.
func EncodeCandidate(c Candidate) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeCandidate parses the "data" field of an ICE_CANDIDATE.
func DecodeCandidate(data string) (Candidate, error) {
	var c Candidate
	if err := unmarshal([]byte(data), &c); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// V1Codec encodes v1 messages for a signaling channel.
type V1Codec struct{}

func (V1Codec) Encode(msg Message) ([]byte, error) { return Encode(msg) }
func (V1Codec) Decode(data []byte) (Message, error) { return Decode(data) }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// unmarshal is json.Unmarshal with errors mapped onto *rtcerr.DecodeError.
func unmarshal(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}

	var de *rtcerr.DecodeError
	if errors.As(err, &de) {
		return de
	}

	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		return &rtcerr.DecodeError{Kind: rtcerr.TypeMismatch, Field: te.Field, Err: err}
	}

	return &rtcerr.DecodeError{Kind: rtcerr.Malformed, Err: err}
}

func missing(field string) error {
	return &rtcerr.DecodeError{Kind: rtcerr.MissingField, Field: field}
}
