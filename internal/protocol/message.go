// Package protocol defines the signaling message sets exchanged with a
// device and their JSON wire encoding.
//
// Two message sets exist. Version 1 uses an integer discriminant and carries
// descriptions and candidates as JSON text inside a "data" string. Version 2
// uses a string discriminant and nests payloads as objects.
package protocol

import "fmt"

// MessageType is the v1 discriminant. The integer values are part of the
// wire contract.
type MessageType int

const (
	TypeOffer        MessageType = 0
	TypeAnswer       MessageType = 1
	TypeIceCandidate MessageType = 2
	TypeTurnRequest  MessageType = 3
	TypeTurnResponse MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case TypeOffer:
		return "OFFER"
	case TypeAnswer:
		return "ANSWER"
	case TypeIceCandidate:
		return "ICE_CANDIDATE"
	case TypeTurnRequest:
		return "TURN_REQUEST"
	case TypeTurnResponse:
		return "TURN_RESPONSE"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

func (t MessageType) valid() bool {
	return t >= TypeOffer && t <= TypeTurnResponse
}

// Message is a v1 signaling message. Absent fields are omitted on the wire.
type Message struct {
	Type       MessageType  `json:"type"`
	Data       string       `json:"data,omitempty"`       // JSON text of a Description or Candidate
	Servers    []TurnServer `json:"servers,omitempty"`    // legacy TURN list
	IceServers []IceServer  `json:"iceServers,omitempty"` // TURN_RESPONSE
	Metadata   *Metadata    `json:"metadata,omitempty"`   // OFFER / ANSWER
}

// NewDescriptionMessage builds an OFFER or ANSWER carrying desc.
func NewDescriptionMessage(desc Description, md *Metadata) (Message, error) {
	var t MessageType
	switch desc.Type {
	case SDPTypeOffer:
		t = TypeOffer
	case SDPTypeAnswer:
		t = TypeAnswer
	default:
		return Message{}, fmt.Errorf("cannot signal description of type %q", desc.Type)
	}

	data, err := EncodeDescription(desc)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Data: data, Metadata: md}, nil
}

// NewCandidateMessage builds an ICE_CANDIDATE message carrying c.
func NewCandidateMessage(c Candidate) (Message, error) {
	data, err := EncodeCandidate(c)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeIceCandidate, Data: data}, nil
}
