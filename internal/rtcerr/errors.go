// Package rtcerr defines the error taxonomy shared by the signaling,
// negotiation and connection layers. Every error type supports errors.Is /
// errors.As so callers can branch on kind without string matching.
package rtcerr

import (
	"errors"
	"fmt"
)

// ErrEndOfStream is matched by a TransportError whose code is CodeEndOfStream.
var ErrEndOfStream = errors.New("end of stream")

// ErrClosed is returned by components that were used after Close.
var ErrClosed = errors.New("closed")

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// TransportCode classifies a TransportError.
type TransportCode int

const (
	CodeFailed      TransportCode = iota // generic I/O failure
	CodeEndOfStream                      // remote closed, or fewer bytes than a full frame
	CodeStopped                          // stream was closed locally
)

func (c TransportCode) String() string {
	switch c {
	case CodeEndOfStream:
		return "end of stream"
	case CodeStopped:
		return "stopped"
	default:
		return "failed"
	}
}

// TransportError is an I/O failure of the underlying byte stream.
type TransportError struct {
	Code TransportCode
	Op   string // "send" or "receive"
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("transport %s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	return target == ErrEndOfStream && e.Code == CodeEndOfStream
}

// IsTerminal reports whether err ends a receive loop: end of stream, a
// locally stopped stream, or use after close.
func IsTerminal(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code == CodeEndOfStream || te.Code == CodeStopped
	}
	return errors.Is(err, ErrClosed)
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// DecodeKind classifies a DecodeError.
type DecodeKind int

const (
	Malformed    DecodeKind = iota // not valid JSON
	MissingField                   // a required field is absent
	TypeMismatch                   // a field has the wrong JSON type
	UnknownType                    // message type is not recognised
)

func (k DecodeKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case TypeMismatch:
		return "type mismatch"
	case UnknownType:
		return "unknown type"
	default:
		return "malformed"
	}
}

// DecodeError reports a signaling payload that could not be decoded.
type DecodeError struct {
	Kind  DecodeKind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := "decode: " + e.Kind.String()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// SignalingKind classifies a SignalingError.
type SignalingKind int

const (
	FailedToInitialize SignalingKind = iota // discovery or stream open failed
	FailedSend                              // a message could not be written
	FailedRecv                              // a message could not be read
	InvalidMessage                          // unexpected message for the current phase
	SetupRejected                           // remote answered setup with an error
)

func (k SignalingKind) String() string {
	switch k {
	case FailedToInitialize:
		return "failed to initialize"
	case FailedSend:
		return "failed to send"
	case FailedRecv:
		return "failed to receive"
	case InvalidMessage:
		return "invalid message"
	case SetupRejected:
		return "setup rejected"
	default:
		return "unknown"
	}
}

// SignalingError is a failure in the signaling layer.
type SignalingError struct {
	Kind        SignalingKind
	Code        string // remote error code, SetupRejected only
	Description string
	Err         error
}

func (e *SignalingError) Error() string {
	msg := "signaling: " + e.Kind.String()
	if e.Code != "" {
		msg += fmt.Sprintf(" (%s)", e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SignalingError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Negotiation / connection
// ---------------------------------------------------------------------------

// NegotiationOp names the negotiation step that failed.
type NegotiationOp string

const (
	OpSetRemoteDescription NegotiationOp = "set remote description"
	OpSetLocalDescription  NegotiationOp = "set local description"
	OpCreateOffer          NegotiationOp = "create offer"
	OpSendAnswer           NegotiationOp = "send answer"
	OpAddICECandidate      NegotiationOp = "add ice candidate"
)

// NegotiationError is a non-fatal failure while applying a description or
// candidate. The connection keeps running after one is reported.
type NegotiationError struct {
	Op  NegotiationOp
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation: %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// ConnectionInitError means the peer connection could not be constructed.
type ConnectionInitError struct {
	Err error
}

func (e *ConnectionInitError) Error() string {
	return fmt.Sprintf("peer connection init: %v", e.Err)
}

func (e *ConnectionInitError) Unwrap() error { return e.Err }
