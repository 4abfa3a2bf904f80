package protocol

import (
	"errors"
	"reflect"
	"testing"

	"github.com/1ureka/edgertc/internal/rtcerr"
)

func decodeKind(t *testing.T, err error) rtcerr.DecodeKind {
	t.Helper()
	var de *rtcerr.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *rtcerr.DecodeError, got %T (%v)", err, err)
	}
	return de.Kind
}

func TestEncodeOmitsAbsentFields(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"turn request", Message{Type: TypeTurnRequest}, `{"type":3}`},
		{"offer discriminant", Message{Type: TypeOffer}, `{"type":0}`},
		{
			"metadata",
			Message{Type: TypeAnswer, Metadata: &Metadata{Tracks: []MetadataTrack{{Mid: "0", TrackID: "cam"}}, Status: StatusOK}},
			`{"type":1,"metadata":{"tracks":[{"mid":"0","trackId":"cam"}],"status":"OK"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(b) != tt.want {
				t.Fatalf("got %s, want %s", b, tt.want)
			}
		})
	}
}

func TestDecodeOffer(t *testing.T) {
	wire := `{"type": 0, "data": "{\"type\": \"offer\", \"sdp\": \"v=0...\"}", "unknownField": true}`

	msg, err := Decode([]byte(wire))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeOffer {
		t.Fatalf("type = %s, want OFFER", msg.Type)
	}

	desc, err := DecodeDescription(msg.Data)
	if err != nil {
		t.Fatalf("DecodeDescription: %v", err)
	}
	if desc != (Description{Type: SDPTypeOffer, SDP: "v=0..."}) {
		t.Fatalf("unexpected description %+v", desc)
	}
}

func TestIceServersRoundTrip(t *testing.T) {
	in := Message{
		Type: TypeTurnResponse,
		IceServers: []IceServer{
			{URLs: []string{"a", "b"}, Username: "foo", Credential: "bar"},
			{URLs: []string{"c", "d"}, Username: "bob", Credential: "dog"},
		},
	}

	b, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	offer, err := NewDescriptionMessage(Description{Type: SDPTypeOffer, SDP: "v=0\r\n"}, &Metadata{
		Tracks:    []MetadataTrack{{Mid: "0", TrackID: "frontdoor", Error: "NOT_FOUND"}},
		NoTrickle: true,
		Status:    StatusFailed,
	})
	if err != nil {
		t.Fatalf("NewDescriptionMessage: %v", err)
	}
	cand, err := NewCandidateMessage(Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: "0", SDPMLineIndex: NoMLineIndex})
	if err != nil {
		t.Fatalf("NewCandidateMessage: %v", err)
	}

	msgs := []Message{
		offer,
		cand,
		{Type: TypeTurnRequest},
		{Type: TypeTurnResponse, Servers: []TurnServer{{Hostname: "turn.example", Port: 3478, Username: "u", Password: "p"}}},
	}

	for _, in := range msgs {
		t.Run(in.Type.String(), func(t *testing.T) {
			b, err := Encode(in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			out, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(in, out) {
				t.Fatalf("round trip mismatch:\n in: %+v\nout: %+v", in, out)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name   string
		decode func() error
		kind   rtcerr.DecodeKind
		field  string
	}{
		{
			"candidate without candidate",
			func() error { _, err := DecodeCandidate(`{"sdpMid":"0"}`); return err },
			rtcerr.MissingField, "candidate",
		},
		{
			"candidate without sdpMid",
			func() error { _, err := DecodeCandidate(`{"candidate":"c"}`); return err },
			rtcerr.MissingField, "sdpMid",
		},
		{
			"description without sdp",
			func() error { _, err := DecodeDescription(`{"type":"offer"}`); return err },
			rtcerr.MissingField, "sdp",
		},
		{
			"ice server without urls",
			func() error { _, err := Decode([]byte(`{"type":4,"iceServers":[{"username":"x"}]}`)); return err },
			rtcerr.MissingField, "urls",
		},
		{
			"turn server without password",
			func() error {
				_, err := Decode([]byte(`{"type":4,"servers":[{"hostname":"h","port":1,"username":"u"}]}`))
				return err
			},
			rtcerr.MissingField, "password",
		},
		{
			"track without trackId",
			func() error { _, err := Decode([]byte(`{"type":1,"metadata":{"tracks":[{"mid":"0"}]}}`)); return err },
			rtcerr.MissingField, "trackId",
		},
		{
			"missing type",
			func() error { _, err := Decode([]byte(`{"data":"x"}`)); return err },
			rtcerr.MissingField, "type",
		},
		{
			"string type",
			func() error { _, err := Decode([]byte(`{"type":"0"}`)); return err },
			rtcerr.TypeMismatch, "type",
		},
		{
			"unknown type",
			func() error { _, err := Decode([]byte(`{"type":9}`)); return err },
			rtcerr.UnknownType, "type",
		},
		{
			"not json",
			func() error { _, err := Decode([]byte(`{"type":`)); return err },
			rtcerr.Malformed, "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			if kind := decodeKind(t, err); kind != tt.kind {
				t.Fatalf("kind = %s, want %s (%v)", kind, tt.kind, err)
			}
			var de *rtcerr.DecodeError
			errors.As(err, &de)
			if de.Field != tt.field {
				t.Fatalf("field = %q, want %q", de.Field, tt.field)
			}
		})
	}
}

func TestCandidateMLineIndex(t *testing.T) {
	c, err := DecodeCandidate(`{"candidate":"c","sdpMid":"0"}`)
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if c.SDPMLineIndex != NoMLineIndex {
		t.Fatalf("absent index = %d, want %d", c.SDPMLineIndex, NoMLineIndex)
	}

	c, err = DecodeCandidate(`{"candidate":"c","sdpMid":"0","sdpMLineIndex":0}`)
	if err != nil {
		t.Fatalf("DecodeCandidate: %v", err)
	}
	if c.SDPMLineIndex != 0 {
		t.Fatalf("index = %d, want 0", c.SDPMLineIndex)
	}

	s, err := EncodeCandidate(Candidate{Candidate: "c", SDPMid: "0", SDPMLineIndex: NoMLineIndex})
	if err != nil {
		t.Fatalf("EncodeCandidate: %v", err)
	}
	if s != `{"sdpMid":"0","candidate":"c"}` {
		t.Fatalf("encoded %s", s)
	}
}

func TestNewMetadataStatus(t *testing.T) {
	tests := []struct {
		name   string
		tracks []MetadataTrack
		want   string
	}{
		{"no tracks", nil, StatusOK},
		{"no errors", []MetadataTrack{{Mid: "0", TrackID: "a"}}, StatusOK},
		{"explicit ok", []MetadataTrack{{Mid: "0", TrackID: "a", Error: "OK"}}, StatusOK},
		{"one failed", []MetadataTrack{{Mid: "0", TrackID: "a"}, {Mid: "1", TrackID: "b", Error: "NOT_FOUND"}}, StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMetadata(tt.tracks).Status; got != tt.want {
				t.Fatalf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewDescriptionMessageRejectsRollback(t *testing.T) {
	if _, err := NewDescriptionMessage(Description{Type: SDPTypeRollback}, nil); err == nil {
		t.Fatal("expected error for rollback description")
	}
}
