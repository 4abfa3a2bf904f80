package signaling

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pion/transport/v4/test"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
)

var testServers = []protocol.IceServer{
	{URLs: []string{"a", "b"}, Username: "foo", Credential: "bar"},
	{URLs: []string{"c", "d"}, Username: "bob", Credential: "dog"},
}

func TestRequestTurn(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, device := newPair[protocol.Message](t, protocol.V1Codec{})
	client.Start(ctx)
	device.Start(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- ServeTurn(ctx, device, testServers) }()

	servers, err := RequestTurn(ctx, client)
	if err != nil {
		t.Fatalf("RequestTurn: %v", err)
	}
	if !reflect.DeepEqual(servers, testServers) {
		t.Fatalf("servers = %+v", servers)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("ServeTurn: %v", err)
	}
}

func TestRequestTurnMergesLegacyServers(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, device := newPair[protocol.Message](t, protocol.V1Codec{})
	client.Start(ctx)
	device.Start(ctx)

	go func() {
		if _, err := device.Recv(); err != nil {
			return
		}
		// An unrelated message first, then the legacy response.
		<-device.Send(ctx, protocol.Message{Type: protocol.TypeIceCandidate, Data: `{"sdpMid":"0","candidate":"c"}`})
		<-device.Send(ctx, protocol.Message{
			Type:       protocol.TypeTurnResponse,
			IceServers: []protocol.IceServer{{URLs: []string{"stun:stun.example:3478"}}},
			Servers:    []protocol.TurnServer{{Hostname: "turn.example", Port: 3478, Username: "u", Password: "p"}},
		})
	}()

	servers, err := RequestTurn(ctx, client)
	if err != nil {
		t.Fatalf("RequestTurn: %v", err)
	}
	want := []protocol.IceServer{
		{URLs: []string{"stun:stun.example:3478"}},
		{URLs: []string{"turn:turn.example:3478"}, Username: "u", Credential: "p"},
	}
	if !reflect.DeepEqual(servers, want) {
		t.Fatalf("servers = %+v, want %+v", servers, want)
	}
}

func TestRequestTurnStreamClosed(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, device := newPair[protocol.Message](t, protocol.V1Codec{})
	client.Start(ctx)
	device.Start(ctx)

	go func() {
		_, _ = device.Recv()
		_ = device.Close()
	}()

	_, err := RequestTurn(ctx, client)
	var se *rtcerr.SignalingError
	if !errors.As(err, &se) || se.Kind != rtcerr.FailedRecv {
		t.Fatalf("expected FailedRecv, got %v", err)
	}
	if !errors.Is(err, rtcerr.ErrEndOfStream) {
		t.Fatalf("expected cause to be end of stream, got %v", err)
	}
}

func TestSetupPoliteness(t *testing.T) {
	yes, no := true, false

	tests := []struct {
		name   string
		prefer *bool
		want   bool
	}{
		{"default polite", nil, true},
		{"prefer polite", &yes, true},
		{"prefer impolite", &no, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lim := test.TimeOut(10 * time.Second)
			defer lim.Stop()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client, device := newPair[protocol.V2Message](t, protocol.V2Codec{})
			client.Start(ctx)
			device.Start(ctx)

			accepted := make(chan SetupResult, 1)
			go func() {
				res, err := AcceptSetup(ctx, device, testServers)
				if err != nil {
					t.Errorf("AcceptSetup: %v", err)
				}
				accepted <- res
			}()

			res, err := Setup(ctx, client, tt.prefer)
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			if res.Polite != tt.want {
				t.Fatalf("polite = %v, want %v", res.Polite, tt.want)
			}
			if !reflect.DeepEqual(res.IceServers, testServers) {
				t.Fatalf("ice servers = %+v", res.IceServers)
			}

			dev := <-accepted
			if dev.ID == "" || dev.ID != res.ID {
				t.Fatalf("ids differ: device %q, client %q", dev.ID, res.ID)
			}
		})
	}
}

func TestSetupRejected(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, device := newPair[protocol.V2Message](t, protocol.V2Codec{})
	client.Start(ctx)
	device.Start(ctx)

	go func() {
		if _, err := device.Recv(); err != nil {
			return
		}
		<-device.Send(ctx, protocol.V2Message{
			Type:  protocol.TypeSetupError,
			Error: &protocol.SetupFailure{Code: "ACCESS_DENIED", Description: "pairing required"},
		})
	}()

	_, err := Setup(ctx, client, nil)
	var se *rtcerr.SignalingError
	if !errors.As(err, &se) {
		t.Fatalf("expected SignalingError, got %v", err)
	}
	if se.Kind != rtcerr.SetupRejected || se.Code != "ACCESS_DENIED" || se.Description != "pairing required" {
		t.Fatalf("unexpected error %+v", se)
	}
}

func TestAcceptSetupUnexpectedMessage(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, device := newPair[protocol.V2Message](t, protocol.V2Codec{})
	client.Start(ctx)
	device.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := AcceptSetup(ctx, device, nil)
		errCh <- err
	}()

	md := "{}"
	if err := await(t, client.Send(ctx, protocol.V2Message{Type: protocol.TypeMetadata, Metadata: &md})); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if reply.Type != protocol.TypeSetupError || reply.Error.Code != CodeUnexpectedMessage {
		t.Fatalf("unexpected reply %+v", reply)
	}

	var se *rtcerr.SignalingError
	if err := <-errCh; !errors.As(err, &se) || se.Kind != rtcerr.InvalidMessage {
		t.Fatalf("expected InvalidMessage, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Profiles
// ---------------------------------------------------------------------------

func TestV1ProfileRoundTrip(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newPair[protocol.Message](t, protocol.V1Codec{})
	a.Start(ctx)
	b.Start(ctx)
	tx, rx := NewV1(a), NewV1(b)

	md := protocol.NewMetadata([]protocol.MetadataTrack{{Mid: "0", TrackID: "cam"}})
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	mid := "0"
	idx := uint16(0)
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	d1 := tx.SendDescription(ctx, offer, md)
	d2 := tx.SendCandidate(ctx, cand)

	ev, err := rx.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventDescription || ev.Description != offer {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.Metadata == nil || !reflect.DeepEqual(*ev.Metadata, md) {
		t.Fatalf("metadata = %+v", ev.Metadata)
	}

	ev, err = rx.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventCandidate || !reflect.DeepEqual(ev.Candidate, cand) {
		t.Fatalf("unexpected candidate event %+v", ev)
	}

	if err := await(t, d1); err != nil {
		t.Fatal(err)
	}
	if err := await(t, d2); err != nil {
		t.Fatal(err)
	}
}

func TestV2ProfileAttachesMetadataToDescription(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newPair[protocol.V2Message](t, protocol.V2Codec{})
	a.Start(ctx)
	b.Start(ctx)
	tx, rx := NewV2(a), NewV2(b)

	md := protocol.NewMetadata([]protocol.MetadataTrack{{Mid: "1", TrackID: "frontdoor"}})
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}
	done := tx.SendDescription(ctx, answer, md)

	ev, err := rx.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventDescription || ev.Description != answer {
		t.Fatalf("event %+v, want answer", ev)
	}
	if ev.Metadata == nil || !reflect.DeepEqual(*ev.Metadata, md) {
		t.Fatalf("metadata = %+v, want %+v", ev.Metadata, md)
	}

	if err := await(t, done); err != nil {
		t.Fatal(err)
	}
}

func TestV2ProfileReleasesStandaloneMetadata(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newPair[protocol.V2Message](t, protocol.V2Codec{})
	a.Start(ctx)
	b.Start(ctx)
	tx, rx := NewV2(a), NewV2(b)

	md := protocol.NewMetadata([]protocol.MetadataTrack{{Mid: "0", TrackID: "cam"}})
	text, err := protocol.EncodeMetadata(md)
	if err != nil {
		t.Fatal(err)
	}
	mid := "0"
	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 9 typ host", SDPMid: &mid}

	d1 := a.Send(ctx, protocol.V2Message{Type: protocol.TypeMetadata, Metadata: &text})
	d2 := tx.SendCandidate(ctx, cand)

	ev, err := rx.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventMetadata || !reflect.DeepEqual(*ev.Metadata, md) {
		t.Fatalf("first event %+v, want metadata", ev)
	}

	ev, err = rx.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if ev.Kind != EventCandidate || ev.Candidate.Candidate != cand.Candidate {
		t.Fatalf("second event %+v, want candidate", ev)
	}

	if err := await(t, d1); err != nil {
		t.Fatal(err)
	}
	if err := await(t, d2); err != nil {
		t.Fatal(err)
	}
}

func TestV2ProfileReleasesMetadataBeforeEndOfStream(t *testing.T) {
	lim := test.TimeOut(10 * time.Second)
	defer lim.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := newPair[protocol.V2Message](t, protocol.V2Codec{})
	a.Start(ctx)
	b.Start(ctx)
	rx := NewV2(b)

	md := protocol.NewMetadata([]protocol.MetadataTrack{{Mid: "0", TrackID: "cam"}})
	text, err := protocol.EncodeMetadata(md)
	if err != nil {
		t.Fatal(err)
	}
	if err := await(t, a.Send(ctx, protocol.V2Message{Type: protocol.TypeMetadata, Metadata: &text})); err != nil {
		t.Fatal(err)
	}
	_ = a.Close()

	ev, err := rx.Recv()
	if err != nil || ev.Kind != EventMetadata {
		t.Fatalf("Recv = %+v, %v, want metadata", ev, err)
	}
	if _, err := rx.Recv(); !rtcerr.IsTerminal(err) {
		t.Fatalf("Recv = %v, want end of stream", err)
	}
}

func TestEventFromV2IgnoresFreeFormMetadata(t *testing.T) {
	text := "hello device"
	ev, err := eventFromV2(protocol.V2Message{Type: protocol.TypeMetadata, Metadata: &text})
	if err != nil {
		t.Fatalf("eventFromV2: %v", err)
	}
	if ev.Kind != EventIgnored {
		t.Fatalf("kind = %d, want ignored", ev.Kind)
	}
}
