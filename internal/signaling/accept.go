package signaling

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/util"
)

// Setup error codes sent by the answering side.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeUnexpectedMessage = "UNEXPECTED_MESSAGE"
)

// ServeTurn is the device side of RequestTurn: it waits for TURN_REQUEST
// and answers with servers.
func ServeTurn(ctx context.Context, ch *Channel[protocol.Message], servers []protocol.IceServer) error {
	for {
		msg, err := ch.RecvContext(ctx)
		if err != nil {
			if skippable(err) {
				continue
			}
			return recvFailed(err)
		}

		if msg.Type != protocol.TypeTurnRequest {
			util.LogDebug("skipping %s before TURN_REQUEST", msg.Type)
			continue
		}

		return <-ch.Send(ctx, protocol.Message{Type: protocol.TypeTurnResponse, IceServers: servers})
	}
}

// AcceptSetup is the device side of Setup. The requester's politeness
// preference is honoured and defaults to polite; the returned result
// describes the requester, so the device takes the opposite role. A
// malformed or unexpected first message is answered with SETUP_ERROR.
func AcceptSetup(ctx context.Context, ch *Channel[protocol.V2Message], servers []protocol.IceServer) (SetupResult, error) {
	msg, err := ch.RecvContext(ctx)
	if err != nil {
		var de *rtcerr.DecodeError
		if !errors.As(err, &de) {
			return SetupResult{}, recvFailed(err)
		}
		return SetupResult{}, reject(ctx, ch, CodeInvalidRequest, err.Error())
	}

	if msg.Type != protocol.TypeSetupRequest {
		return SetupResult{}, reject(ctx, ch, CodeUnexpectedMessage, "expected "+string(protocol.TypeSetupRequest)+", got "+string(msg.Type))
	}

	polite := true
	if msg.Polite != nil {
		polite = *msg.Polite
	}

	res := SetupResult{ID: uuid.NewString(), Polite: polite, IceServers: servers}
	resp := protocol.V2Message{
		Type:       protocol.TypeSetupResponse,
		ID:         res.ID,
		Polite:     &polite,
		IceServers: servers,
	}
	if err := <-ch.Send(ctx, resp); err != nil {
		return SetupResult{}, err
	}
	return res, nil
}

func reject(ctx context.Context, ch *Channel[protocol.V2Message], code, desc string) error {
	msg := protocol.V2Message{
		Type:  protocol.TypeSetupError,
		Error: &protocol.SetupFailure{Code: code, Description: desc},
	}
	if err := <-ch.Send(ctx, msg); err != nil {
		util.LogWarning("failed to send setup error: %v", err)
	}
	return &rtcerr.SignalingError{Kind: rtcerr.InvalidMessage, Code: code, Description: desc}
}
