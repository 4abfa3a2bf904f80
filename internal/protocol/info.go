package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// InfoPath is the discovery resource a device serves.
const InfoPath = "/p2p/webrtc-info"

// StatusContent is the success status of a discovery response.
const StatusContent = 205

// Content formats of a discovery response.
const (
	ContentFormatJSON = 50
	ContentFormatCBOR = 60
)

// RTCInfo tells a client which stream ports speak which signaling version.
type RTCInfo struct {
	SignalingStreamPort   *uint32 `json:"SignalingStreamPort,omitempty" cbor:"SignalingStreamPort,omitempty"`
	SignalingV2StreamPort *uint32 `json:"SignalingV2StreamPort,omitempty" cbor:"SignalingV2StreamPort,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor encoder init: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: cbor decoder init: %v", err))
	}
}

// EncodeInfo serializes info in the given content format.
func EncodeInfo(format int, info RTCInfo) ([]byte, error) {
	switch format {
	case ContentFormatJSON:
		return json.Marshal(info)
	case ContentFormatCBOR:
		return encMode.Marshal(info)
	default:
		return nil, fmt.Errorf("unsupported content format %d", format)
	}
}

// DecodeInfo parses a discovery payload of the given content format.
func DecodeInfo(format int, payload []byte) (RTCInfo, error) {
	var info RTCInfo
	switch format {
	case ContentFormatJSON:
		if err := unmarshal(payload, &info); err != nil {
			return RTCInfo{}, err
		}
	case ContentFormatCBOR:
		if err := decMode.Unmarshal(payload, &info); err != nil {
			return RTCInfo{}, fmt.Errorf("decode cbor webrtc info: %w", err)
		}
	default:
		return RTCInfo{}, fmt.Errorf("unsupported content format %d", format)
	}
	return info, nil
}

// Port returns the pointer's value, or 0 when absent.
func Port(p *uint32) uint32 {
	if p == nil {
		return 0
	}
	return *p
}
