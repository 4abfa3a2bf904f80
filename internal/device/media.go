package device

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const (
	testStreamID   = "edgertc"
	vp8PayloadType = 96
	frameRate      = 30
	clockRate      = 90000
)

// testFrame is a VP8 payload descriptor (start of partition) followed by a
// fixed frame body. Receivers see a steady RTP flow; it is not meant to
// decode to a picture.
var testFrame = append([]byte{0x10}, make([]byte, 1000)...)

func newTestTrack(id string) (*webrtc.TrackLocalStaticRTP, error) {
	return webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: clockRate},
		id,
		testStreamID,
	)
}

// runTestPattern writes one frame per tick until ctx is done or the track
// is closed.
func runTestPattern(ctx context.Context, track *webrtc.TrackLocalStaticRTP) {
	ticker := time.NewTicker(time.Second / frameRate)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			Marker:      true,
			PayloadType: vp8PayloadType,
		},
		Payload: testFrame,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := track.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			continue
		}
		pkt.SequenceNumber++
		pkt.Timestamp += clockRate / frameRate
	}
}
