package transport

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/edgertc/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64         // outgoing message channel capacity
)

// Sender is a goroutine-based message writer that serializes all writes to
// a single DataChannel, adding open-gate and backpressure control.
type Sender struct {
	inbox       chan []byte
	drainSignal chan struct{}
	openSignal  chan struct{}
	done        chan struct{}
}

// NewSender wires the open and backpressure callbacks on dc and starts the
// background loop. The loop exits when ctx is cancelled, the channel closes
// or a write fails.
func NewSender(ctx context.Context, dc *webrtc.DataChannel) *Sender {
	s := &Sender{
		inbox:       make(chan []byte, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		openSignal:  make(chan struct{}),
		done:        make(chan struct{}),
	}

	// DC open gate; the channel may already be open when handed over.
	var openOnce sync.Once
	markOpen := func() { openOnce.Do(func() { close(s.openSignal) }) }
	dc.OnOpen(markOpen)
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		markOpen()
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc)

	return s
}

// Ready returns a channel that is closed once the DataChannel is open.
func (s *Sender) Ready() <-chan struct{} {
	return s.openSignal
}

// Done returns a channel that is closed when the loop has exited.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *Sender) loop(ctx context.Context, dc *webrtc.DataChannel) {
	defer close(s.done)

	// Phase 1: wait for DC to be open.
	select {
	case <-s.openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send messages with backpressure.
	for {
		select {
		case data := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(data); err != nil {
				util.LogError("failed to send on data channel %q: %v", dc.Label(), err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Send enqueues a message for transmission. It blocks if the internal
// buffer is full and returns silently when ctx is cancelled or the loop
// has exited.
func (s *Sender) Send(ctx context.Context, data []byte) {
	select {
	case s.inbox <- data:
	case <-ctx.Done():
	case <-s.done:
	}
}
