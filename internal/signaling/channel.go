// Package signaling carries signaling messages over a framed stream to a
// device. A Channel owns the stream and serializes every outgoing message
// through one writer goroutine; the V1 and V2 profiles translate between
// the wire message sets and pion types.
package signaling

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/edgertc/internal/framing"
	"github.com/1ureka/edgertc/internal/rtcerr"
	"github.com/1ureka/edgertc/internal/util"
)

const sendBufferSize = 64 // outgoing message queue capacity

// Codec converts between frames and messages of type M.
type Codec[M any] interface {
	Encode(M) ([]byte, error)
	Decode([]byte) (M, error)
}

type outgoing[M any] struct {
	msg  M
	done chan error
}

// Channel is a bidirectional message channel over a framed stream.
//
// Sends are FIFO in enqueue order. Each Send returns a completion that
// yields exactly one value once the frame was written (nil) or could not
// be (the error).
type Channel[M any] struct {
	stream *framing.Stream
	codec  Codec[M]

	inbox   chan outgoing[M]
	started chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu     sync.RWMutex // guards closed against in-flight enqueues
	closed bool
}

// NewChannel creates a Channel over stream. Start must be called before
// messages are written or read.
func NewChannel[M any](stream *framing.Stream, codec Codec[M]) *Channel[M] {
	return &Channel[M]{
		stream:  stream,
		codec:   codec,
		inbox:   make(chan outgoing[M], sendBufferSize),
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start launches the writer goroutine. It exits when ctx is cancelled or
// the channel is closed. Calling Start again is a no-op.
func (c *Channel[M]) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		close(c.started)
		go c.loop(ctx)
	})
}

// Close stops the writer, fails queued sends and closes the stream.
func (c *Channel[M]) Close() error {
	c.stop()
	c.drain()
	return c.stream.Close()
}

func (c *Channel[M]) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

// drain marks the channel closed and fails every message still queued. Once
// it holds the write lock no Send can be mid-enqueue.
func (c *Channel[M]) drain() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	for {
		select {
		case out := <-c.inbox:
			out.done <- errClosedSend()
		default:
			return
		}
	}
}

// loop is the single-writer goroutine.
func (c *Channel[M]) loop(ctx context.Context) {
	defer func() {
		c.stop()
		c.drain()
	}()

	for {
		select {
		case out := <-c.inbox:
			out.done <- c.write(out.msg)
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel[M]) write(msg M) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return &rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: err}
	}
	if err := c.stream.Send(data); err != nil {
		return &rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: err}
	}

	util.Stats.AddSent(len(data))
	util.LogTrace("signaling frame sent: %s", data)
	return nil
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// Send enqueues msg. The returned channel is buffered and receives exactly
// one value.
func (c *Channel[M]) Send(ctx context.Context, msg M) <-chan error {
	done := make(chan error, 1)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		done <- errClosedSend()
		return done
	}

	select {
	case c.inbox <- outgoing[M]{msg: msg, done: done}:
	case <-c.stopped:
		done <- errClosedSend()
	case <-ctx.Done():
		done <- &rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: ctx.Err()}
	}
	return done
}

// Recv blocks until the next message arrives. Stream failures are returned
// as *rtcerr.TransportError and undecodable frames as *rtcerr.DecodeError;
// after a DecodeError the channel is still usable.
func (c *Channel[M]) Recv() (M, error) {
	var zero M

	select {
	case <-c.started:
	case <-c.stopped:
		return zero, rtcerr.ErrClosed
	}

	data, err := c.stream.Receive()
	if err != nil {
		return zero, err
	}
	util.Stats.AddRecv(len(data))
	util.LogTrace("signaling frame received: %s", data)

	return c.codec.Decode(data)
}

// RecvContext is Recv bounded by ctx. When ctx ends first the pending read
// keeps running until the channel is closed, and its message is dropped.
func (c *Channel[M]) RecvContext(ctx context.Context) (M, error) {
	type result struct {
		msg M
		err error
	}

	ch := make(chan result, 1)
	go func() {
		msg, err := c.Recv()
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		var zero M
		return zero, ctx.Err()
	}
}

func errClosedSend() error {
	return &rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: rtcerr.ErrClosed}
}

// joinCompletions merges completions into one that yields after all of
// them, carrying every error.
func joinCompletions(cs ...<-chan error) <-chan error {
	out := make(chan error, 1)
	go func() {
		var errs []error
		for _, c := range cs {
			if err := <-c; err != nil {
				errs = append(errs, err)
			}
		}
		switch len(errs) {
		case 0:
			out <- nil
		case 1:
			out <- errs[0]
		default:
			out <- &rtcerr.SignalingError{Kind: rtcerr.FailedSend, Err: errors.Join(errs...)}
		}
	}()
	return out
}

func failed(err error) <-chan error {
	out := make(chan error, 1)
	out <- err
	return out
}
