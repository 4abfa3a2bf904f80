// Package framing turns an ordered byte stream into a stream of discrete
// messages. Each frame is a 4-byte little-endian length followed by exactly
// that many payload bytes.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/1ureka/edgertc/internal/rtcerr"
)

// HeaderSize is the length prefix size in bytes.
const HeaderSize = 4

// MaxFrameSize bounds a single payload. Larger prefixes are treated as a
// corrupt stream.
const MaxFrameSize = 16 << 20

// Stream is a framed message stream. Send and Receive may be called from
// different goroutines; concurrent Sends never interleave their bytes.
type Stream struct {
	rw io.ReadWriteCloser

	wmu sync.Mutex
	rmu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps rw. The Stream owns rw from now on.
func NewStream(rw io.ReadWriteCloser) *Stream {
	return &Stream{rw: rw}
}

// Send writes one frame.
func (s *Stream) Send(payload []byte) error {
	if len(payload) > MaxFrameSize {
		return &rtcerr.TransportError{
			Code: rtcerr.CodeFailed,
			Op:   "send",
			Err:  fmt.Errorf("frame too large: %d bytes", len(payload)),
		}
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.rw.Write(buf); err != nil {
		return classify("send", err)
	}
	return nil
}

// Receive blocks until one complete frame has arrived and returns its
// payload. A stream that ends before a full frame yields an error matching
// rtcerr.ErrEndOfStream.
func (s *Stream) Receive() ([]byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	var header [HeaderSize]byte
	if _, err := io.ReadFull(s.rw, header[:]); err != nil {
		return nil, classify("receive", err)
	}

	n := binary.LittleEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, &rtcerr.TransportError{
			Code: rtcerr.CodeFailed,
			Op:   "receive",
			Err:  fmt.Errorf("frame too large: %d bytes", n),
		}
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(s.rw, payload); err != nil {
		return nil, classify("receive", err)
	}
	return payload, nil
}

// Close closes the underlying transport. Subsequent calls return the result
// of the first.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.rw.Close()
	})
	return s.closeErr
}

func classify(op string, err error) error {
	code := rtcerr.CodeFailed
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		code = rtcerr.CodeEndOfStream
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		code = rtcerr.CodeStopped
	}
	return &rtcerr.TransportError{Code: code, Op: op, Err: err}
}
