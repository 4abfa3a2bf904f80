package tunnel

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// wsStream presents a WebSocket connection as a byte stream. Writes become
// binary messages; reads concatenate binary message payloads.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader

	closeOnce sync.Once
	closeErr  error
}

// NewStreamConn wraps conn. The returned stream owns conn.
func NewStreamConn(conn *websocket.Conn) io.ReadWriteCloser {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			mt, r, err := s.conn.NextReader()
			if err != nil {
				return 0, mapReadErr(err)
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// mapReadErr turns a remote close into io.EOF so the framing layer sees a
// clean end of stream.
func mapReadErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return io.EOF
	}
	return err
}
