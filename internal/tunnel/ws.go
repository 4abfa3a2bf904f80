package tunnel

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/edgertc/internal/protocol"
)

// StreamPath is the device endpoint prefix for numbered streams.
const StreamPath = "/p2p/streams/"

const maxResponseSize = 1 << 20

// WebSocket reaches a device over HTTP: resources are plain GETs and
// streams are WebSocket upgrades. Every request carries the pairing PIN.
type WebSocket struct {
	base   *url.URL // http(s)://host:port
	pin    string
	client *http.Client
	dialer *websocket.Dialer
}

// NewWebSocket returns a tunnel to the device at addr, which is either
// host:port or an http, https, ws or wss URL.
func NewWebSocket(addr, pin string) (*WebSocket, error) {
	base, err := normalizeBaseURL(addr)
	if err != nil {
		return nil, err
	}
	return &WebSocket{
		base:   base,
		pin:    pin,
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: websocket.DefaultDialer,
	}, nil
}

// Get fetches path. A 200 reply is reported as 205 Content and the media
// type is mapped onto a content format.
func (t *WebSocket) Get(ctx context.Context, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("http", path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/cbor, application/json;q=0.9")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	status := resp.StatusCode
	if status == http.StatusOK {
		status = protocol.StatusContent
	}

	return &Response{
		Status:        status,
		ContentFormat: contentFormat(resp.Header.Get("Content-Type")),
		Payload:       payload,
	}, nil
}

// OpenStream dials the stream served on port.
func (t *WebSocket) OpenStream(ctx context.Context, port uint32) (io.ReadWriteCloser, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.endpoint("ws", fmt.Sprintf("%s%d", StreamPath, port)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream %d: %w", port, err)
	}
	return NewStreamConn(conn), nil
}

// endpoint builds the URL of path with scheme family "http" or "ws".
func (t *WebSocket) endpoint(family, path string) string {
	u := *t.base
	if family == "ws" {
		u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	}
	u.Path = path
	q := url.Values{}
	if t.pin != "" {
		q.Set("pin", t.pin)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// normalizeBaseURL validates and normalizes a raw device address.
func normalizeBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid device address: %s", raw)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported scheme %q in device address", u.Scheme)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}

// contentFormat maps a media type onto a CoAP content format; unknown
// types map to 0 (text/plain).
func contentFormat(contentType string) int {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return 0
	}
	switch mt {
	case "application/json":
		return protocol.ContentFormatJSON
	case "application/cbor":
		return protocol.ContentFormatCBOR
	default:
		return 0
	}
}

// MediaType is the inverse of contentFormat for the formats a device serves.
func MediaType(format int) string {
	switch format {
	case protocol.ContentFormatCBOR:
		return "application/cbor"
	default:
		return "application/json"
	}
}
