// Package tunnel is the client's view of the secure connection to a device:
// a request/response exchange for small resources and numbered byte
// streams. The WebSocket implementation carries both over one HTTP
// endpoint of the device.
package tunnel

import (
	"context"
	"io"
)

// Response is the reply to a tunnel request. Status and ContentFormat use
// the CoAP numbering (205 Content; 50 JSON, 60 CBOR).
type Response struct {
	Status        int
	ContentFormat int
	Payload       []byte
}

// Tunnel is a secure point-to-point connection to one device.
type Tunnel interface {
	// Get fetches the resource at path.
	Get(ctx context.Context, path string) (*Response, error)
	// OpenStream opens the byte stream served on port.
	OpenStream(ctx context.Context, port uint32) (io.ReadWriteCloser, error)
}
