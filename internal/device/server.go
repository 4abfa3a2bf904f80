// Package device implements the remote end of a connection: the discovery
// resource, the signaling stream ports and one negotiated peer connection
// per stream. It echoes every data channel and can publish a test video
// track, which makes it usable as a development counterpart for clients.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/edgertc/internal/protocol"
	"github.com/1ureka/edgertc/internal/transport"
	"github.com/1ureka/edgertc/internal/tunnel"
	"github.com/1ureka/edgertc/internal/util"
)

// Stream ports announced by the discovery resource.
const (
	PortV1 uint32 = 1
	PortV2 uint32 = 2
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Options configures a Server.
type Options struct {
	PIN        string // required as ?pin= on every request when set
	DisableV1  bool
	DisableV2  bool
	ICEServers []protocol.IceServer
	Video      bool   // publish a test VP8 track in every session
	TrackID    string // id of that track
}

// Server is the device's HTTP endpoint. Every accepted stream runs its own
// session until the stream ends or the server is closed.
type Server struct {
	opts   Options
	engine *transport.Engine
	mux    *http.ServeMux
	log    util.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex // guards closed against wg.Add after Close
	closed bool

	listener net.Listener
	srv      *http.Server
}

// NewServer creates a device server whose sessions use engine.
func NewServer(engine *transport.Engine, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		opts:   opts,
		engine: engine,
		mux:    http.NewServeMux(),
		log:    util.Scoped("device"),
		ctx:    ctx,
		cancel: cancel,
	}

	s.mux.HandleFunc("GET "+protocol.InfoPath, s.handleInfo)
	s.mux.HandleFunc("GET "+tunnel.StreamPath+"{port}", s.handleStream)
	return s
}

// Handler exposes the endpoint for embedding in another server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins listening on addr (":0" picks a free port) and returns the
// port in use.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start device server: %w", err)
	}
	s.listener = listener
	s.srv = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server stopped: %v", err)
		}
	}()

	return listener.Addr().(*net.TCPAddr).Port, nil
}

// Close stops accepting requests, ends every session and waits for them.
func (s *Server) Close() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return err
}

// Versions lists the signaling versions served, for advertisement.
func (s *Server) Versions() []string {
	var out []string
	if !s.opts.DisableV1 {
		out = append(out, "1")
	}
	if !s.opts.DisableV2 {
		out = append(out, "2")
	}
	return out
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.opts.PIN != "" && r.URL.Query().Get("pin") != s.opts.PIN {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) info() protocol.RTCInfo {
	var info protocol.RTCInfo
	if !s.opts.DisableV1 {
		p := PortV1
		info.SignalingStreamPort = &p
	}
	if !s.opts.DisableV2 {
		p := PortV2
		info.SignalingV2StreamPort = &p
	}
	return info
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	format := protocol.ContentFormatJSON
	if strings.Contains(r.Header.Get("Accept"), "application/cbor") {
		format = protocol.ContentFormatCBOR
	}

	payload, err := protocol.EncodeInfo(format, s.info())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", tunnel.MediaType(format))
	_, _ = w.Write(payload)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	port, err := strconv.ParseUint(r.PathValue("port"), 10, 32)
	if err != nil || !s.serves(uint32(port)) {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.serve(conn, uint32(port))
	}()
}

func (s *Server) serves(port uint32) bool {
	switch port {
	case PortV1:
		return !s.opts.DisableV1
	case PortV2:
		return !s.opts.DisableV2
	default:
		return false
	}
}
