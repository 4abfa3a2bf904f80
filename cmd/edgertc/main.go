// edgertc: CLI entry point.
//
// The device role serves the discovery resource and signaling streams and
// echoes every data channel; the client role connects to a device, opens a
// data channel and reports incoming media. Both negotiate with perfect
// negotiation, so either side may renegotiate at any time.
//
// It can be launched interactively (no --role) or non-interactively via
// flags and an optional YAML/JSONC config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/edgertc/internal/config"
	"github.com/1ureka/edgertc/internal/connection"
	"github.com/1ureka/edgertc/internal/device"
	"github.com/1ureka/edgertc/internal/discovery"
	"github.com/1ureka/edgertc/internal/transport"
	"github.com/1ureka/edgertc/internal/tunnel"
	"github.com/1ureka/edgertc/internal/util"
)

var version = "dev"

const (
	pinLength       = 6
	discoverTimeout = 10 * time.Second
	pingInterval    = 5 * time.Second
)

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, trace, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch {
	case trace:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("edgertc v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		askRole(&cfg)
	}

	switch cfg.Role {
	case config.RoleDevice:
		err = runDevice(ctx, cfg)
	case config.RoleClient:
		err = runClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed")
}

// parseFlags loads the config file named by --config, if any, and overlays
// every flag given explicitly.
func parseFlags(args []string) (config.Config, bool, error) {
	fs := pflag.NewFlagSet("edgertc", pflag.ContinueOnError)

	configPath := fs.StringP("config", "c", "", "YAML or JSONC config file")
	role := fs.String("role", "", "Role: device or client")
	addr := fs.String("addr", "", "Device address (client) or listen address (device)")
	pin := fs.String("pin", "", "Pairing PIN (device: generated when empty)")
	proto := fs.String("protocol", string(config.ProtocolAuto), "Signaling version: auto, v1 or v2")
	polite := fs.Bool("polite", true, "Politeness preference sent in the v2 setup request")
	label := fs.String("label", "", "Data channel opened by the client")
	video := fs.Bool("video", false, "Publish a test video track (device)")
	trackID := fs.String("track-id", "", "Track id announced for the test video track")
	advertise := fs.Bool("advertise", false, "Advertise the device over mDNS")
	discover := fs.Bool("discover", false, "Find the device over mDNS (client)")
	stats := fs.Duration("stats", 0, "Statistics report interval, 0 to keep the configured value")
	debug := fs.Bool("debug", false, "Enable debug logging")
	trace := fs.Bool("trace", false, "Enable trace logging, including WebRTC internals")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return config.Config{}, false, err
		}
		cfg = loaded
	}

	overlay := map[string]func(){
		"role":      func() { cfg.Role = config.Role(*role) },
		"addr":      func() { cfg.Address = *addr },
		"pin":       func() { cfg.PIN = *pin },
		"protocol":  func() { cfg.Protocol = config.Protocol(*proto) },
		"polite":    func() { cfg.Polite = polite },
		"label":     func() { cfg.Label = *label },
		"video":     func() { cfg.Video = *video },
		"track-id":  func() { cfg.TrackID = *trackID },
		"advertise": func() { cfg.Advertise = *advertise },
		"discover":  func() { cfg.Discover = *discover },
		"stats":     func() { cfg.StatsInterval = config.Duration(*stats) },
		"debug":     func() { cfg.Debug = *debug },
	}
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := overlay[f.Name]; ok {
			apply()
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, false, err
	}
	return cfg, *trace, nil
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runDevice serves sessions until ctx is cancelled.
func runDevice(ctx context.Context, cfg config.Config) error {
	engine := transport.NewEngine(transport.EngineOptions{})
	defer engine.Close()

	pin := cfg.PIN
	if pin == "" {
		pin = device.GeneratePIN(pinLength)
	}

	srv := device.NewServer(engine, device.Options{
		PIN:        pin,
		DisableV1:  cfg.Protocol == config.ProtocolV2,
		DisableV2:  cfg.Protocol == config.ProtocolV1,
		ICEServers: cfg.Servers(),
		Video:      cfg.Video,
		TrackID:    cfg.TrackID,
	})

	addr := cfg.Address
	if addr == "" {
		addr = ":0"
	}
	port, err := srv.Start(addr)
	if err != nil {
		return err
	}
	defer srv.Close()

	util.LogSuccess("device listening on port %d, PIN %s", port, pin)

	if cfg.Advertise {
		instance, _ := os.Hostname()
		reg, err := discovery.Advertise("edgertc-"+instance, port, srv.Versions(), true)
		if err != nil {
			util.LogWarning("%v", err)
		} else {
			defer reg.Shutdown()
		}
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, time.Duration(cfg.StatsInterval))
	}

	<-ctx.Done()
	return nil
}

// runClient connects to a device and stays connected until ctx is
// cancelled or the device goes away.
func runClient(ctx context.Context, cfg config.Config) error {
	addr := cfg.Address
	if addr == "" {
		dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
		d, err := discovery.First(dctx)
		cancel()
		if err != nil {
			return err
		}
		util.LogInfo("found %s at %s", d.Instance, d.Addr)
		addr = d.Addr
	}

	tun, err := tunnel.NewWebSocket(addr, cfg.PIN)
	if err != nil {
		return err
	}

	engine := transport.NewEngine(transport.EngineOptions{})
	defer engine.Close()

	c := connection.New(tun, engine,
		connection.WithProtocol(cfg.Protocol),
		connection.WithPreferPolite(cfg.Polite),
	)

	closed := make(chan struct{})
	c.OnClosed(func() { close(closed) })
	c.OnError(func(err error) { util.LogWarning("%v", err) })
	c.OnTrack(func(track *webrtc.TrackRemote, trackID string) {
		util.LogInfo("receiving %s track %q (%s)", track.Kind(), trackID, track.Codec().MimeType)
		go drain(track, trackID)
	})

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.Close()

	if cfg.Label != "" {
		if err := ping(ctx, c, cfg.Label); err != nil {
			return err
		}
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, time.Duration(cfg.StatsInterval))
	}
	util.LogSuccess("connected to %s", addr)

	select {
	case <-ctx.Done():
	case <-closed:
		util.LogWarning("device closed the connection")
	}
	return nil
}

// ping opens label and sends a numbered message periodically, logging
// what comes back.
func ping(ctx context.Context, c *connection.Connection, label string) error {
	dc, err := c.CreateDataChannel(label)
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		util.LogInfo("%s: received %q", label, msg.Data)
	})

	sender := transport.NewSender(ctx, dc)
	go func() {
		select {
		case <-sender.Ready():
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for i := 1; ; i++ {
			sender.Send(ctx, []byte(fmt.Sprintf("ping %d", i)))
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			case <-sender.Done():
				return
			}
		}
	}()
	return nil
}

// drain reads a remote track until it ends.
func drain(track *webrtc.TrackRemote, trackID string) {
	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			util.LogDebug("track %q ended after %d packets: %v", trackID, packets, err)
			return
		}
		packets++
	}
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askRole falls back to interactive prompts when no role is configured.
func askRole(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Device  - Serve sessions on this machine", "Client  - Connect to a device"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Device") {
		cfg.Role = config.RoleDevice
		return
	}

	cfg.Role = config.RoleClient
	if cfg.Address == "" && !cfg.Discover {
		cfg.Address = askAddress()
	}
	if cfg.PIN == "" {
		cfg.PIN, _ = pterm.DefaultInteractiveTextInput.
			WithDefaultText("PIN shown by the device").
			Show()
		pterm.Println()
	}
}

// askAddress prompts until a usable device address is entered. An empty
// answer selects mDNS discovery.
func askAddress() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Device address (e.g. 192.168.1.20:8080, empty to discover)").
			Show()
		pterm.Println()

		raw = strings.TrimSpace(raw)
		if raw == "" {
			return ""
		}
		if _, err := tunnel.NewWebSocket(raw, ""); err == nil {
			return raw
		}
		util.LogWarning("invalid input: please enter a host:port or URL")
	}
}
