// Package discovery finds devices on the local network over mDNS/DNS-SD.
// A device advertises the HTTP port of its tunnel endpoint; a client
// browses for it instead of being told the address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"github.com/1ureka/edgertc/internal/util"
)

// Service is the DNS-SD service type of an edgertc device.
const (
	Service = "_edgertc._tcp"
	Domain  = "local."
)

// TXT keys published with each registration.
const (
	txtVersion = "v"   // signaling versions served, e.g. "1,2"
	txtPIN     = "pin" // "1" when a PIN is required
)

// Device is one browse result.
type Device struct {
	Instance string
	Addr     string // host:port of the tunnel endpoint
	Versions []string
	NeedsPIN bool
}

// Registration is a running advertisement.
type Registration interface {
	Shutdown()
}

// Advertise registers instance on every interface until the returned
// registration is shut down.
func Advertise(instance string, port int, versions []string, pin bool) (Registration, error) {
	txt := []string{txtVersion + "=" + strings.Join(versions, ",")}
	if pin {
		txt = append(txt, txtPIN+"=1")
	}

	server, err := zeroconf.Register(instance, Service, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mDNS registration failed for %s: %w", instance, err)
	}

	util.LogDebug("advertising %s on port %d (%s)", instance, port, strings.Join(txt, " "))
	return server, nil
}

// Browse collects devices until ctx is done. Callers bound it with a
// timeout.
func Browse(ctx context.Context) ([]Device, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse %s: %w", Service, err)
	}

	var devices []Device
	seen := make(map[string]bool)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return devices, nil
			}
			d, ok := deviceFromEntry(entry)
			if !ok || seen[d.Instance] {
				continue
			}
			seen[d.Instance] = true
			devices = append(devices, d)
		case <-ctx.Done():
			return devices, nil
		}
	}
}

// First browses until one device answers or ctx is done.
func First(ctx context.Context) (Device, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Device{}, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return Device{}, fmt.Errorf("failed to browse %s: %w", Service, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return Device{}, fmt.Errorf("no device found")
			}
			if d, ok := deviceFromEntry(entry); ok {
				return d, nil
			}
		case <-ctx.Done():
			return Device{}, fmt.Errorf("no device found: %w", ctx.Err())
		}
	}
}

// deviceFromEntry picks the entry's first usable address, preferring IPv4.
func deviceFromEntry(entry *zeroconf.ServiceEntry) (Device, bool) {
	if entry == nil || entry.Port <= 0 {
		return Device{}, false
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return Device{}, false
	}

	d := Device{
		Instance: entry.Instance,
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
	}
	for _, kv := range entry.Text {
		key, value, _ := strings.Cut(kv, "=")
		switch key {
		case txtVersion:
			if value != "" {
				d.Versions = strings.Split(value, ",")
			}
		case txtPIN:
			d.NeedsPIN = value == "1"
		}
	}
	return d, true
}
