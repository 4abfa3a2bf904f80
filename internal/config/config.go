// Package config holds the CLI configuration.
//
// Values come from three layers, later ones winning: Default, an optional
// YAML or JSONC file, and command-line flags. Missing required values are
// asked for interactively by the CLI.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/1ureka/edgertc/internal/protocol"
)

// Role represents the user's chosen role (device or client).
type Role string

const (
	RoleDevice Role = "device"
	RoleClient Role = "client"
)

// Protocol selects the signaling version a client speaks.
type Protocol string

const (
	ProtocolAuto Protocol = "auto" // v2 when the device offers it, else v1
	ProtocolV1   Protocol = "v1"
	ProtocolV2   Protocol = "v2"
)

// ICEServer is a STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// Duration is a time.Duration written as "5s" in config files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config stores every parameter of a run.
type Config struct {
	Role Role `yaml:"role" json:"role"`

	// Address is the device to reach (client) or the address to listen on
	// (device).
	Address string `yaml:"address" json:"address"`
	PIN     string `yaml:"pin" json:"pin"`

	Protocol Protocol `yaml:"protocol" json:"protocol"`
	// Polite is the client's politeness preference for v2. Nil leaves the
	// choice to the device.
	Polite *bool `yaml:"polite,omitempty" json:"polite,omitempty"`

	ICEServers []ICEServer `yaml:"ice_servers" json:"ice_servers"`

	Label     string `yaml:"label" json:"label"`       // data channel opened by the client
	Video     bool   `yaml:"video" json:"video"`       // device publishes a test video track
	TrackID   string `yaml:"track_id" json:"track_id"` // id announced for that track
	Advertise bool   `yaml:"advertise" json:"advertise"`
	Discover  bool   `yaml:"discover" json:"discover"`

	Debug         bool     `yaml:"debug" json:"debug"`
	StatsInterval Duration `yaml:"stats_interval" json:"stats_interval"`
}

// Default returns the configuration used when nothing else is given.
func Default() Config {
	return Config{
		Protocol:      ProtocolAuto,
		ICEServers:    []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		Label:         "echo",
		TrackID:       "camera",
		StatsInterval: Duration(10 * time.Second),
	}
}

// Load overlays the file at path onto Default. The format follows the
// extension: .yaml/.yml, or .json/.jsonc (comments and trailing commas
// allowed).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		return Config{}, fmt.Errorf("%s: unsupported config format", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports the first inconsistency. An empty role or address is
// not an error here; the CLI prompts for them.
func (c Config) Validate() error {
	switch c.Role {
	case "", RoleDevice, RoleClient:
	default:
		return fmt.Errorf("invalid role %q: must be %q or %q", c.Role, RoleDevice, RoleClient)
	}

	switch c.Protocol {
	case ProtocolAuto, ProtocolV1, ProtocolV2:
	default:
		return fmt.Errorf("invalid protocol %q: must be auto, v1 or v2", c.Protocol)
	}

	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("ice_servers[%d]: missing urls", i)
		}
	}

	if c.Video && c.TrackID == "" {
		return errors.New("track_id is required when video is enabled")
	}
	if c.Role == RoleClient && c.Address != "" && c.Discover {
		return errors.New("address and discover are mutually exclusive")
	}
	if c.StatsInterval < 0 {
		return errors.New("stats_interval must not be negative")
	}
	return nil
}

// Servers converts the ICE server list for signaling.
func (c Config) Servers() []protocol.IceServer {
	out := make([]protocol.IceServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		out = append(out, protocol.IceServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}
