package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1ureka/edgertc/internal/config"
)

func TestParseFlagsOverlaysConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edgertc.yaml")
	content := "role: client\naddress: 10.0.0.2:8080\nprotocol: v1\nlabel: control\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, trace, err := parseFlags([]string{"-c", path, "--protocol", "v2", "--polite=false", "--stats", "1m", "--trace"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}

	if cfg.Role != config.RoleClient || cfg.Address != "10.0.0.2:8080" || cfg.Label != "control" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Protocol != config.ProtocolV2 {
		t.Errorf("protocol = %s, want v2", cfg.Protocol)
	}
	if cfg.Polite == nil || *cfg.Polite {
		t.Errorf("polite = %v, want false", cfg.Polite)
	}
	if time.Duration(cfg.StatsInterval) != time.Minute {
		t.Errorf("stats = %v", time.Duration(cfg.StatsInterval))
	}
	if !trace {
		t.Error("trace not set")
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, trace, err := parseFlags(nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if cfg.Role != "" || cfg.Protocol != config.ProtocolAuto || cfg.Polite != nil || trace {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestParseFlagsRejectsInvalid(t *testing.T) {
	tests := [][]string{
		{"--role", "host"},
		{"--protocol", "v3"},
		{"--video", "--track-id", ""},
		{"--unknown"},
	}
	for _, args := range tests {
		if _, _, err := parseFlags(args); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}
