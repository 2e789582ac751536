package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/relayctl/internal/testutil/testlog"
	"github.com/danmuck/relayctl/internal/transport"
)

func TestLoadCLIConfigExample(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadCLIConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Target != "127.0.0.1:7100" {
		t.Fatalf("unexpected target: %q", cfg.Target)
	}
	if cfg.Relay.Transport.ConnectTimeout != 3*time.Second {
		t.Fatalf("unexpected connect timeout: %v", cfg.Relay.Transport.ConnectTimeout)
	}
	if cfg.Relay.Transport.WriteTimeout != 10*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.Relay.Transport.WriteTimeout)
	}
	if cfg.Relay.Transport.ReadBufferSize != 8192 {
		t.Fatalf("unexpected read buffer: %d", cfg.Relay.Transport.ReadBufferSize)
	}
	if cfg.Relay.Limits.MaxPayloadBytes != 1048576 {
		t.Fatalf("unexpected frame limit: %d", cfg.Relay.Limits.MaxPayloadBytes)
	}
	if !reflect.DeepEqual(cfg.Subscribe, []string{"PRIVMSG", "JOIN", "PART"}) {
		t.Fatalf("unexpected subscribe: %v", cfg.Subscribe)
	}
	if cfg.MetricsAddr != "127.0.0.1:9108" {
		t.Fatalf("unexpected metrics addr: %q", cfg.MetricsAddr)
	}
}

func TestLoadCLIConfigKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := os.WriteFile(path, []byte("target = \"unix:/run/relay.sock\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadCLIConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	defaults := defaultCLIConfig()
	if cfg.Relay.Transport != defaults.Relay.Transport || cfg.Relay.Limits != defaults.Relay.Limits {
		t.Fatalf("defaults overwritten: %+v", cfg.Relay)
	}
	if err := cfg.resolveTarget(); err != nil {
		t.Fatalf("resolve target: %v", err)
	}
	if cfg.Relay.Target.Network != transport.NetworkUnix || cfg.Relay.Target.Address != "/run/relay.sock" {
		t.Fatalf("unexpected target: %+v", cfg.Relay.Target)
	}
}

func TestLoadCLIConfigRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relayctl.toml")
	if err := os.WriteFile(path, []byte("write_timeout = \"soon\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadCLIConfig(path); err == nil {
		t.Fatalf("expected duration parse error")
	}
	if _, err := loadCLIConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestSplitEvents(t *testing.T) {
	testlog.Start(t)
	got := splitEvents("PRIVMSG, JOIN", "", "JOIN,,command_build")
	if !reflect.DeepEqual(got, []string{"PRIVMSG", "JOIN", "command_build"}) {
		t.Fatalf("unexpected events: %v", got)
	}
}
