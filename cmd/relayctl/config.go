package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/relayctl/internal/protocol/frame"
	"github.com/danmuck/relayctl/internal/relay"
	"github.com/danmuck/relayctl/internal/transport"
)

type fileConfig struct {
	Target         string   `toml:"target"`
	ConnectTimeout string   `toml:"connect_timeout"`
	WriteTimeout   string   `toml:"write_timeout"`
	ReadBufferSize int      `toml:"read_buffer_size"`
	MaxFrameBytes  int      `toml:"max_frame_bytes"`
	Subscribe      []string `toml:"subscribe"`
	MetricsAddr    string   `toml:"metrics_addr"`
}

type cliConfig struct {
	Target      string
	Relay       relay.Config
	Subscribe   []string
	MetricsAddr string
}

func defaultCLIConfig() cliConfig {
	return cliConfig{Relay: relay.DefaultConfig()}
}

func loadCLIConfig(path string) (cliConfig, error) {
	cfg := defaultCLIConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return cliConfig{}, fmt.Errorf("load relayctl config: %w", err)
	}

	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}

	if meta.IsDefined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.Relay.Transport.ConnectTimeout = d
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return cliConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Relay.Transport.WriteTimeout = d
	}

	if meta.IsDefined("read_buffer_size") {
		cfg.Relay.Transport.ReadBufferSize = raw.ReadBufferSize
	}

	if meta.IsDefined("max_frame_bytes") {
		cfg.Relay.Limits = frame.Limits{MaxPayloadBytes: raw.MaxFrameBytes}
	}

	if meta.IsDefined("subscribe") {
		cfg.Subscribe = splitEvents(raw.Subscribe...)
	}

	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}

	return cfg, nil
}

// resolveTarget parses the configured target into the relay config.
func (c *cliConfig) resolveTarget() error {
	target, err := transport.ParseTarget(c.Target)
	if err != nil {
		return err
	}
	c.Relay.Target = target
	return nil
}

// splitEvents accepts comma separated lists and drops blanks and repeats.
func splitEvents(in ...string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			v := strings.TrimSpace(name)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
