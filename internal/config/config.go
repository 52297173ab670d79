// Package config loads the client configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

type Config struct {
	Server     string `yaml:"server"`
	Transport  string `yaml:"transport"`
	PlayerName string `yaml:"player_name"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	MaxFrameBytes      int `yaml:"max_frame_bytes"`
	ReadChunkBytes     int `yaml:"read_chunk_bytes"`
	HandshakeTimeoutMs int `yaml:"handshake_timeout_ms"`
	ResyncIntervalSec  int `yaml:"resync_interval_sec"`

	SustainedActions []string `yaml:"sustained_actions"`

	Persistence Persistence `yaml:"persistence"`
}

type Persistence struct {
	// RecordDir receives zstd JSONL frame recordings; empty disables recording.
	RecordDir string `yaml:"record_dir"`
	// IndexDB is the sqlite session index path; empty disables indexing.
	IndexDB string `yaml:"index_db"`
}

func Defaults() Config {
	return Config{
		Server:             "127.0.0.1:7400",
		Transport:          TransportTCP,
		PlayerName:         "player",
		TickRateHz:         30,
		MaxFrameBytes:      4 << 20,
		ReadChunkBytes:     64 * 1024,
		HandshakeTimeoutMs: 5000,
		ResyncIntervalSec:  30,
		SustainedActions:   []string{"build", "repair"},
	}
}

// Load reads path on top of Defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("client.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c Config) Validate() error {
	switch c.Transport {
	case TransportTCP, TransportWS:
	default:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	}
	if strings.TrimSpace(c.Server) == "" {
		return fmt.Errorf("config: server is required")
	}
	if c.TickRateHz <= 0 {
		return fmt.Errorf("config: tick_rate_hz must be > 0")
	}
	if c.MaxFrameBytes <= 0 {
		return fmt.Errorf("config: max_frame_bytes must be > 0")
	}
	if c.ReadChunkBytes <= 0 {
		return fmt.Errorf("config: read_chunk_bytes must be > 0")
	}
	if c.HandshakeTimeoutMs <= 0 {
		return fmt.Errorf("config: handshake_timeout_ms must be > 0")
	}
	if c.ResyncIntervalSec < 0 {
		return fmt.Errorf("config: resync_interval_sec must be >= 0")
	}
	return nil
}

func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRateHz)
}

func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutMs) * time.Millisecond
}

// ResyncInterval is zero when periodic clock re-sync is disabled.
func (c Config) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalSec) * time.Second
}
