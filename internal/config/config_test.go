package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_OverridesDefaults(t *testing.T) {
	p := writeFile(t, `
server: "ws://example.test/v1/ws"
transport: ws
tick_rate_hz: 20
sustained_actions: [build]
persistence:
  record_dir: ./rec
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Transport != TransportWS || c.TickRateHz != 20 || c.Persistence.RecordDir != "./rec" {
		t.Fatalf("unexpected config: %+v", c)
	}
	if len(c.SustainedActions) != 1 || c.SustainedActions[0] != "build" {
		t.Fatalf("sustained actions: %v", c.SustainedActions)
	}
	if c.MaxFrameBytes != Defaults().MaxFrameBytes || c.PlayerName != "player" {
		t.Fatalf("defaults lost: %+v", c)
	}
	if c.TickInterval() != 50*time.Millisecond {
		t.Fatalf("tick interval: %v", c.TickInterval())
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []string{
		"transport: udp\n",
		"tick_rate_hz: 0\n",
		"server: \"\"\n",
		"resync_interval_sec: -1\n",
		"tick_rate_hz: [\n",
	}
	for _, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}
