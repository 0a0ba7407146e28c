package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaultsAndDerivesDurations(t *testing.T) {
	path := writeConfig(t, `
user:
  id: u1
api:
  base_url: https://api.example.test
channel:
  url: wss://api.example.test/ws
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TypingQuiet != 3*time.Second || cfg.TypingDecay != 6*time.Second {
		t.Fatalf("typing windows = %v, %v", cfg.TypingQuiet, cfg.TypingDecay)
	}
	if cfg.APITimeout != 15*time.Second {
		t.Fatalf("api timeout = %v", cfg.APITimeout)
	}
	if cfg.ReconnectBase != time.Second || cfg.ReconnectMax != 30*time.Second {
		t.Fatalf("reconnect windows = %v, %v", cfg.ReconnectBase, cfg.ReconnectMax)
	}
}

func TestLoadOverridesTypingWindows(t *testing.T) {
	path := writeConfig(t, `
user:
  id: u1
api:
  base_url: https://api.example.test
channel:
  url: wss://api.example.test/ws
typing:
  quiet_window_seconds: 2
  decay_seconds: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TypingQuiet != 2*time.Second || cfg.TypingDecay != 10*time.Second {
		t.Fatalf("typing windows = %v, %v", cfg.TypingQuiet, cfg.TypingDecay)
	}
}

func TestLoadRejectsMissingEndpoints(t *testing.T) {
	path := writeConfig(t, `
user:
  id: u1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("config without endpoints accepted")
	}
}
