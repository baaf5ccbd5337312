package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.DefaultUser = "alice"
	cfg.GatewayURL = "wss://example.test/ws"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultUser != "alice" {
		t.Errorf("DefaultUser = %q, want alice", loaded.DefaultUser)
	}
	if loaded.GatewayURL != "wss://example.test/ws" {
		t.Errorf("GatewayURL = %q", loaded.GatewayURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.HeartbeatInterval() != 10*time.Second {
		t.Errorf("heartbeat = %v, want 10s", cfg.HeartbeatInterval())
	}
	if cfg.BackoffBase() != 300*time.Millisecond || cfg.BackoffMax() != 5*time.Second {
		t.Errorf("backoff = %v/%v", cfg.BackoffBase(), cfg.BackoffMax())
	}
	if cfg.Backoff.AttemptCap != 6 {
		t.Errorf("attempt cap = %d, want 6", cfg.Backoff.AttemptCap)
	}
	if cfg.Outbox.DrainMax != 12 || cfg.OutboxRetryMin() != 900*time.Millisecond {
		t.Errorf("outbox = %d/%v", cfg.Outbox.DrainMax, cfg.OutboxRetryMin())
	}
}

func TestDurationParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "gateway_url = \"ws://localhost:1/ws\"\nheartbeat_interval = \"3s\"\n\n[backoff]\nbase = \"250ms\"\n"
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeartbeatInterval() != 3*time.Second {
		t.Errorf("heartbeat = %v, want 3s", cfg.HeartbeatInterval())
	}
	if cfg.BackoffBase() != 250*time.Millisecond {
		t.Errorf("base = %v, want 250ms", cfg.BackoffBase())
	}
}
