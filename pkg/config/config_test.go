package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsMatchOptionTable(t *testing.T) {
	d := Defaults()
	if d.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want 10s", d.ConnectTimeout)
	}
	if d.ReconnectBase != 500*time.Millisecond {
		t.Errorf("ReconnectBase = %v, want 500ms", d.ReconnectBase)
	}
	if d.ReconnectMaxAttempts != 0 {
		t.Errorf("ReconnectMaxAttempts = %d, want 0 (infinite)", d.ReconnectMaxAttempts)
	}
	if d.WriteQueueSize != 256 || d.SubscriberQueueSize != 64 {
		t.Errorf("queue sizes = %d/%d, want 256/64", d.WriteQueueSize, d.SubscriberQueueSize)
	}
}

func TestFromEnvOverlaysDefaults(t *testing.T) {
	t.Setenv("SCOPINATOR_CONNECT_TIMEOUT", "2s")
	t.Setenv("SCOPINATOR_RECONNECT_MAX_ATTEMPTS", "5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.ConnectTimeout)
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("ReconnectMaxAttempts = %d, want 5", cfg.ReconnectMaxAttempts)
	}
	// Untouched option keeps its default.
	if cfg.ReadIdleTimeout != 30*time.Second {
		t.Errorf("ReadIdleTimeout = %v, want default 30s", cfg.ReadIdleTimeout)
	}
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scopinator.yaml")
	yamlBody := "connect_timeout: 3s\nreconnect:\n  base: 100ms\n  max_attempts: 7\nwrite_queue_size: 512\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SCOPINATOR_CONNECT_TIMEOUT", "9s") // env wins over file

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectTimeout != 9*time.Second {
		t.Errorf("ConnectTimeout = %v, want 9s (env overrides file)", cfg.ConnectTimeout)
	}
	if cfg.ReconnectBase != 100*time.Millisecond {
		t.Errorf("ReconnectBase = %v, want 100ms (from file)", cfg.ReconnectBase)
	}
	if cfg.ReconnectMaxAttempts != 7 {
		t.Errorf("ReconnectMaxAttempts = %d, want 7 (from file)", cfg.ReconnectMaxAttempts)
	}
	if cfg.WriteQueueSize != 512 {
		t.Errorf("WriteQueueSize = %d, want 512 (from file)", cfg.WriteQueueSize)
	}
	// Fields absent from the file keep their default.
	if cfg.CommandTimeout != 10*time.Second {
		t.Errorf("CommandTimeout = %v, want default 10s", cfg.CommandTimeout)
	}
}

func TestLoadReturnsErrorForMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadReturnsErrorForBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("connect_timeout: not-a-duration\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparsable duration")
	}
}
