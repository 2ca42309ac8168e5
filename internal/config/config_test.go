package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 38400 || cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.ListenAddr() != "127.0.0.1:38400" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
	if cfg.Tracker.IntervalMinutes != 60 {
		t.Errorf("tracker interval = %d", cfg.Tracker.IntervalMinutes)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 38400 {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  port: 9999\nembedding:\n  model: all-minilm\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want override 9999", cfg.Server.Port)
	}
	if cfg.Embedding.Model != "all-minilm" {
		t.Errorf("model = %q", cfg.Embedding.Model)
	}
	// Untouched fields keep defaults
	if cfg.Server.Bind != "127.0.0.1" || cfg.Tracker.IntervalMinutes != 60 {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml should fail")
	}
}
