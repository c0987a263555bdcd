package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Jobs.MaxConcurrent != 4 {
		t.Errorf("max concurrent = %d, want 4", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %s, want info", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9999
  read_timeout: 30s
jobs:
  max_concurrent: 2
log:
  level: debug
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %s, want 30s", cfg.Server.ReadTimeout)
	}
	if cfg.Jobs.MaxConcurrent != 2 {
		t.Errorf("max concurrent = %d, want 2", cfg.Jobs.MaxConcurrent)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %s, want debug", cfg.Log.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Data.Dir != "./data" {
		t.Errorf("data dir = %s, want ./data", cfg.Data.Dir)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("QUANT_SERVER_PORT", "7777")
	t.Setenv("QUANT_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %s, want warn", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("QUANT_SERVER_PORT", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected error for port 0")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
