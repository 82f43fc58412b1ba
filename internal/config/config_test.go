package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yamlContent := []byte(`
backend:
  base_url: "http://analysis.internal:5001"
  mode: "stream"
server:
  host: "127.0.0.1"
  port: 9000
storage:
  data_dir: "/tmp/hypewatch/data"
  sqlite_path: "/tmp/hypewatch/hypewatch.db"
dashboard:
  refresh_interval_min: 30
logging:
  level: "debug"
  format: "json"
`)

	path := filepath.Join(t.TempDir(), "hypewatch.yaml")
	if err := os.WriteFile(path, yamlContent, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.BaseURL != "http://analysis.internal:5001" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/tmp/hypewatch/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if got := cfg.Dashboard.RefreshInterval(); got != 30*time.Minute {
		t.Errorf("RefreshInterval = %v, want 30m", got)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "http://override:5001")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("SQLITE_PATH", "/tmp/override.db")

	path := filepath.Join(t.TempDir(), "hypewatch.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  base_url: \"http://file:5001\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://override:5001" {
		t.Errorf("env override not applied, BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("LOG_LEVEL override not applied, Level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.SQLitePath != "/tmp/override.db" {
		t.Errorf("SQLITE_PATH override not applied, got %q", cfg.Storage.SQLitePath)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Backend.Mode != "stream" {
		t.Errorf("default mode = %q, want stream", cfg.Backend.Mode)
	}
	if cfg.Dashboard.RefreshInterval() != time.Hour {
		t.Errorf("default refresh interval = %v, want 1h", cfg.Dashboard.RefreshInterval())
	}
	if cfg.Backend.PollInterval() != time.Second {
		t.Errorf("default poll interval = %v, want 1s", cfg.Backend.PollInterval())
	}
}
