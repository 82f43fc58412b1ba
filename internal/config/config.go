// Package config loads the hypewatch YAML configuration and applies
// environment variable overrides.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the hypewatch dashboard service.
type Config struct {
	Backend   Backend   `yaml:"backend"`
	Server    Server    `yaml:"server"`
	Storage   Storage   `yaml:"storage"`
	Dashboard Dashboard `yaml:"dashboard"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
}

// Backend locates the analysis backend and selects the transport variant.
type Backend struct {
	BaseURL string `yaml:"base_url"`
	// Mode is "stream" (default), "json", or "poll".
	Mode            string `yaml:"mode"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Dashboard controls the saved-symbol refresh loop.
type Dashboard struct {
	RefreshIntervalMin int `yaml:"refresh_interval_min"`
}

// Alpaca holds credentials for the Alpaca marketdata API used by the live
// news feed. Optional: feeds fall back to public sources when unset.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RefreshInterval returns the dashboard refresh interval, defaulting to the
// staleness horizon (1 hour) when unset.
func (d Dashboard) RefreshInterval() time.Duration {
	if d.RefreshIntervalMin <= 0 {
		return time.Hour
	}
	return time.Duration(d.RefreshIntervalMin) * time.Minute
}

// PollInterval returns the status poll interval, defaulting to one second.
func (b Backend) PollInterval() time.Duration {
	if b.PollIntervalSec <= 0 {
		return time.Second
	}
	return time.Duration(b.PollIntervalSec) * time.Second
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a usable configuration without a file, for CLI use.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:5001"
	}
	if cfg.Backend.Mode == "" {
		cfg.Backend.Mode = "stream"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/hypewatch.db"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Canonical Alpaca env vars used by the SDK take priority.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
