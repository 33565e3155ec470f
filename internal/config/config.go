// Package config loads nacre's project configuration: a JSON file in
// the project's .nacre directory, overlaid with environment variables
// (optionally loaded from a .env file in the project root).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

const configFile = ".nacre/config.json"

// Source kinds for reading the tracker.
const (
	SourceCLI    = "cli"
	SourceSQLite = "sqlite"
)

// Config holds the project-level settings. All fields are optional;
// zero values fall back to defaults at the point of use.
type Config struct {
	// Source selects the tracker adapter: "cli" or "sqlite".
	Source string `json:"source,omitempty"`
	// Bin is the tracker CLI binary for the cli source.
	Bin string `json:"bin,omitempty"`
	// DBPath is the tracker database file for the sqlite source.
	DBPath string `json:"db_path,omitempty"`

	// PollInterval and Debounce tune the watcher, as Go duration strings.
	PollInterval string `json:"poll_interval,omitempty"`
	Debounce     string `json:"debounce,omitempty"`
	// Window is the default metrics window, e.g. "7d" or "168h".
	Window string `json:"window,omitempty"`

	Port       int    `json:"port,omitempty"`
	Addr       string `json:"addr,omitempty"`
	Token      string `json:"token,omitempty"`
	CORSOrigin string `json:"cors_origin,omitempty"`
}

// Load reads the config from disk, then overlays environment variables.
// A missing config file yields defaults, not an error. A .env file in
// baseDir is loaded first if present, without clobbering variables that
// are already set.
func Load(baseDir string) (*Config, error) {
	// Ignore a missing .env; a malformed one is worth surfacing.
	if err := godotenv.Load(filepath.Join(baseDir, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(filepath.Join(baseDir, configFile))
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes the config to disk.
func Save(baseDir string, cfg *Config) error {
	configPath := filepath.Join(baseDir, configFile)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

// applyEnv overlays environment variables onto the file config. Env
// always wins so deployments can override a checked-in config.
func (c *Config) applyEnv() {
	if v := os.Getenv("BD_BIN"); v != "" {
		c.Bin = v
	}
	if v := os.Getenv("NACRE_SOURCE"); v != "" {
		c.Source = v
	}
	if v := os.Getenv("NACRE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("NACRE_POLL_INTERVAL"); v != "" {
		c.PollInterval = v
	}
	if v := os.Getenv("NACRE_DEBOUNCE"); v != "" {
		c.Debounce = v
	}
	if v := os.Getenv("NACRE_WINDOW"); v != "" {
		c.Window = v
	}
	if v := os.Getenv("NACRE_TOKEN"); v != "" {
		c.Token = v
	}
}

// BinOrDefault returns the tracker binary, defaulting to "bd" on PATH.
func (c *Config) BinOrDefault() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "bd"
}

// SourceOrDefault returns the source kind, defaulting to the CLI adapter.
func (c *Config) SourceOrDefault() string {
	if c.Source != "" {
		return c.Source
	}
	return SourceCLI
}

// Duration parses one of the duration-string fields, returning def when
// the field is empty or invalid.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
