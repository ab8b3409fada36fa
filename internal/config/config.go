// Package config loads server configuration from YAML with environment
// overrides. Every field has a usable default so a bare `sheetsync serve`
// works without a config file.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the sheetsync server configuration.
type Config struct {
	// Listen is the websocket listen address.
	Listen string `yaml:"listen"`
	// DBPath is the SQLite database path for saved analyses and telemetry.
	DBPath string `yaml:"db_path"`
	// Sources maps import source names to CSV file paths.
	Sources map[string]string `yaml:"sources"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:   "127.0.0.1:8737",
		DBPath:   "sheetsync.db",
		LogLevel: "info",
	}
}

// Load reads the YAML file at path (skipped when path is empty), applies
// SHEETSYNC_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SHEETSYNC_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("SHEETSYNC_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SHEETSYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps LogLevel onto a slog.Level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
	}
}
