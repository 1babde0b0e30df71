// Package config loads the TOML configuration. Every key has a working
// default so the tool runs with no config file at all.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the top-level TOML structure.
type Config struct {
	StateDir     string        `toml:"state_dir" mapstructure:"state_dir"`
	Network      string        `toml:"network" mapstructure:"network"`
	ProxyImage   string        `toml:"proxy_image" mapstructure:"proxy_image"`
	AcmeImage    string        `toml:"acme_image" mapstructure:"acme_image"`
	DefaultEmail string        `toml:"default_email" mapstructure:"default_email"`
	Log          LogConfig     `toml:"log" mapstructure:"log"`
	History      HistoryConfig `toml:"history" mapstructure:"history"`
}

// LogConfig controls terminal log level and the optional rotating log
// file.
type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistoryConfig controls the deploy audit log.
type HistoryConfig struct {
	Enabled *bool  `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

// IsEnabled defaults to true when the key is absent.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// DefaultDir is the per-user state and config directory.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "foundation")
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.toml")
}

// Load reads the TOML file at path. An empty path falls back to
// DefaultPath, and a missing default file just yields the defaults.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := &Config{}
	_, statErr := os.Stat(path)
	switch {
	case statErr != nil && explicit:
		return nil, fmt.Errorf("config file %s: %w", path, statErr)
	case statErr != nil:
		// No config file: defaults only.
	default:
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StateDir == "" {
		c.StateDir = DefaultDir()
	}
	if c.Network == "" {
		c.Network = "foundation_network"
	}
	if c.ProxyImage == "" {
		c.ProxyImage = "nginxproxy/nginx-proxy"
	}
	if c.AcmeImage == "" {
		c.AcmeImage = "nginxproxy/acme-companion"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.History.DSN == "" {
		c.History.DSN = filepath.Join(c.StateDir, "history.db")
	}
}
