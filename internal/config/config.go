// Package config reads and writes the global ~/.prohands/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds daemon settings. Zero-valued durations fall back to defaults
// at load time so an empty or partial file still produces a usable config.
type Config struct {
	APIBaseURL     string `toml:"api_base_url"`
	WSURL          string `toml:"ws_url"`
	DefaultSession string `toml:"default_session"`

	HeartbeatInterval   duration `toml:"heartbeat_interval"`
	MaxMissedHeartbeats int      `toml:"max_missed_heartbeats"`
	SendTimeout         duration `toml:"send_timeout"`
	ReconnectInitial    duration `toml:"reconnect_initial"`
	ReconnectMax        duration `toml:"reconnect_max"`
}

// duration lets TOML carry values like "30s".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration converts the TOML wrapper back to a time.Duration.
func (d duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIBaseURL:          "https://api.prohands.app/api/chat",
		WSURL:               "wss://api.prohands.app/chat",
		HeartbeatInterval:   duration(30 * time.Second),
		MaxMissedHeartbeats: 3,
		SendTimeout:         duration(30 * time.Second),
		ReconnectInitial:    duration(time.Second),
		ReconnectMax:        duration(60 * time.Second),
	}
}

// Load reads config from path, filling unset fields from defaults. A missing
// file is an error; callers fall back to Default.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.WSURL == "" {
		cfg.WSURL = def.WSURL
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.MaxMissedHeartbeats <= 0 {
		cfg.MaxMissedHeartbeats = def.MaxMissedHeartbeats
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = def.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = def.ReconnectMax
	}
}
