package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.wppdash/config.toml.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	HTTP     HTTPConfig     `toml:"http"`
	Notify   NotifyConfig   `toml:"notify"`
}

// ProviderConfig points at the remote provider backend.
type ProviderConfig struct {
	BaseURL   string `toml:"base_url"`
	SocketURL string `toml:"socket_url"`
	Token     string `toml:"token"`
}

// HTTPConfig configures the daemon's own API listener.
type HTTPConfig struct {
	Listen string `toml:"listen"`
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	TimeoutMs int `toml:"timeout_ms"`
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:   "http://localhost:3000/api",
			SocketURL: "ws://localhost:3000/socket",
		},
		HTTP:   HTTPConfig{Listen: "127.0.0.1:8970"},
		Notify: NotifyConfig{TimeoutMs: 5000},
	}
}

// Load reads config from the given path, filling unset fields from Default.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.Notify.TimeoutMs <= 0 {
		cfg.Notify.TimeoutMs = 5000
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
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
