package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	RelayURL       string `toml:"relay_url"`

	// DirectoryCapacity bounds the in-memory roster of relay identities.
	// Zero means the built-in default.
	DirectoryCapacity int `toml:"directory_capacity"`

	Responder ResponderConfig `toml:"responder"`
}

// ResponderConfig tunes the bot reply cadence. Delays are milliseconds.
type ResponderConfig struct {
	MinDelayMS int `toml:"min_delay_ms"`
	MaxDelayMS int `toml:"max_delay_ms"`
	PerCharMS  int `toml:"per_char_ms"`
}

// DefaultRelayURL is used when config.toml does not set relay_url.
const DefaultRelayURL = "ws://localhost:8080/ws"

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
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
