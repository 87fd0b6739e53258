package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
)

// Backend holds the connection settings for the hosted chat backend.
type Backend struct {
	URL                string `toml:"url" env:"PARLEY_BACKEND_URL"`
	APIKey             string `toml:"api_key" env:"PARLEY_API_KEY"`
	UserID             string `toml:"user_id" env:"PARLEY_USER_ID"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs" env:"PARLEY_REQUEST_TIMEOUT_SECS"`
}

// Config represents the global ~/.parley/config.toml. Secrets can be kept
// out of the file and injected through PARLEY_* environment variables,
// which take precedence over file values.
type Config struct {
	DefaultProfile string  `toml:"default_profile" env:"PARLEY_PROFILE"`
	Backend        Backend `toml:"backend"`
}

// RequestTimeout returns the per-call backend timeout.
func (c *Config) RequestTimeout() time.Duration {
	if c.Backend.RequestTimeoutSecs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Backend.RequestTimeoutSecs) * time.Second
}

// Load reads config from the given path and overlays PARLEY_* environment
// variables. A missing file is not an error: the env overlay alone may be
// enough to run.
func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err := envconfig.Process(ctx, &cfg); err != nil {
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
