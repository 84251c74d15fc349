// Package config holds the inference server's environment-driven
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `env:"NNEXEC_LISTEN" envDefault:":8080"`

	// Model references the model bundle: a local path, gs:// or http(s)://.
	Model string `env:"NNEXEC_MODEL"`

	// CacheDir caches remote model artifacts across restarts.
	CacheDir string `env:"NNEXEC_CACHE_DIR"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"NNEXEC_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables. It does not
// validate: callers layer flag overrides on top first and call Validate
// once the final values are in place.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from environment: %w", err)
	}
	if cfg.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home dir for cache: %w", err)
		}
		cfg.CacheDir = filepath.Join(home, ".cache", "nnexec", "models")
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("NNEXEC_MODEL is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}
