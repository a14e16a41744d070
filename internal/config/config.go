package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/varopt/internal/logging"
	"github.com/copyleftdev/varopt/internal/optimization/lbfgsb"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging      logging.Config
	Optimization struct {
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
		// JobTimeout bounds a single optimization run. Zero disables it.
		JobTimeout time.Duration `env:"OPT_JOB_TIMEOUT" envDefault:"5m"`
	}
	// Optimizer holds the L-BFGS-B options applied when a request omits
	// them, read from LBFGSB_MAXFUN, LBFGSB_MAXITER, LBFGSB_FACTR,
	// LBFGSB_IPRINT and LBFGSB_EPSILON.
	Optimizer lbfgsb.Options `envPrefix:"LBFGSB_"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment cannot constrain by type alone.
func (c *Config) Validate() error {
	if c.Optimization.WorkerCount < 1 {
		return fmt.Errorf("OPT_WORKER_COUNT must be at least 1, got %d", c.Optimization.WorkerCount)
	}
	if c.Optimization.JobTimeout < 0 {
		return fmt.Errorf("OPT_JOB_TIMEOUT must not be negative, got %s", c.Optimization.JobTimeout)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("LBFGSB defaults: %w", err)
	}
	return nil
}
