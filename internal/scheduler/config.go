package scheduler

import (
	"time"

	"github.com/smallbiznis/proposalpricing/internal/config"
)

// Config controls scheduler intervals.
type Config struct {
	RunInterval time.Duration
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		IdleTimeout: 2 * time.Hour,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: cfg.SchedulerInterval,
		IdleTimeout: cfg.SessionIdleTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
