package session

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64       `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     time.Duration `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool          `toml:"jitter" yaml:"jitter"`
}

// Config defines outbound link reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Backoff        BackoffConfig
	// MaxAttempts bounds consecutive reconnect attempts; 0 retries forever.
	MaxAttempts int
}

// DefaultConfig returns the defaults used by relay and broker consumers.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   2 * time.Second,
		Backoff:        DefaultBackoff(),
		MaxAttempts:    30,
	}
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier <= 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.Backoff.MaxDelay <= 0 {
		c.Backoff.MaxDelay = d.Backoff.MaxDelay
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	return c
}

func (c Config) Validate() error {
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: initial_delay %s exceeds max_delay %s", ErrInvalidConfig, c.Backoff.InitialDelay, c.Backoff.MaxDelay)
	}
	if c.Backoff.Multiplier != 0 && c.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: multiplier %.2f < 1", ErrInvalidConfig, c.Backoff.Multiplier)
	}
	return nil
}

// Exhausted reports whether attempt (1-based) is past the budget.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt > c.MaxAttempts
}
