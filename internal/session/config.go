package session

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// RetryConfig paces the delay between failed attempts.
type RetryConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines engine limits and pacing defaults.
type Config struct {
	MaxAttempts    int
	SessionTimeout time.Duration
	RoundTimeout   time.Duration
	MaxConcurrent  int
	Retry          RetryConfig
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		SessionTimeout: 5 * time.Minute,
		RoundTimeout:   2 * time.Minute,
		MaxConcurrent:  16,
		Retry: RetryConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   1.0,
			MaxDelay:     2 * time.Second,
			Jitter:       false,
		},
	}
}

// WithDefaults fills unset limits from DefaultConfig. A zero RoundTimeout
// and a zero Retry are deliberate settings and stay untouched.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = def.SessionTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	return c
}

func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalidConfig)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("%w: session_timeout must be positive", ErrInvalidConfig)
	}
	if c.RoundTimeout < 0 {
		return fmt.Errorf("%w: round_timeout must not be negative", ErrInvalidConfig)
	}
	if c.RoundTimeout > c.SessionTimeout {
		return fmt.Errorf("%w: round_timeout exceeds session_timeout", ErrInvalidConfig)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: max_concurrent must be positive", ErrInvalidConfig)
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	return nil
}
