package acquire

import (
	"fmt"
	"time"
)

// Default values.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Second
	DefaultGracePeriod = 5 * time.Second
)

// Config holds the campaign budget. It is fixed for the lifetime of an Acquirer.
type Config struct {
	// MaxAttempts is the ceiling on provider calls per campaign.
	MaxAttempts int
	// BaseDelay is the backoff step: failed attempt k is followed by a wait of k*BaseDelay.
	BaseDelay time.Duration
	// GracePeriod is waited before the first attempt so dependent subsystems can initialise.
	GracePeriod time.Duration
}

// DefaultConfig returns 5 attempts, a 10s step and a 5s initial grace period.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		GracePeriod: DefaultGracePeriod,
	}
}

// Validate reports whether the configuration can drive a campaign.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidConfig, c.MaxAttempts)
	}
	if c.BaseDelay <= 0 {
		return fmt.Errorf("%w: base delay must be positive, got %s", ErrInvalidConfig, c.BaseDelay)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive, got %s", ErrInvalidConfig, c.GracePeriod)
	}
	return nil
}
