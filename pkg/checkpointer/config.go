package checkpointer

import (
	"errors"
	"time"
)

// Config holds the write policy for checkpoint persistence.
type Config struct {
	WriteTimeout time.Duration // Timeout for each checkpoint write operation
	MaxRetries   int           // Maximum number of retry attempts for failed writes
	RetryBackoff time.Duration // Backoff duration between retry attempts
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 1 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 300 * time.Millisecond,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.WriteTimeout <= 0 {
		return errors.New("invalid checkpoint write timeout: must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("invalid checkpoint max retries: must not be negative")
	}
	if c.RetryBackoff < 0 {
		return errors.New("invalid checkpoint retry backoff: must not be negative")
	}
	return nil
}
