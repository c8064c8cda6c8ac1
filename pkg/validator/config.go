package validator

import "errors"

// Config holds Validator settings.
type Config struct {
	MessageConcurrency int64 // messages evaluated in parallel per fid
	DryRun             bool  // evaluate and count, never delete
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{MessageConcurrency: 4}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MessageConcurrency < 1 {
		return errors.New("message concurrency must be at least 1")
	}
	return nil
}
