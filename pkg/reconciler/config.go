package reconciler

import (
	"errors"

	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
)

// Config holds pass settings.
type Config struct {
	PageSize       int    // fids fetched from the event index per query
	MaxFidsPerPass uint32 // fids checked successfully before a pass yields; 0 means unlimited
	Checkpoint     checkpointer.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:   500,
		Checkpoint: checkpointer.DefaultConfig(),
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.PageSize < 1 {
		return errors.New("invalid page size: must be at least 1")
	}
	return c.Checkpoint.Validate()
}
