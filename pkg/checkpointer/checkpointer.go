package checkpointer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NodeStateKey is the well-known node-state key the validate-or-revoke
// checkpoint is stored under.
const NodeStateKey = "validate_or_revoke"

// ErrCheckpointPersist is returned when a checkpoint could not be durably written.
var ErrCheckpointPersist = errors.New("failed to persist checkpoint")

// Checkpoint records the progress of the validate-or-revoke sweep over the fid
// space. The zero value means "start of space, never checked".
type Checkpoint struct {
	// LastFid is the fid the next pass resumes from. 0 means start of space.
	LastFid uint64 `json:"lastFid"`
	// LastRunTimestamp is the farcaster time at or before which signer state was
	// last confirmed consistent for every fid.
	LastRunTimestamp uint32 `json:"lastRunTimestamp"`
	// SweepStartTimestamp is the start time of a sweep that is split over several
	// budget-limited passes. 0 when no sweep is in progress.
	SweepStartTimestamp uint32 `json:"sweepStartTimestamp"`
}

// Checkpointer abstracts checkpoint persistence across different data stores. The checkpoint is a
// singleton co-located with other node state.
type Checkpointer interface {
	// Initialize ensures the underlying storage is ready (creates tables, schemas, etc.). This
	// should be idempotent and safe to call multiple times.
	Initialize(ctx context.Context) error

	// Write atomically persists a checkpoint. A concurrent Read never observes a partially
	// written checkpoint.
	Write(ctx context.Context, cp Checkpoint) error

	// Read retrieves the latest checkpoint. If no checkpoint exists the zero value is returned
	// without error.
	Read(ctx context.Context) (Checkpoint, error)
}

// WriteWithRetry persists cp, retrying failed writes according to cfg.
//
// Returns an error wrapping ErrCheckpointPersist and the last write error once
// all attempts are exhausted, or the context error if ctx is cancelled.
func WriteWithRetry(ctx context.Context, c Checkpointer, cp Checkpoint, cfg Config) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrCheckpointPersist, err)
		}

		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		lastErr = c.Write(writeCtx, cp)
		cancel()

		if lastErr == nil {
			return nil
		}

		// Don't sleep after the last attempt
		if attempt < cfg.MaxRetries {
			select {
			case <-time.After(cfg.RetryBackoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrCheckpointPersist, ctx.Err())
			}
		}
	}

	return fmt.Errorf("%w (lastFid: %d, lastRunTimestamp: %d) after %d attempts: %w",
		ErrCheckpointPersist, cp.LastFid, cp.LastRunTimestamp, cfg.MaxRetries+1, lastErr)
}
