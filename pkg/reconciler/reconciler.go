package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/miles-six/hub-monorepo/pkg/checkpointer"
	"github.com/miles-six/hub-monorepo/pkg/metrics"
	"github.com/miles-six/hub-monorepo/pkg/scheduler"
	"github.com/miles-six/hub-monorepo/pkg/types"
	"github.com/miles-six/hub-monorepo/pkg/validator"
)

var (
	// ErrPassInProgress is returned when RunPass is called while another pass runs.
	ErrPassInProgress = errors.New("pass already in progress")
	// ErrPassAborted is returned when a pass stops before reaching the end of
	// the fid space. The checkpoint is left as it was read.
	ErrPassAborted = errors.New("pass aborted")
	// ErrSystemicStoreFailure marks a pass aborted because every fid visited in
	// the sweep failed.
	ErrSystemicStoreFailure = errors.New("systemic store failure")
)

// FidSource enumerates the fids known to the event index.
type FidSource interface {
	// Fids returns up to limit fids >= from in ascending order.
	Fids(ctx context.Context, from types.Fid, limit int) ([]types.Fid, error)
	MaxFid(ctx context.Context) (types.Fid, error)
}

// FidChecker re-validates the messages of one fid.
type FidChecker interface {
	CheckFid(ctx context.Context, fid types.Fid, since uint32) (validator.Result, error)
}

// PassResult summarizes one pass.
type PassResult struct {
	Visited    uint32
	Skipped    uint32
	Checked    uint32
	Revoked    uint32
	Deferred   uint32
	FailedFids uint32
	// Completed is true when the pass reached the end of the fid space. A pass
	// that yields on its budget is neither completed nor aborted.
	Completed bool
	StartedAt uint32 // farcaster seconds
	// Checkpoint is the stored checkpoint after the pass.
	Checkpoint checkpointer.Checkpoint
}

// Reconciler sweeps the fid space from the stored checkpoint and re-validates
// each fid. Only one pass runs at a time.
type Reconciler struct {
	log          *zap.SugaredLogger
	fids         FidSource
	checker      FidChecker
	checkpointer checkpointer.Checkpointer
	cfg          Config
	metrics      *metrics.Metrics
	now          func() time.Time
	running      atomic.Bool
}

// New creates a Reconciler. m may be nil.
func New(
	log *zap.SugaredLogger,
	fids FidSource,
	checker FidChecker,
	cp checkpointer.Checkpointer,
	cfg Config,
	m *metrics.Metrics,
) (*Reconciler, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if fids == nil || checker == nil || cp == nil {
		return nil, errors.New("invalid dependencies: fid source, checker and checkpointer are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		log:          log,
		fids:         fids,
		checker:      checker,
		checkpointer: cp,
		cfg:          cfg,
		metrics:      m,
		now:          time.Now,
	}, nil
}

// Checkpoint returns the stored checkpoint.
func (r *Reconciler) Checkpoint(ctx context.Context) (checkpointer.Checkpoint, error) {
	return r.checkpointer.Read(ctx)
}

// Start runs a pass every interval until ctx is cancelled. Failed passes are
// logged and retried on the next tick.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) error {
	return scheduler.Every(ctx, interval, r.Run, r.log)
}

// Run is RunPass without the result, for use as a scheduler.Job. A trigger
// firing during a pass is not an error.
func (r *Reconciler) Run(ctx context.Context) error {
	_, err := r.RunPass(ctx)
	if errors.Is(err, ErrPassInProgress) {
		return nil
	}
	return err
}

// RunPass visits every fid from the checkpoint cursor up to the highest fid
// known at pass start, in ascending order, and checks each one against the
// checkpoint watermark.
//
// On reaching the end of the fid space the cursor wraps to 0 and the watermark
// advances to the start of the sweep. When MaxFidsPerPass fids were checked
// successfully first the cursor advances to the next unvisited fid and the
// watermark is kept.
//
// A fid whose check fails is logged and skipped. The pass aborts only when
// every fid visited in the sweep failed. An aborted pass writes nothing and
// returns an error wrapping ErrPassAborted.
func (r *Reconciler) RunPass(ctx context.Context) (PassResult, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.metrics.RecordSkippedTrigger()
		return PassResult{}, ErrPassInProgress
	}
	defer r.running.Store(false)

	start := time.Now()
	r.metrics.PassStarted()

	res, err := r.runPass(ctx)

	status := metrics.PassYielded
	switch {
	case err != nil:
		status = metrics.PassAborted
	case res.Completed:
		status = metrics.PassCompleted
	}
	r.metrics.RecordPass(status, time.Since(start).Seconds())

	fields := []any{
		"status", status,
		"visited", res.Visited,
		"skipped", res.Skipped,
		"checked", res.Checked,
		"revoked", res.Revoked,
		"deferred", res.Deferred,
		"failedFids", res.FailedFids,
		"lastFid", res.Checkpoint.LastFid,
		"lastRunTimestamp", res.Checkpoint.LastRunTimestamp,
		"duration", time.Since(start),
	}
	if err != nil {
		r.log.Errorw("pass aborted", append(fields, "error", err)...)
		return res, err
	}
	r.log.Infow("pass finished", fields...)
	return res, nil
}

func (r *Reconciler) runPass(ctx context.Context) (PassResult, error) {
	cp, err := r.checkpointer.Read(ctx)
	if err != nil {
		return PassResult{}, fmt.Errorf("%w: reading checkpoint: %w", ErrPassAborted, err)
	}

	passStart, err := types.ToFarcasterTime(r.now())
	if err != nil {
		return PassResult{}, fmt.Errorf("%w: %w", ErrPassAborted, err)
	}
	res := PassResult{StartedAt: passStart, Checkpoint: cp}

	sweepStart := passStart
	if cp.SweepStartTimestamp != 0 {
		sweepStart = cp.SweepStartTimestamp
	}

	maxFid, err := r.fids.MaxFid(ctx)
	if err != nil {
		return res, fmt.Errorf("%w: reading max fid: %w", ErrPassAborted, err)
	}

	r.log.Infow("pass started",
		"lastFid", cp.LastFid,
		"lastRunTimestamp", cp.LastRunTimestamp,
		"sweepStart", sweepStart,
		"maxFid", maxFid,
	)

	next, yielded, err := r.sweep(ctx, cp, maxFid, &res)
	if err != nil {
		return res, err
	}

	var update checkpointer.Checkpoint
	switch {
	case yielded:
		update = checkpointer.Checkpoint{
			LastFid:             next,
			LastRunTimestamp:    cp.LastRunTimestamp,
			SweepStartTimestamp: sweepStart,
		}
	case res.Visited == 0:
		res.Completed = true
		if cp.LastFid == 0 {
			return res, nil
		}
		// nothing left past the cursor; wrap without confirming anything new
		update = checkpointer.Checkpoint{LastRunTimestamp: cp.LastRunTimestamp}
	default:
		res.Completed = true
		update = checkpointer.Checkpoint{LastRunTimestamp: sweepStart}
	}

	if err := r.persist(ctx, update); err != nil {
		res.Completed = false
		return res, fmt.Errorf("%w: %w", ErrPassAborted, err)
	}
	res.Checkpoint = update
	return res, nil
}

// sweep checks fids in [cp.LastFid, maxFid]. It returns the first unvisited fid
// and true when the budget ran out before the end of the range.
func (r *Reconciler) sweep(
	ctx context.Context,
	cp checkpointer.Checkpoint,
	maxFid types.Fid,
	res *PassResult,
) (types.Fid, bool, error) {
	from := cp.LastFid
	for from <= maxFid {
		if err := ctx.Err(); err != nil {
			return 0, false, fmt.Errorf("%w: %w", ErrPassAborted, err)
		}

		page, err := r.fids.Fids(ctx, from, r.cfg.PageSize)
		if err != nil {
			return 0, false, fmt.Errorf("%w: listing fids from %d: %w", ErrPassAborted, from, err)
		}

		for _, fid := range page {
			if fid > maxFid {
				break
			}
			if r.cfg.MaxFidsPerPass > 0 && res.Visited-res.FailedFids >= r.cfg.MaxFidsPerPass {
				return fid, true, nil
			}

			result, err := r.checker.CheckFid(ctx, fid, cp.LastRunTimestamp)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, false, fmt.Errorf("%w: at fid %d: %w", ErrPassAborted, fid, ctxErr)
			}

			res.Visited++
			res.Checked += result.Checked
			res.Revoked += result.Revoked
			res.Deferred += result.Deferred
			if result.Skipped {
				res.Skipped++
			}
			r.metrics.RecordFid(result.Skipped, err != nil)

			if err != nil {
				res.FailedFids++
				r.log.Warnw("failed to check fid", "fid", fid, "error", err)
			}
		}

		if len(page) < r.cfg.PageSize {
			break
		}
		last := page[len(page)-1]
		if last >= maxFid {
			break
		}
		from = last + 1
	}

	// a sweep resumed after a yield already checked fids successfully
	if res.Visited > 0 && res.FailedFids == res.Visited && cp.SweepStartTimestamp == 0 {
		return 0, false, fmt.Errorf("%w: %w: all %d visited fids failed",
			ErrPassAborted, ErrSystemicStoreFailure, res.Visited)
	}
	return 0, false, nil
}

func (r *Reconciler) persist(ctx context.Context, cp checkpointer.Checkpoint) error {
	err := checkpointer.WriteWithRetry(ctx, r.checkpointer, cp, r.cfg.Checkpoint)
	r.metrics.RecordCheckpointWrite(err)
	if err != nil {
		return err
	}
	r.metrics.UpdateCheckpoint(cp.LastFid, cp.LastRunTimestamp)
	return nil
}
