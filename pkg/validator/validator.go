package validator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/libevm/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/miles-six/hub-monorepo/pkg/metrics"
	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/types"
)

var (
	// ErrStoreIO marks a failure to read the state needed to check a fid.
	ErrStoreIO = errors.New("store io error")
	// ErrUnknownBody is returned for a message body the validator has no rule for.
	ErrUnknownBody = errors.New("unknown message body")
)

// MessageStore is the persistent message store.
type MessageStore interface {
	// MessagesByFid returns every stored message of fid.
	MessagesByFid(ctx context.Context, fid types.Fid) ([]types.Message, error)
	// DeleteMessage removes one message. Deleting an absent message is not an error.
	DeleteMessage(ctx context.Context, fid types.Fid, hash types.MessageHash) error
}

// UsernameProofIndex answers whether a fid has recent username proofs without
// enumerating its messages.
type UsernameProofIndex interface {
	// LatestUsernameProofTimestamp returns the newest username proof message
	// timestamp (farcaster seconds) of fid. ok is false when fid has none.
	LatestUsernameProofTimestamp(ctx context.Context, fid types.Fid) (ts uint32, ok bool, err error)
}

// RevocationPublisher announces revoked messages to downstream consumers.
type RevocationPublisher interface {
	PublishRevocation(ctx context.Context, r types.Revocation) error
}

// Oracle is the subset of the validity oracle the validator needs.
type Oracle interface {
	ActiveSigners(ctx context.Context, fid types.Fid, at uint32) (oracle.Signers, error)
	HasChangesSince(ctx context.Context, fid types.Fid, since uint32) (bool, error)
	ResolveOwnership(ctx context.Context, proof *types.UsernameProof) (common.Address, error)
}

// Result summarizes one fid check.
type Result struct {
	Checked  uint32 // messages evaluated
	Revoked  uint32 // messages deleted (or, in dry run, found invalid)
	Deferred uint32 // messages kept because ownership was indeterminate
	Failed   uint32 // invalid messages that could not be deleted, or had no rule
	Skipped  bool   // nothing relevant changed since the watermark
}

// Validator re-validates the messages of a single fid and revokes those that
// are no longer valid.
type Validator struct {
	log       *zap.SugaredLogger
	oracle    Oracle
	messages  MessageStore
	proofs    UsernameProofIndex
	publisher RevocationPublisher
	cfg       Config
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates a Validator. publisher and m may be nil.
func New(
	log *zap.SugaredLogger,
	o Oracle,
	messages MessageStore,
	proofs UsernameProofIndex,
	publisher RevocationPublisher,
	cfg Config,
	m *metrics.Metrics,
) (*Validator, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if o == nil || messages == nil || proofs == nil {
		return nil, errors.New("invalid dependencies: oracle, message store and proof index are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Validator{
		log:       log,
		oracle:    o,
		messages:  messages,
		proofs:    proofs,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// CheckFid re-validates every message of fid unless nothing that could affect
// their validity changed after since. since == 0 forces a full check.
//
// Read failures are returned wrapped in ErrStoreIO. Per-message delete failures
// are logged and counted in Result.Failed. When ctx is cancelled the partial
// result is returned together with ctx.Err().
func (v *Validator) CheckFid(ctx context.Context, fid types.Fid, since uint32) (Result, error) {
	if since != 0 {
		skip, err := v.unchanged(ctx, fid, since)
		if err != nil {
			return Result{}, err
		}
		if skip {
			return Result{Skipped: true}, nil
		}
	}

	now, err := types.ToFarcasterTime(v.now())
	if err != nil {
		return Result{}, err
	}

	msgs, err := v.messages.MessagesByFid(ctx, fid)
	if err != nil {
		return Result{}, fmt.Errorf("%w: messages of fid %d: %w", ErrStoreIO, fid, err)
	}
	if len(msgs) == 0 {
		return Result{}, nil
	}

	signers, err := v.oracle.ActiveSigners(ctx, fid, now)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}

	return v.checkMessages(ctx, fid, msgs, signers, now)
}

func (v *Validator) unchanged(ctx context.Context, fid types.Fid, since uint32) (bool, error) {
	changed, err := v.oracle.HasChangesSince(ctx, fid, since)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreIO, err)
	}
	if changed {
		return false, nil
	}

	latest, ok, err := v.proofs.LatestUsernameProofTimestamp(ctx, fid)
	if err != nil {
		return false, fmt.Errorf("%w: username proofs of fid %d: %w", ErrStoreIO, fid, err)
	}
	return !ok || latest <= since, nil
}

func (v *Validator) checkMessages(
	ctx context.Context,
	fid types.Fid,
	msgs []types.Message,
	signers oracle.Signers,
	now uint32,
) (Result, error) {
	var (
		mu  sync.Mutex
		res Result
	)
	sem := semaphore.NewWeighted(v.cfg.MessageConcurrency)
	var g errgroup.Group

	for _, msg := range msgs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			out := v.checkMessage(ctx, msg, signers, now)

			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			switch out {
			case outcomeRevoked:
				res.Revoked++
			case outcomeDeferred:
				res.Deferred++
			case outcomeFailed:
				res.Failed++
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	v.metrics.AddMessagesChecked(int(res.Checked))
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if res.Revoked > 0 || res.Failed > 0 {
		v.log.Infow("fid checked",
			"fid", fid,
			"checked", res.Checked,
			"revoked", res.Revoked,
			"deferred", res.Deferred,
			"failed", res.Failed,
		)
	}
	return res, nil
}

type outcome int

const (
	outcomeValid outcome = iota
	outcomeRevoked
	outcomeDeferred
	outcomeFailed
)

func (v *Validator) checkMessage(ctx context.Context, msg types.Message, signers oracle.Signers, now uint32) outcome {
	verdict, err := v.evaluate(ctx, msg, signers)
	if err != nil {
		v.log.Errorw("failed to evaluate message",
			"fid", msg.Fid,
			"hash", msg.Hash.String(),
			"type", msg.Type.String(),
			"error", err,
		)
		return outcomeFailed
	}

	switch {
	case verdict.valid && verdict.deferred:
		v.metrics.IncMessagesDeferred()
		return outcomeDeferred
	case verdict.valid:
		return outcomeValid
	}

	if v.cfg.DryRun {
		v.log.Infow("dry run: message would be revoked",
			"fid", msg.Fid,
			"hash", msg.Hash.String(),
			"type", msg.Type.String(),
			"reason", verdict.reason,
		)
		return outcomeRevoked
	}

	if err := v.messages.DeleteMessage(ctx, msg.Fid, msg.Hash); err != nil {
		v.metrics.IncDeleteFailure()
		v.log.Errorw("failed to revoke message",
			"fid", msg.Fid,
			"hash", msg.Hash.String(),
			"type", msg.Type.String(),
			"reason", verdict.reason,
			"error", err,
		)
		return outcomeFailed
	}

	v.metrics.IncMessagesRevoked(msg.Type.String())
	v.log.Debugw("revoked message",
		"fid", msg.Fid,
		"hash", msg.Hash.String(),
		"reason", verdict.reason,
	)
	v.publish(ctx, types.NewRevocation(msg, verdict.reason, now))
	return outcomeRevoked
}

func (v *Validator) publish(ctx context.Context, r types.Revocation) {
	if v.publisher == nil {
		return
	}
	err := v.publisher.PublishRevocation(ctx, r)
	v.metrics.RecordRevocationPublished(err)
	if err != nil {
		v.log.Warnw("failed to publish revocation",
			"fid", r.Fid,
			"hash", r.HashHex,
			"error", err,
		)
	}
}

type verdict struct {
	valid    bool
	deferred bool
	reason   types.RevocationReason
}

func (v *Validator) evaluate(ctx context.Context, msg types.Message, signers oracle.Signers) (verdict, error) {
	switch body := msg.Body.(type) {
	case types.SignedData:
		if !signers.Contains(msg.Signer) {
			return verdict{reason: types.RevocationReasonSignerInvalid}, nil
		}
		return verdict{valid: true}, nil

	case *types.UsernameProof:
		if body == nil {
			return verdict{}, fmt.Errorf("%w: nil username proof", ErrUnknownBody)
		}
		// ownership is resolved for the proof's fid, which must be the author's
		if body.Fid != msg.Fid {
			return verdict{reason: types.RevocationReasonFidMismatch}, nil
		}
		if !signers.Contains(msg.Signer) {
			return verdict{reason: types.RevocationReasonSignerInvalid}, nil
		}
		owner, err := v.oracle.ResolveOwnership(ctx, body)
		switch {
		case errors.Is(err, oracle.ErrNameNotFound):
			return verdict{reason: types.RevocationReasonNameNotResolved}, nil
		case err != nil:
			// anything short of a definitive answer keeps the message
			v.log.Debugw("ownership indeterminate, deferring",
				"fid", msg.Fid,
				"name", body.Name,
				"error", err,
			)
			return verdict{valid: true, deferred: true}, nil
		case owner != body.Owner:
			return verdict{reason: types.RevocationReasonOwnerMismatch}, nil
		}
		return verdict{valid: true}, nil

	default:
		return verdict{}, fmt.Errorf("%w: %T", ErrUnknownBody, msg.Body)
	}
}
