package oracle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/libevm/common"
	"go.uber.org/zap"

	"github.com/miles-six/hub-monorepo/pkg/metrics"
	"github.com/miles-six/hub-monorepo/pkg/types"
)

var (
	// ErrIndeterminate means ownership could not be established this run
	// (timeout, network failure, store failure). It must never lead to a revocation.
	ErrIndeterminate = errors.New("ownership indeterminate")
	// ErrNameNotFound means the name definitively resolves to no address.
	ErrNameNotFound = errors.New("name not found")
	// ErrFidNotRegistered is returned by an EventIndex when a fid has no id registration.
	ErrFidNotRegistered = errors.New("fid not registered")
)

// EventIndex is the read side of the on-chain event index. Implementations
// must always answer from their current state.
type EventIndex interface {
	// SignerEvents returns every signer event of fid in chain order.
	SignerEvents(ctx context.Context, fid types.Fid) ([]types.OnChainEvent, error)
	// CustodyAddress returns the current custody address of fid, or ErrFidNotRegistered.
	CustodyAddress(ctx context.Context, fid types.Fid) (common.Address, error)
	// LastChangeTimestamp returns the newest block timestamp (unix seconds) of
	// any signer or id-register event of fid, 0 when there is none.
	LastChangeTimestamp(ctx context.Context, fid types.Fid) (uint64, error)
	// Fids returns up to limit registered fids >= from in ascending order.
	Fids(ctx context.Context, from types.Fid, limit int) ([]types.Fid, error)
	// MaxFid returns the highest registered fid, 0 when none.
	MaxFid(ctx context.Context) (types.Fid, error)
}

// NameResolver resolves names held in an external naming registry.
type NameResolver interface {
	// Resolve returns the address name points to, or ErrNameNotFound.
	Resolve(ctx context.Context, name string) (common.Address, error)
}

// Config holds Oracle settings.
type Config struct {
	LookupTimeout time.Duration // bound on a single external name lookup
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{LookupTimeout: 5 * time.Second}
}

// Oracle answers signer validity and name ownership questions against the
// current on-chain state.
type Oracle struct {
	log      *zap.SugaredLogger
	index    EventIndex
	resolver NameResolver
	cfg      Config
	metrics  *metrics.Metrics
}

// New creates an Oracle. resolver may be nil, in which case every external
// registry claim resolves as indeterminate. m may be nil.
func New(
	log *zap.SugaredLogger,
	index EventIndex,
	resolver NameResolver,
	cfg Config,
	m *metrics.Metrics,
) (*Oracle, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if index == nil {
		return nil, errors.New("invalid event index: must not be nil")
	}
	if cfg.LookupTimeout <= 0 {
		return nil, errors.New("invalid lookup timeout: must be greater than 0")
	}
	return &Oracle{
		log:      log,
		index:    index,
		resolver: resolver,
		cfg:      cfg,
		metrics:  m,
	}, nil
}

// Signers is the set of signer keys active for a fid at a point in time.
type Signers struct {
	fid    types.Fid
	at     uint32
	active [][]byte
}

// Contains reports whether key is an active signer.
func (s Signers) Contains(key []byte) bool {
	for _, k := range s.active {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

// Len returns the number of active signers.
func (s Signers) Len() int {
	return len(s.active)
}

// ActiveSigners folds the current signer history of fid and returns the keys
// whose latest event effective at or before at is an add.
func (o *Oracle) ActiveSigners(ctx context.Context, fid types.Fid, at uint32) (Signers, error) {
	events, err := o.index.SignerEvents(ctx, fid)
	if err != nil {
		return Signers{}, fmt.Errorf("failed to get signer events for fid %d: %w", fid, err)
	}
	return foldSigners(fid, events, at), nil
}

// IsSignerValidAt reports whether key had an active, not later revoked,
// authorization for fid with effective time <= at.
func (o *Oracle) IsSignerValidAt(ctx context.Context, fid types.Fid, key []byte, at uint32) (bool, error) {
	signers, err := o.ActiveSigners(ctx, fid, at)
	if err != nil {
		return false, err
	}
	return signers.Contains(key), nil
}

func foldSigners(fid types.Fid, events []types.OnChainEvent, at uint32) Signers {
	ordered := make([]types.OnChainEvent, 0, len(events))
	for _, e := range events {
		if e.Type == types.OnChainEventTypeSigner && e.SignerBody != nil {
			ordered = append(ordered, e)
		}
	}
	types.SortEvents(ordered)

	// last event type per key, in first-seen order
	var keys [][]byte
	last := make(map[string]types.SignerEventType)
	for _, e := range ordered {
		if e.EffectiveTimestamp() > at {
			break
		}
		k := string(e.SignerBody.Key)
		if _, ok := last[k]; !ok {
			keys = append(keys, e.SignerBody.Key)
		}
		last[k] = e.SignerBody.EventType
	}

	s := Signers{fid: fid, at: at}
	for _, k := range keys {
		if last[string(k)] == types.SignerEventTypeAdd {
			s.active = append(s.active, k)
		}
	}
	return s
}

// HasChangesSince reports whether fid has a signer or custody event with an
// effective time strictly after since.
func (o *Oracle) HasChangesSince(ctx context.Context, fid types.Fid, since uint32) (bool, error) {
	ts, err := o.index.LastChangeTimestamp(ctx, fid)
	if err != nil {
		return false, fmt.Errorf("failed to get last change timestamp for fid %d: %w", fid, err)
	}
	if ts == 0 {
		return false, nil
	}
	return types.UnixToFarcasterTime(ts) > since, nil
}

// ResolveOwnership returns the address that currently owns the name claimed by
// proof. Fname claims resolve to the fid's custody address without any network
// call; ENS claims go through the external resolver bounded by LookupTimeout.
//
// Errors: ErrNameNotFound is definitive. Every other failure is reported as
// ErrIndeterminate and callers must defer their decision.
func (o *Oracle) ResolveOwnership(ctx context.Context, proof *types.UsernameProof) (common.Address, error) {
	if proof == nil {
		return common.Address{}, fmt.Errorf("%w: nil username proof", ErrIndeterminate)
	}

	switch proof.Type {
	case types.UsernameTypeFname:
		return o.resolveCustody(ctx, proof)
	case types.UsernameTypeEnsL1:
		return o.resolveExternal(ctx, proof)
	default:
		return common.Address{}, fmt.Errorf("%w: unsupported username type %s", ErrIndeterminate, proof.Type)
	}
}

func (o *Oracle) resolveCustody(ctx context.Context, proof *types.UsernameProof) (common.Address, error) {
	start := time.Now()
	addr, err := o.index.CustodyAddress(ctx, proof.Fid)
	switch {
	case err == nil:
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeResolved, time.Since(start).Seconds())
		return addr, nil
	case errors.Is(err, ErrFidNotRegistered):
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeNotFound, time.Since(start).Seconds())
		return common.Address{}, fmt.Errorf("%w: fid %d has no custody address", ErrNameNotFound, proof.Fid)
	default:
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeIndeterminate, time.Since(start).Seconds())
		return common.Address{}, fmt.Errorf("%w: custody lookup for fid %d: %w", ErrIndeterminate, proof.Fid, err)
	}
}

func (o *Oracle) resolveExternal(ctx context.Context, proof *types.UsernameProof) (common.Address, error) {
	if o.resolver == nil {
		return common.Address{}, fmt.Errorf("%w: no resolver configured for %s", ErrIndeterminate, proof.Type)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, o.cfg.LookupTimeout)
	defer cancel()

	start := time.Now()
	addr, err := o.resolver.Resolve(lookupCtx, proof.Name)
	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeResolved, elapsed)
		return addr, nil
	case errors.Is(err, ErrNameNotFound):
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeNotFound, elapsed)
		return common.Address{}, err
	default:
		o.metrics.RecordOwnershipLookup(proof.Type.String(), metrics.OutcomeIndeterminate, elapsed)
		o.log.Debugw("name lookup indeterminate",
			"name", proof.Name,
			"fid", proof.Fid,
			"error", err,
		)
		return common.Address{}, fmt.Errorf("%w: resolving %q: %w", ErrIndeterminate, proof.Name, err)
	}
}
