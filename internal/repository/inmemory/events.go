package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/ava-labs/libevm/common"

	"github.com/miles-six/hub-monorepo/pkg/oracle"
	"github.com/miles-six/hub-monorepo/pkg/types"
)

var _ oracle.EventIndex = (*EventIndex)(nil)

// EventIndex is a thread-safe in-memory on-chain event index.
type EventIndex struct {
	mu     sync.Mutex
	events map[types.Fid][]types.OnChainEvent
	errs   map[types.Fid]error
}

// NewEventIndex creates an empty index.
func NewEventIndex() *EventIndex {
	return &EventIndex{
		events: make(map[types.Fid][]types.OnChainEvent),
		errs:   make(map[types.Fid]error),
	}
}

// Add appends events to the index.
func (x *EventIndex) Add(events ...types.OnChainEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, e := range events {
		x.events[e.Fid] = append(x.events[e.Fid], e)
		types.SortEvents(x.events[e.Fid])
	}
}

// Fail makes every per-fid read for fid return err. A nil err clears it.
func (x *EventIndex) Fail(fid types.Fid, err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err == nil {
		delete(x.errs, fid)
		return
	}
	x.errs[fid] = err
}

func (x *EventIndex) SignerEvents(_ context.Context, fid types.Fid) ([]types.OnChainEvent, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.errs[fid]; err != nil {
		return nil, err
	}
	var out []types.OnChainEvent
	for _, e := range x.events[fid] {
		if e.Type == types.OnChainEventTypeSigner {
			out = append(out, e)
		}
	}
	return out, nil
}

// CustodyAddress returns the recipient of the latest register or transfer event.
func (x *EventIndex) CustodyAddress(_ context.Context, fid types.Fid) (common.Address, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.errs[fid]; err != nil {
		return common.Address{}, err
	}
	var (
		custody common.Address
		found   bool
	)
	for _, e := range x.events[fid] {
		if e.Type != types.OnChainEventTypeIDRegister || e.IDRegisterBody == nil {
			continue
		}
		switch e.IDRegisterBody.EventType {
		case types.IDRegisterEventTypeRegister, types.IDRegisterEventTypeTransfer:
			custody = e.IDRegisterBody.To
			found = true
		}
	}
	if !found {
		return common.Address{}, oracle.ErrFidNotRegistered
	}
	return custody, nil
}

func (x *EventIndex) LastChangeTimestamp(_ context.Context, fid types.Fid) (uint64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.errs[fid]; err != nil {
		return 0, err
	}
	var last uint64
	for _, e := range x.events[fid] {
		if e.Type == types.OnChainEventTypeSigner || e.Type == types.OnChainEventTypeIDRegister {
			last = max(last, e.BlockTimestamp)
		}
	}
	return last, nil
}

func (x *EventIndex) Fids(_ context.Context, from types.Fid, limit int) ([]types.Fid, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var out []types.Fid
	for fid := range x.events {
		if fid >= from {
			out = append(out, fid)
		}
	}
	slices.Sort(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (x *EventIndex) MaxFid(_ context.Context) (types.Fid, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var hi types.Fid
	for fid := range x.events {
		hi = max(hi, fid)
	}
	return hi, nil
}
