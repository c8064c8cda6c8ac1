package checkpointer

import (
	"context"
	"sync"
)

var _ Checkpointer = (*MemoryCheckpointer)(nil)

// MemoryCheckpointer is a thread-safe in-memory Checkpointer.
type MemoryCheckpointer struct {
	mu     sync.RWMutex
	cp     Checkpoint
	exists bool
}

// NewMemoryCheckpointer returns an empty in-memory checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{}
}

func (m *MemoryCheckpointer) Initialize(context.Context) error {
	return nil
}

func (m *MemoryCheckpointer) Write(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = cp
	m.exists = true
	return nil
}

func (m *MemoryCheckpointer) Read(ctx context.Context) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cp, nil
}

// Exists reports whether a checkpoint was ever written.
func (m *MemoryCheckpointer) Exists() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exists
}
