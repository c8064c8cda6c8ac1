package checkpointer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCheckpointer struct {
	mock.Mock
}

func (m *mockCheckpointer) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockCheckpointer) Write(ctx context.Context, cp Checkpoint) error {
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func (m *mockCheckpointer) Read(ctx context.Context) (Checkpoint, error) {
	args := m.Called(ctx)
	return args.Get(0).(Checkpoint), args.Error(1)
}

func TestWriteWithRetry_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()
	c := &mockCheckpointer{}
	cp := Checkpoint{LastFid: 0, LastRunTimestamp: 1000}
	c.On("Write", mock.Anything, cp).Return(nil).Once()

	err := WriteWithRetry(t.Context(), c, cp, DefaultConfig())
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestWriteWithRetry_RecoversAfterFailure(t *testing.T) {
	t.Parallel()
	c := &mockCheckpointer{}
	cp := Checkpoint{LastFid: 42}
	c.On("Write", mock.Anything, cp).Return(errors.New("transient")).Once()
	c.On("Write", mock.Anything, cp).Return(nil).Once()

	cfg := Config{WriteTimeout: time.Second, MaxRetries: 3, RetryBackoff: time.Millisecond}
	err := WriteWithRetry(t.Context(), c, cp, cfg)
	require.NoError(t, err)
	c.AssertExpectations(t)
}

func TestWriteWithRetry_ErrorPropagates(t *testing.T) {
	t.Parallel()
	c := &mockCheckpointer{}
	writeErr := errors.New("write failed")
	cp := Checkpoint{LastFid: 7}
	c.On("Write", mock.Anything, cp).Return(writeErr).Times(4) // initial try + 3 retries

	cfg := Config{WriteTimeout: time.Second, MaxRetries: 3, RetryBackoff: time.Millisecond}
	err := WriteWithRetry(t.Context(), c, cp, cfg)
	require.ErrorIs(t, err, writeErr)
	require.ErrorIs(t, err, ErrCheckpointPersist)
	c.AssertExpectations(t)
}

func TestWriteWithRetry_CancelledContext(t *testing.T) {
	t.Parallel()
	c := &mockCheckpointer{}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := WriteWithRetry(ctx, c, Checkpoint{}, DefaultConfig())
	require.ErrorIs(t, err, ErrCheckpointPersist)
	require.ErrorIs(t, err, context.Canceled)
	c.AssertNotCalled(t, "Write", mock.Anything, mock.Anything)
}

func TestMemoryCheckpointer_ReadAbsentReturnsZero(t *testing.T) {
	t.Parallel()
	m := NewMemoryCheckpointer()
	cp, err := m.Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cp)
	assert.False(t, m.Exists())
}

func TestMemoryCheckpointer_WriteThenRead(t *testing.T) {
	t.Parallel()
	m := NewMemoryCheckpointer()
	want := Checkpoint{LastFid: 10, LastRunTimestamp: 99, SweepStartTimestamp: 50}
	require.NoError(t, m.Write(t.Context(), want))
	got, err := m.Read(t.Context())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, m.Exists())
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 1*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 300*time.Millisecond, cfg.RetryBackoff)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "zero write timeout", cfg: Config{WriteTimeout: 0}},
		{name: "negative retries", cfg: Config{WriteTimeout: time.Second, MaxRetries: -1}},
		{name: "negative backoff", cfg: Config{WriteTimeout: time.Second, RetryBackoff: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.cfg.Validate())
		})
	}
}
