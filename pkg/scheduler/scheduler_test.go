package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEvery_RunsAndCancels(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	called := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, 10*time.Millisecond, func(context.Context) error {
			select {
			case called <- struct{}{}:
			default:
			}
			return nil
		}, log)
	}()

	select {
	case <-called:
		cancel()
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for job run")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for scheduler to exit")
	}
}

func TestEvery_ErrorsAreRetriedNextTick(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()

	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, 5*time.Millisecond, func(context.Context) error {
			if runs.Add(1) >= 3 {
				cancel()
			}
			return errors.New("store unavailable")
		}, log)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for retries")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestEvery_ImmediateCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Every(ctx, time.Second, func(context.Context) error {
		t.Fatalf("job must not run")
		return nil
	}, zaptest.NewLogger(t).Sugar())
	assert.NoError(t, err)
}

func TestEvery_InvalidInterval(t *testing.T) {
	t.Parallel()
	err := Every(t.Context(), 0, func(context.Context) error { return nil }, zaptest.NewLogger(t).Sugar())
	require.ErrorContains(t, err, "invalid interval")
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{spec: "0 */10 * * * *"},
		{spec: "*/5 * * * *"},
		{spec: "@every 30s"},
		{spec: "@hourly"},
		{spec: "not a schedule", wantErr: true},
		{spec: "", wantErr: true},
		{spec: "61 * * * * *", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			t.Parallel()
			err := ValidateSchedule(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCron_RunsJob(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	c := NewCron(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	require.NoError(t, c.Schedule(ctx, "@every 1s", "probe", func(context.Context) error {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-called:
		cancel()
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for cron job")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for cron to stop")
	}
}

func TestCron_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()
	log := zaptest.NewLogger(t).Sugar()
	c := NewCron(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, overlaps, runs atomic.Int32
	release := make(chan struct{})
	require.NoError(t, c.Schedule(ctx, "@every 1s", "slow", func(context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer running.Add(-1)
		runs.Add(1)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// several triggers fire while the first run is blocked
	time.Sleep(2500 * time.Millisecond)
	close(release)
	cancel()
	<-done

	assert.Equal(t, int32(0), overlaps.Load())
	assert.Equal(t, int32(1), runs.Load())
}

func TestCron_InvalidSchedule(t *testing.T) {
	t.Parallel()
	c := NewCron(zaptest.NewLogger(t).Sugar())
	err := c.Schedule(t.Context(), "every day", "bad", func(context.Context) error { return nil })
	require.ErrorContains(t, err, "invalid schedule")
}
