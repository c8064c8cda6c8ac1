package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one run of periodic work.
type Job func(ctx context.Context) error

// Every runs job every interval until ctx is cancelled. A failed run is logged
// and retried on the next tick.
func Every(ctx context.Context, interval time.Duration, job Job, log *zap.SugaredLogger) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s: must be greater than 0", interval)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("scheduled run failed", "error", err)
			}
		}
	}
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec is a valid cron expression. Six-field
// expressions start with seconds.
func ValidateSchedule(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Cron runs jobs on cron schedules. A trigger firing while the previous run of
// the same job is still in flight is dropped.
type Cron struct {
	cron *cron.Cron
	log  *zap.SugaredLogger
}

// NewCron creates a Cron logging through log.
func NewCron(log *zap.SugaredLogger) *Cron {
	logger := cron.PrintfLogger(zap.NewStdLog(log.Desugar()))
	return &Cron{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		log: log,
	}
}

// Schedule registers job under name. Runs receive ctx.
func (c *Cron) Schedule(ctx context.Context, spec, name string, job Job) error {
	if err := ValidateSchedule(spec); err != nil {
		return err
	}
	_, err := c.cron.AddFunc(spec, func() {
		start := time.Now()
		if err := job(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				c.log.Errorw("scheduled job failed", "job", name, "error", err)
			}
			return
		}
		c.log.Debugw("scheduled job finished", "job", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	c.log.Infow("job scheduled", "job", name, "schedule", spec)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to return.
func (c *Cron) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	<-c.cron.Stop().Done()
	return nil
}
