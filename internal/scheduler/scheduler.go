// Package scheduler periodically re-fetches the calendar so that cached
// requests rarely pay for an upstream round trip.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "caldavics/internal/log"
)

// Refresher rewrites the cache from upstream.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler runs a Refresher on a cron schedule. Overlapping runs are
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	timeout time.Duration
}

// New parses spec (standard 5-field cron, or descriptors like "@every 30m")
// and registers r. timeout bounds each run; zero means no bound.
func New(spec string, r Refresher, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		return nil, errors.New("scheduler: empty schedule")
	}
	if r == nil {
		return nil, errors.New("scheduler: refresher is nil")
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { run(r, timeout) }); err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec, timeout: timeout}, nil
}

func run(r Refresher, timeout time.Duration) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := time.Now()
	if err := r.Refresh(ctx); err != nil {
		appLog.Error("scheduled calendar refresh failed", err)
		return
	}
	appLog.Info("scheduled calendar refresh done", "duration", time.Since(started))
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("calendar refresh scheduled", "spec", s.spec, "next", s.Next())
}

// Stop halts the schedule and waits for a running refresh to finish or for
// ctx to end, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next reports the next scheduled run, or the zero time if none is known.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// cronLogger routes cron's own messages through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
