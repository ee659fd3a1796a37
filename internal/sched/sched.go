// Package sched drives periodic triage runs. It owns the interval
// ticker and fingerprint retention pruning; run exclusion itself lives
// in the triage service, the scheduler only skips ticks that collide
// with an active run.
package sched

import (
	"context"
	"errors"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/clarion/internal/triage"
)

// Runner triggers one full triage run.
type Runner interface {
	Trigger(ctx context.Context) (*triage.Run, error)
}

// Pruner removes fingerprints first seen before the cutoff.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// Config controls the tick interval and fingerprint retention.
type Config struct {
	// Interval between runs. Must be > 0; a zero interval means the
	// scheduler is disabled and main never constructs one.
	Interval time.Duration

	// Retention is how long delivered fingerprints are kept.
	// Zero disables pruning.
	Retention time.Duration
}

// Scheduler fires triage runs on a fixed interval until its context
// is cancelled.
type Scheduler struct {
	cfg    Config
	runner Runner
	pruner Pruner
	logger log.Logger

	now func() time.Time
}

// New returns a scheduler. pruner may be nil when retention is disabled.
func New(cfg Config, runner Runner, pruner Pruner, logger log.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runner: runner,
		pruner: pruner,
		logger: logger,
		now:    time.Now,
	}
}

// Run blocks, firing a triage run every interval, and returns once ctx
// is cancelled. A tick that lands while the previous run is still in
// flight is skipped, not queued.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started",
		"interval", s.cfg.Interval.String(),
		"retention", s.cfg.Retention.String(),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	run, err := s.runner.Trigger(ctx)
	switch {
	case errors.Is(err, triage.ErrRunActive):
		s.logger.Warn(ctx, "previous run still active, skipping tick")
		return
	case err != nil:
		s.logger.Error(ctx, err, "scheduled run failed")
		return
	}

	s.logger.Info(ctx, "scheduled run finished",
		"run_id", run.ID,
		"status", string(run.Status),
		"duration_seconds", run.Duration,
	)

	s.prune(ctx)
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.pruner == nil || s.cfg.Retention <= 0 {
		return
	}

	cutoff := s.now().Add(-s.cfg.Retention)
	removed, err := s.pruner.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error(ctx, err, "fingerprint prune failed", "cutoff", cutoff)
		return
	}
	if removed > 0 {
		s.logger.Info(ctx, "fingerprints pruned", "removed", removed, "cutoff", cutoff)
	}
}
