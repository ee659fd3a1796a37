package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/clarion/internal/triage"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   *triage.Run
	err   error
}

func (f *fakeRunner) Trigger(_ context.Context) (*triage.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (f *fakePruner) Prune(_ context.Context, olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, olderThan)
	return f.removed, f.err
}

func (f *fakePruner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func completedRun() *triage.Run {
	return &triage.Run{
		ID:       "01HZX0000000000000000000RUN",
		Status:   triage.StatusCompleted,
		Duration: 0.25,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRun_FiresOnInterval(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: completedRun()}
	s := New(Config{Interval: 10 * time.Millisecond}, runner, nil, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	waitFor(t, func() bool { return runner.count() >= 3 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
}

func TestRun_SkipsWhileRunActive(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: triage.ErrRunActive}
	pruner := &fakePruner{}
	s := New(Config{Interval: 5 * time.Millisecond, Retention: time.Hour}, runner, pruner, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitFor(t, func() bool { return runner.count() >= 2 })
	cancel()

	// A skipped tick must not prune either.
	if got := pruner.count(); got != 0 {
		t.Errorf("pruner called %d times on skipped ticks, want 0", got)
	}
}

func TestRun_PrunesAfterSuccessfulRun(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: completedRun()}
	pruner := &fakePruner{removed: 7}
	s := New(Config{Interval: 5 * time.Millisecond, Retention: 24 * time.Hour}, runner, pruner, log.Nop())

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitFor(t, func() bool { return pruner.count() >= 1 })
	cancel()

	pruner.mu.Lock()
	cutoff := pruner.cutoffs[0]
	pruner.mu.Unlock()

	want := fixed.Add(-24 * time.Hour)
	if !cutoff.Equal(want) {
		t.Errorf("prune cutoff = %v, want %v", cutoff, want)
	}
}

func TestRun_NoPruningWithoutRetention(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{run: completedRun()}
	pruner := &fakePruner{}
	s := New(Config{Interval: 5 * time.Millisecond}, runner, pruner, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitFor(t, func() bool { return runner.count() >= 2 })
	cancel()

	if got := pruner.count(); got != 0 {
		t.Errorf("pruner called %d times with zero retention, want 0", got)
	}
}

func TestRun_ContinuesAfterRunError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("fetch blew up")}
	s := New(Config{Interval: 5 * time.Millisecond}, runner, nil, log.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	waitFor(t, func() bool { return runner.count() >= 3 })
	cancel()
}
