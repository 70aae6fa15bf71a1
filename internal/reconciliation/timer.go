package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the background sweep runs.
const DefaultInterval = 5 * time.Minute

// Timer drives the reconciliation sweep on a fixed interval until stopped.
type Timer struct {
	runner   *Runner
	logger   *slog.Logger
	interval time.Duration
	stop     chan struct{}
	active   atomic.Bool
}

// NewTimer builds a timer around runner. interval <= 0 uses DefaultInterval.
func NewTimer(runner *Runner, logger *slog.Logger, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{
		runner:   runner,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the loop is currently active.
func (t *Timer) Running() bool {
	return t.active.Load()
}

// Start runs the sweep loop until ctx is done or Stop is called. Run it in
// its own goroutine; the first sweep happens one interval after start.
func (t *Timer) Start(ctx context.Context) {
	t.active.Store(true)
	defer t.active.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// Stop ends the loop. Non-blocking if the loop already exited.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

// sweep runs one pass, containing panics so a bad check cannot kill the loop.
func (t *Timer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic during reconciliation sweep", "panic", fmt.Sprint(r))
		}
	}()

	if _, err := t.runner.RunAll(ctx); err != nil {
		t.logger.Warn("reconciliation sweep failed", "error", err)
	}
}
