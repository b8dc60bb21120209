// Package scheduler runs a cycle function on a fixed interval with an eager
// first run, a skip-if-busy guard and an optional distributed lock.
package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/rangebet/internal/domain"
	"github.com/alanyoungcy/rangebet/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the loop is already started.
var ErrAlreadyRunning = errors.New("scheduler: loop already running")

// CycleFunc is one unit of periodic work.
type CycleFunc func(ctx context.Context) error

// Loop runs a CycleFunc periodically. A tick that arrives while the previous
// cycle is still in flight is skipped, never queued.
type Loop struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
	locker   domain.LockManager
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	running atomic.Bool
	busy    atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Loop.
type Option func(*Loop)

// WithLock makes every cycle hold a distributed lock named after the loop.
func WithLock(locker domain.LockManager, ttl time.Duration) Option {
	return func(l *Loop) {
		l.locker = locker
		l.lockTTL = ttl
	}
}

// WithMetrics records cycle durations and skips.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop.
func New(name string, interval time.Duration, cycle CycleFunc, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		cycle:    cycle,
		lockTTL:  5 * time.Minute,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "scheduler"), slog.String("loop", name))
	return l
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// IsRunning reports whether Start is active.
func (l *Loop) IsRunning() bool { return l.running.Load() }

// Start runs the cycle immediately and then on every tick until ctx is
// cancelled or Stop is called. It waits for an in-flight cycle before
// returning nil.
func (l *Loop) Start(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "loop started", slog.Duration("interval", l.interval))

	var wg sync.WaitGroup
	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.RunOnce(ctx)
		}()
	}

	tick()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			l.logger.Info("loop stopped")
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

// Stop cancels a running loop. It is safe to call at any time.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// RunOnce runs a single cycle unless one is already in flight or another
// process holds the lock. It reports whether the cycle ran.
func (l *Loop) RunOnce(ctx context.Context) (bool, error) {
	if !l.busy.CompareAndSwap(false, true) {
		l.metrics.CycleSkipped(l.name, "busy")
		l.logger.DebugContext(ctx, "cycle skipped, previous still running")
		return false, nil
	}
	defer l.busy.Store(false)

	if l.locker != nil {
		unlock, err := l.locker.Acquire(ctx, l.name, l.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			l.metrics.CycleSkipped(l.name, "locked")
			l.logger.DebugContext(ctx, "cycle skipped, lock held elsewhere")
			return false, nil
		}
		if err != nil {
			l.logger.ErrorContext(ctx, "acquire cycle lock failed", slog.String("error", err.Error()))
			return false, err
		}
		defer unlock()
	}

	start := time.Now()
	err := l.cycle(ctx)
	elapsed := time.Since(start)
	l.metrics.ObserveCycle(l.name, elapsed, err)
	if err != nil {
		l.logger.ErrorContext(ctx, "cycle failed",
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return true, err
	}
	l.logger.DebugContext(ctx, "cycle finished", slog.Duration("elapsed", elapsed))
	return true, nil
}
