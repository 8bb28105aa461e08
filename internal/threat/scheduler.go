package threat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"threatmap/internal/metrics"
)

// DefaultRefreshInterval is the fixed refresh cadence of the threat map.
const DefaultRefreshInterval = 5 * time.Minute

// ErrSchedulerRunning is returned by Start when the scheduler is already
// running.
var ErrSchedulerRunning = errors.New("scheduler already running")

// SchedulerStats counts what the scheduler has done since creation.
type SchedulerStats struct {
	Cycles    uint64
	Published uint64
	Skipped   uint64
	Discarded uint64
}

// Scheduler refreshes a Pipeline on a fixed interval. At most one cycle is
// in flight at any time; ticks that fire while a cycle runs are skipped.
// A cycle that completes after Stop is discarded instead of published.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
	logger   *slog.Logger

	inFlight atomic.Bool

	mu         sync.Mutex
	generation uint64
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	cycleCtx   context.Context

	// pendingStart is the generation whose immediate cycle was blocked by a
	// cycle left over from before a restart.
	pendingStart uint64

	cycles    atomic.Uint64
	published atomic.Uint64
	skipped   atomic.Uint64
	discarded atomic.Uint64
}

// NewScheduler creates a scheduler. A non-positive interval selects
// DefaultRefreshInterval. Pass nil for logger to disable logging.
func NewScheduler(p *Pipeline, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{pipeline: p, interval: interval, logger: logger}
}

// Interval returns the refresh interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Start runs a cycle immediately and then one per interval until Stop is
// called or ctx is cancelled. Cycles run under ctx, so cancelling ctx also
// aborts in-flight network calls; Stop does not. Neither lets a late cycle
// publish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.generation++
	s.running = true
	s.cancel = cancel
	s.cycleCtx = ctx
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.generation, s.done)
	s.logger.Info("refresh scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels the timer and waits for the loop to exit. A cycle still in
// flight is allowed to finish but its snapshot is not published.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.generation++
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("refresh scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// InFlight reports whether a cycle is currently running.
func (s *Scheduler) InFlight() bool { return s.inFlight.Load() }

// TriggerNow starts an out-of-band cycle. It returns false if the scheduler
// is stopped or a cycle is already in flight.
func (s *Scheduler) TriggerNow() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	gen, ctx := s.generation, s.cycleCtx
	s.mu.Unlock()
	return s.tick(ctx, gen)
}

// Stats returns a copy of the scheduler counters.
func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Cycles:    s.cycles.Load(),
		Published: s.published.Load(),
		Skipped:   s.skipped.Load(),
		Discarded: s.discarded.Load(),
	}
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	s.startCycle(gen)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(s.cycleContext(), gen)
		}
	}
}

func (s *Scheduler) cycleContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleCtx
}

// startCycle runs the immediate cycle of generation gen. If a cycle from a
// previous generation still holds the slot, that cycle starts this one when
// it finishes.
func (s *Scheduler) startCycle(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || !s.running {
		return
	}
	if s.inFlight.CompareAndSwap(false, true) {
		go s.runCycle(s.cycleCtx, gen)
		return
	}
	s.pendingStart = gen
	s.skipped.Add(1)
	metrics.SkippedTicks.Inc()
	s.logger.Debug("initial refresh deferred until previous cycle ends")
}

// tick starts a cycle unless one is in flight.
func (s *Scheduler) tick(ctx context.Context, gen uint64) bool {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		metrics.SkippedTicks.Inc()
		s.logger.Debug("refresh skipped, previous cycle still running")
		return false
	}
	go s.runCycle(ctx, gen)
	return true
}

func (s *Scheduler) runCycle(ctx context.Context, gen uint64) {
	snap := s.pipeline.Acquire(ctx)
	s.cycles.Add(1)

	// Publishing under mu orders it against Stop: once Stop has bumped the
	// generation no older cycle can publish. A cancelled parent context is
	// a teardown too. inFlight is released under mu so startCycle cannot
	// miss the release.
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.generation != gen || ctx.Err() != nil {
		s.discarded.Add(1)
		metrics.DiscardedCycles.Inc()
		s.logger.Info("discarding cycle completed after stop",
			"cycle", snap.CycleID(), "origin", snap.Origin())
		if s.running && s.pendingStart == s.generation {
			// Hand the slot straight to the restarted scheduler.
			s.pendingStart = 0
			go s.runCycle(s.cycleCtx, s.generation)
			return
		}
		s.inFlight.Store(false)
		return
	}
	s.pipeline.Publish(snap)
	s.published.Add(1)
	if s.pendingStart == gen {
		s.pendingStart = 0
	}
	s.inFlight.Store(false)
}
