package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/crowdpulse/internal/adapter/metrics"
	"github.com/pscheid92/crowdpulse/internal/platform/correlation"
)

// SweepTask is periodic, time-driven work. Sweep receives the tick time and
// returns how many entities it changed.
type SweepTask struct {
	Name     string
	Interval time.Duration
	Sweep    func(now time.Time) int
}

// Sweeper drives state transitions that no request triggers: emotion decay,
// pool expiry and proposal deadlines. Each task runs on its own ticker so a
// slow lifecycle pass never delays decay.
type Sweeper struct {
	clock    clockwork.Clock
	metrics  *metrics.SweepMetrics
	tasks    []SweepTask
	lastTick []atomic.Int64
}

// minStaleAfter is the floor of Check's staleness bound.
const minStaleAfter = 5 * time.Second

func NewSweeper(clock clockwork.Clock, sweepMetrics *metrics.SweepMetrics, tasks ...SweepTask) *Sweeper {
	s := &Sweeper{clock: clock, metrics: sweepMetrics, tasks: tasks, lastTick: make([]atomic.Int64, len(tasks))}
	now := clock.Now().UnixNano()
	for i := range s.lastTick {
		s.lastTick[i].Store(now)
	}
	return s
}

// Check fails when a task has not completed a pass for three of its intervals.
func (s *Sweeper) Check(context.Context) error {
	now := s.clock.Now()
	for i, task := range s.tasks {
		staleAfter := max(3*task.Interval, minStaleAfter)
		if age := now.Sub(time.Unix(0, s.lastTick[i].Load())); age > staleAfter {
			return fmt.Errorf("sweep %q has not completed for %s", task.Name, age.Round(time.Millisecond))
		}
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range s.tasks {
		wg.Go(func() { s.loop(ctx, i) })
	}
	wg.Wait()
}

func (s *Sweeper) loop(ctx context.Context, i int) {
	task := s.tasks[i]
	ticker := s.clock.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.tick(ctx, task)
			s.lastTick[i].Store(s.clock.Now().UnixNano())
		}
	}
}

func (s *Sweeper) tick(ctx context.Context, task SweepTask) {
	tickCtx := correlation.WithID(ctx, correlation.NewID())
	now := s.clock.Now()

	changed := task.Sweep(now)

	elapsed := s.clock.Since(now)
	if s.metrics != nil {
		s.metrics.Duration.WithLabelValues(task.Name).Observe(elapsed.Seconds())
	}
	if elapsed > task.Interval {
		if s.metrics != nil {
			s.metrics.Slow.WithLabelValues(task.Name).Inc()
		}
		slog.WarnContext(tickCtx, "Sweep overran its interval", "sweep", task.Name, "elapsed", elapsed, "interval", task.Interval)
	}
	if changed > 0 {
		slog.DebugContext(tickCtx, "Sweep changed state", "sweep", task.Name, "changed", changed)
	}
}
