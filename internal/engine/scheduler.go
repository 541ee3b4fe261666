package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/route-watch/internal/logging"
	"github.com/example/route-watch/internal/observability"
)

type Cycler interface {
	RunCycle(ctx context.Context) (CycleReport, error)
}

// Scheduler fires a cycle immediately and then on every tick of a fixed
// interval. At most one cycle runs at a time; a tick that finds one still
// running is dropped.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	log      logging.Logger

	running sync.Mutex
	wg      sync.WaitGroup
	skipped atomic.Int64
}

func NewScheduler(c Cycler, interval time.Duration, log logging.Logger) *Scheduler {
	return &Scheduler{cycler: c, interval: interval, log: log.With(map[string]interface{}{"component": "scheduler"})}
}

// Run blocks until ctx is cancelled and any in-flight cycle has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", map[string]interface{}{"interval": s.interval.String()})
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping, waiting for running cycle", nil)
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.skipped.Add(1)
		observability.CyclesSkipped.Inc()
		s.log.Warn("previous cycle still running, skipping tick", nil)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Unlock()
		defer func() {
			if r := recover(); r != nil {
				observability.CyclesTotal.WithLabelValues("panic").Inc()
				s.log.Error("cycle panicked", map[string]interface{}{"panic": fmt.Sprint(r)})
			}
		}()
		_, _ = s.cycler.RunCycle(ctx)
	}()
}
