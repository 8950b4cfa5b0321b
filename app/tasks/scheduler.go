package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CycleRunner executes one polling cycle.
type CycleRunner interface {
	Run(ctx context.Context) error
}

// Status is a snapshot of the loop for the status API.
type Status struct {
	CyclesRun    int64
	LastRunAt    *time.Time
	LastDuration time.Duration
	LastError    string
}

// Scheduler runs cycles sequentially on a fixed interval: once immediately
// at start, then on every tick. A new cycle never starts while the previous
// one is running, and a failed cycle is logged and the loop proceeds to the
// next tick.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.RWMutex
	status Status
}

func NewScheduler(runner CycleRunner, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:   runner,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runCycle()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.runCycle()
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish its
// current item.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runCycle() {
	start := time.Now()
	slog.Info("Cycle started")

	err := s.runner.Run(s.ctx)
	duration := time.Since(start)

	switch {
	case err == nil:
		slog.Info("Cycle completed", "duration", duration.String())
	case errors.Is(err, context.Canceled):
		slog.Info("Cycle interrupted by shutdown", "duration", duration.String())
	default:
		slog.Error("Cycle failed", "duration", duration.String(), "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.CyclesRun++
	s.status.LastRunAt = &start
	s.status.LastDuration = duration
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
}

func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
