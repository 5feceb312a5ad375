package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Runner is one unit of periodic work.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type Scheduler struct {
	name     string
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// New returns a scheduler that runs runner immediately and then every
// interval, bounding each run by timeout.
func New(name string, runner Runner, interval, timeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("loop", name),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.runner.Run(runCtx); err != nil && ctx.Err() == nil {
		s.logger.Error("run failed", "error", err)
	}
}
