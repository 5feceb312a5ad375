package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/scheduler"
)

// WorkerService claims jobs, gathers their content and hands them to the
// generator, then reports the outcome under the claimed lease.
type WorkerService struct {
	queue     *QueueService
	content   ContentStore
	generator Generator
	config    config.WorkerConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewWorkerService(
	queue *QueueService,
	content ContentStore,
	generator Generator,
	logger *slog.Logger,
	cfg config.WorkerConfig,
) *WorkerService {
	return &WorkerService{
		queue:     queue,
		content:   content,
		generator: generator,
		config:    cfg,
		logger:    logger.With("component", "worker"),
		now:       time.Now,
	}
}

// NewWorkerID returns a fresh worker identity.
func (s *WorkerService) NewWorkerID() string {
	return fmt.Sprintf("%s-%s", s.config.IDPrefix, uuid.NewString()[:8])
}

// reportTimeout bounds an outcome report once it is detached from the run.
const reportTimeout = 30 * time.Second

func (s *WorkerService) jobsPerRun() int {
	if s.config.MaxJobsPerRun <= 0 {
		return 1
	}
	return s.config.MaxJobsPerRun
}

// RunTimeout is the budget for one RunOnce call: a full generation for every
// job it may claim, plus a minute of slack.
func (s *WorkerService) RunTimeout() time.Duration {
	return time.Duration(s.jobsPerRun())*s.config.GenerationTimeout + time.Minute
}

// RunOnce processes up to MaxJobsPerRun jobs and returns when the queue has
// nothing eligible. It stops claiming once ctx has less than a generation
// timeout left.
func (s *WorkerService) RunOnce(ctx context.Context, workerID string) (*domain.RunStats, error) {
	stats := &domain.RunStats{}
	limit := s.jobsPerRun()

	for stats.Claimed < limit {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < s.config.GenerationTimeout {
			s.logger.Debug("run budget spent, leaving remaining jobs", "worker_id", workerID, "claimed", stats.Claimed)
			break
		}

		job, err := s.queue.ClaimNext(ctx, workerID)
		if err != nil {
			return stats, err
		}
		if job == nil {
			break
		}
		stats.Claimed++

		switch err := s.process(ctx, job); {
		case err == nil:
			stats.Completed++
		case errors.Is(err, domain.ErrLeaseLost):
			stats.Discarded++
		case errors.Is(err, errAttemptFailed):
			stats.Failed++
		default:
			return stats, err
		}
	}

	if stats.Claimed > 0 {
		s.logger.Info("worker pass finished",
			"worker_id", workerID,
			"claimed", stats.Claimed,
			"completed", stats.Completed,
			"failed", stats.Failed,
			"discarded", stats.Discarded,
		)
	}
	return stats, nil
}

// Drain repeats RunOnce until a pass comes back short of MaxJobsPerRun,
// meaning nothing eligible was left.
func (s *WorkerService) Drain(ctx context.Context, workerID string) (*domain.RunStats, error) {
	total := &domain.RunStats{}
	for {
		passCtx, cancel := context.WithTimeout(ctx, s.RunTimeout())
		stats, err := s.RunOnce(passCtx, workerID)
		cancel()

		total.Claimed += stats.Claimed
		total.Completed += stats.Completed
		total.Failed += stats.Failed
		total.Discarded += stats.Discarded
		if err != nil {
			return total, err
		}
		if stats.Claimed < s.jobsPerRun() {
			return total, nil
		}
	}
}

var errAttemptFailed = errors.New("attempt failed")

func (s *WorkerService) process(ctx context.Context, job *domain.Job) error {
	lease := job.Lease()
	logger := s.logger.With("job_id", job.ID, "worker_id", lease.WorkerID, "attempt", lease.Attempt)

	content, err := s.content.Fresh(ctx, job.Preferences.ContentTypes(), s.now().UTC())
	if err != nil {
		logger.Warn("content cache unavailable, generating without content", "error", err)
		content = domain.FreshContent{}
	}
	for _, t := range job.Preferences.ContentTypes() {
		if _, ok := content[t]; !ok {
			logger.Warn("no fresh content", "content_type", t)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.config.GenerationTimeout)
	defer cancel()

	result, genErr := s.generator.Generate(genCtx, domain.GenerationRequest{
		JobID:       job.ID,
		UserID:      job.UserID,
		LocalDate:   job.LocalDate,
		Timezone:    job.Timezone,
		ScheduledAt: job.ScheduledAt,
		Attempt:     job.AttemptCount,
		Welcome:     job.IsWelcome,
		Preferences: job.Preferences,
		Content:     content,
	})

	// The claim is already spent; the report has to land even when the run
	// is being shut down or its budget ran out.
	reportCtx, cancelReport := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancelReport()

	if genErr != nil {
		failure := classifyFailure(genErr)
		logger.Warn("generation failed", "error_code", failure.Code, "error", genErr)
		if _, err := s.queue.Fail(reportCtx, lease, failure); err != nil {
			return err
		}
		return errAttemptFailed
	}

	if _, err := s.queue.Complete(reportCtx, lease, *result); err != nil {
		return err
	}
	return nil
}

func classifyFailure(err error) domain.Failure {
	var genErr *domain.GenerationError
	switch {
	case errors.As(err, &genErr):
		return domain.Failure{Code: genErr.Code, Message: genErr.Message}
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Failure{Code: CodeGenerationTimeout, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return domain.Failure{Code: CodeWorkerStopped, Message: err.Error()}
	default:
		return domain.Failure{Code: CodeGenerationFailed, Message: err.Error()}
	}
}

// Run starts Concurrency claim loops, each with its own worker id, and
// blocks until ctx is cancelled.
func (s *WorkerService) Run(ctx context.Context) error {
	concurrency := s.config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := s.NewWorkerID()
		loop := scheduler.New(
			"worker",
			scheduler.RunnerFunc(func(ctx context.Context) error {
				_, err := s.RunOnce(ctx, workerID)
				return err
			}),
			s.config.Interval,
			s.RunTimeout(),
			s.logger.With("worker_id", workerID),
		)
		g.Go(func() error {
			return loop.Start(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
