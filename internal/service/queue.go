package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
)

// Job event actions.
const (
	EventReady    = "ready"
	EventFailed   = "failed"
	EventRequeued = "requeued"
)

// QueueService is the claim, report and reclaim side of the job store.
type QueueService struct {
	queue     JobQueue
	publisher Publisher
	config    config.SchedulingConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueueService builds a QueueService. publisher may be nil.
func NewQueueService(queue JobQueue, publisher Publisher, logger *slog.Logger, cfg config.SchedulingConfig) *QueueService {
	return &QueueService{
		queue:     queue,
		publisher: publisher,
		config:    cfg,
		logger:    logger.With("component", "queue"),
		now:       time.Now,
	}
}

// ClaimNext leases the highest-priority eligible job, or returns nil when
// there is none.
func (s *QueueService) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	job, err := s.queue.ClaimNext(ctx, workerID, s.now().UTC(), s.config.LeaseDuration, s.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if job != nil {
		s.logClaim(job, workerID)
	}
	return job, nil
}

// ClaimByID leases one specific job if it is eligible right now. It returns
// nil when the job exists but cannot be claimed, and domain.ErrJobNotFound
// when there is no such job.
func (s *QueueService) ClaimByID(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	now := s.now().UTC()
	job, err := s.queue.ClaimByID(ctx, jobID, workerID, now, s.config.LeaseDuration, s.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if job != nil {
		s.logClaim(job, workerID)
		return job, nil
	}

	existing, err := s.queue.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if existing.Claimable(now, s.config.MaxAttempts) {
		s.logger.Debug("job held by a concurrent claim", "job_id", jobID, "worker_id", workerID)
	} else {
		s.logger.Debug("job not eligible", "job_id", jobID, "status", existing.Status, "attempt", existing.AttemptCount)
	}
	return nil, nil
}

func (s *QueueService) logClaim(job *domain.Job, workerID string) {
	s.logger.Info("job claimed",
		"job_id", job.ID,
		"worker_id", workerID,
		"attempt", job.AttemptCount,
		"priority", job.Priority,
		"lease_until", job.LeaseUntil,
	)
}

// Complete reports success for a held lease. domain.ErrLeaseLost means the
// job was cancelled, reclaimed or re-queued meanwhile and the result must be
// discarded.
func (s *QueueService) Complete(ctx context.Context, lease domain.Lease, result domain.Result) (*domain.Job, error) {
	job, err := s.queue.Complete(ctx, lease, result, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			s.logger.Warn("completion rejected, lease lost", "job_id", lease.JobID, "worker_id", lease.WorkerID, "attempt", lease.Attempt)
		}
		return nil, fmt.Errorf("complete job: %w", err)
	}

	s.logger.Info("job ready", "job_id", job.ID, "attempt", job.AttemptCount, "audio_path", result.AudioPath)
	s.publish(ctx, job, EventReady)
	return job, nil
}

// Fail reports a failed attempt for a held lease.
func (s *QueueService) Fail(ctx context.Context, lease domain.Lease, failure domain.Failure) (*domain.Job, error) {
	job, err := s.queue.Fail(ctx, lease, failure, s.config.MaxAttempts, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrLeaseLost) {
			s.logger.Warn("failure report rejected, lease lost", "job_id", lease.JobID, "worker_id", lease.WorkerID, "attempt", lease.Attempt)
		}
		return nil, fmt.Errorf("fail job: %w", err)
	}

	terminal := job.IsTerminal(s.config.MaxAttempts)
	s.logger.Warn("job attempt failed",
		"job_id", job.ID,
		"attempt", job.AttemptCount,
		"error_code", failure.Code,
		"terminal", terminal,
	)
	if terminal {
		s.publish(ctx, job, EventFailed)
	}
	return job, nil
}

// Reclaim releases expired leases. It is safe to run from several places at
// once; each expired job is handled by exactly one sweep.
func (s *QueueService) Reclaim(ctx context.Context) (*domain.ReclaimStats, error) {
	start := time.Now()

	stats, err := s.queue.ReclaimExpired(ctx, s.now().UTC(), s.config.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired leases: %w", err)
	}
	stats.Duration = time.Since(start)

	for i := range stats.Released {
		job := &stats.Released[i]
		if job.Status == domain.JobStatusQueued {
			s.publish(ctx, job, EventRequeued)
		} else {
			s.publish(ctx, job, EventFailed)
		}
	}

	if stats.Total() > 0 {
		s.logger.Info("expired leases reclaimed",
			"requeued", len(stats.Requeued),
			"failed", len(stats.Failed),
			"duration", stats.Duration,
		)
	} else {
		s.logger.Debug("no expired leases")
	}
	return stats, nil
}

// Run satisfies scheduler.Runner.
func (s *QueueService) Run(ctx context.Context) error {
	_, err := s.Reclaim(ctx)
	return err
}

func (s *QueueService) publish(ctx context.Context, job *domain.Job, action string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJobEvent(ctx, job, action); err != nil {
		s.logger.Error("failed to publish job event", "job_id", job.ID, "action", action, "error", err)
	}
}
