package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/priority"
)

// IntakeRequest creates or updates the briefing for one user and local date.
type IntakeRequest struct {
	UserID             string           `json:"user_id" validate:"required,max=128,userid"`
	LocalDate          string           `json:"local_date" validate:"required,datetime=2006-01-02"`
	ScheduledAt        time.Time        `json:"scheduled_at" validate:"required"`
	Timezone           string           `json:"timezone" validate:"omitempty,timezone"`
	Preferences        PreferencesInput `json:"preferences"`
	ForceUpdate        bool             `json:"force_update"`
	Welcome            bool             `json:"welcome"`
	ProcessImmediately bool             `json:"process_immediately"`
}

type IntakeResult struct {
	RequestID        string
	JobID            string
	Status           domain.JobStatus
	Outcome          domain.IntakeOutcome
	EstimatedReadyAt time.Time
}

type CancelOutcome string

const (
	CancelDone     CancelOutcome = "cancelled"
	CancelNotFound CancelOutcome = "not_found"
	CancelExempt   CancelOutcome = "exempt"
	CancelFinished CancelOutcome = "finished"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type IntakeService struct {
	jobs      JobStore
	txManager TransactionManager
	intakeLog IntakeLog
	limiter   RateLimiter
	policy    priority.Policy
	config    config.SchedulingConfig
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewIntakeService wires the intake path. limiter may be nil.
func NewIntakeService(
	jobs JobStore,
	txManager TransactionManager,
	intakeLog IntakeLog,
	limiter RateLimiter,
	logger *slog.Logger,
	cfg config.SchedulingConfig,
) *IntakeService {
	return &IntakeService{
		jobs:      jobs,
		txManager: txManager,
		intakeLog: intakeLog,
		limiter:   limiter,
		policy:    policyFor(cfg),
		config:    cfg,
		validate:  newValidator(),
		logger:    logger.With("component", "intake"),
		now:       time.Now,
	}
}

// policyFor overlays the configured windows on the default policy.
func policyFor(cfg config.SchedulingConfig) priority.Policy {
	p := priority.DefaultPolicy()
	if cfg.UrgentWindow > 0 {
		p.UrgentWindow = cfg.UrgentWindow
	}
	if cfg.NormalWindow > 0 {
		p.NormalWindow = cfg.NormalWindow
	}
	if cfg.LeadTime > 0 {
		p.LeadTime = cfg.LeadTime
	}
	return p
}

// Submit creates the job for (user, local date) or applies the request to the
// existing one. Processing and ready jobs never move backwards unless
// ForceUpdate is set.
func (s *IntakeService) Submit(ctx context.Context, req IntakeRequest) (*IntakeResult, error) {
	entry := &domain.IntakeLogEntry{
		RequestID:   uuid.NewString(),
		UserID:      req.UserID,
		LocalDate:   req.LocalDate,
		ForceUpdate: req.ForceUpdate,
		Welcome:     req.Welcome,
	}
	defer s.record(ctx, entry)

	if err := s.validateRequest(req); err != nil {
		entry.Outcome = domain.IntakeRejected
		entry.ErrorCode = strPtr(CodeValidationFailed)
		return nil, err
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "intake:"+req.UserID)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request", "user_id", req.UserID, "error", err)
		} else if !allowed {
			entry.Outcome = domain.IntakeRateLimited
			entry.ErrorCode = strPtr(CodeRateLimited)
			return nil, ErrRateLimited
		}
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	now := s.now().UTC()
	var job *domain.Job
	var outcome domain.IntakeOutcome

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.jobs.GetForUpdate(txCtx, req.UserID, req.LocalDate)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		if existing == nil {
			fresh := s.newJob(req, now)
			err := s.jobs.Insert(txCtx, fresh)
			if err == nil {
				job, outcome = fresh, domain.IntakeCreated
				return nil
			}
			if !errors.Is(err, domain.ErrDuplicateJob) {
				return fmt.Errorf("insert job: %w", err)
			}
			// A concurrent request created the row first; continue against it.
			existing, err = s.jobs.GetForUpdate(txCtx, req.UserID, req.LocalDate)
			if err != nil {
				return fmt.Errorf("reload job: %w", err)
			}
			if existing == nil {
				return fmt.Errorf("reload job: %w", domain.ErrJobNotFound)
			}
		}

		outcome = s.apply(existing, req, now)
		job = existing
		if outcome == domain.IntakeUnchanged {
			return nil
		}
		if err := s.jobs.Save(txCtx, existing); err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		return nil
	})
	if err != nil {
		entry.Outcome = domain.IntakeError
		entry.ErrorCode = strPtr(CodeInternal)
		return nil, err
	}

	entry.Outcome = outcome
	entry.JobID = &job.ID

	s.logger.Info("intake processed",
		"request_id", entry.RequestID,
		"user_id", job.UserID,
		"local_date", job.LocalDate,
		"job_id", job.ID,
		"outcome", outcome,
		"status", job.Status,
		"priority", job.Priority,
	)

	return &IntakeResult{
		RequestID:        entry.RequestID,
		JobID:            job.ID,
		Status:           job.Status,
		Outcome:          outcome,
		EstimatedReadyAt: s.estimateReady(job, now),
	}, nil
}

func (s *IntakeService) newJob(req IntakeRequest, now time.Time) *domain.Job {
	kind := priority.Kind{Welcome: req.Welcome, Immediate: req.ProcessImmediately}
	return &domain.Job{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		LocalDate:        req.LocalDate,
		Timezone:         req.Timezone,
		ScheduledAt:      req.ScheduledAt.UTC(),
		ProcessNotBefore: s.policy.ProcessNotBefore(req.ScheduledAt.UTC(), kind, now),
		Priority:         s.policy.Calculate(req.ScheduledAt, kind, now),
		IsWelcome:        req.Welcome,
		Status:           domain.JobStatusQueued,
		Preferences:      req.Preferences.toDomain(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// apply mutates an existing job according to the intake rules and reports
// what happened.
func (s *IntakeService) apply(job *domain.Job, req IntakeRequest, now time.Time) domain.IntakeOutcome {
	upgraded := false
	if req.Welcome && !job.IsWelcome {
		job.IsWelcome = true
		job.Priority = priority.Reserved
		upgraded = true
	}

	switch job.Status {
	case domain.JobStatusProcessing, domain.JobStatusReady:
		if !req.ForceUpdate {
			if upgraded {
				job.UpdatedAt = now
				return domain.IntakeUpgraded
			}
			return domain.IntakeUnchanged
		}
		job.AttemptCount = 0
	default:
		if job.AttemptCount >= s.config.MaxAttempts {
			job.AttemptCount = 0
		}
	}

	kind := priority.Kind{Welcome: job.IsWelcome, Immediate: req.ProcessImmediately}
	job.Timezone = req.Timezone
	job.ScheduledAt = req.ScheduledAt.UTC()
	job.Preferences = req.Preferences.toDomain()
	job.Priority = priority.Merge(job.Priority, s.policy.Calculate(req.ScheduledAt, kind, now))
	job.ProcessNotBefore = s.policy.ProcessNotBefore(job.ScheduledAt, kind, now)
	job.Status = domain.JobStatusQueued
	job.ClearLease()
	job.ClearResult()
	job.UpdatedAt = now

	if upgraded {
		return domain.IntakeUpgraded
	}
	return domain.IntakeUpdated
}

func (s *IntakeService) estimateReady(job *domain.Job, now time.Time) time.Time {
	switch {
	case job.Status == domain.JobStatusReady && job.CompletedAt != nil:
		return *job.CompletedAt
	case job.Priority >= priority.Reserved, job.ScheduledAt.Before(now):
		return now.Add(s.config.WelcomeETA)
	default:
		return job.ScheduledAt
	}
}

// Cancel soft-cancels the job for (user, local date). A worker already
// holding it notices when it reports back.
func (s *IntakeService) Cancel(ctx context.Context, userID, localDate string) (CancelOutcome, error) {
	cancelled, err := s.jobs.Cancel(ctx, userID, localDate, s.config.MaxAttempts, s.now().UTC())
	if err != nil {
		return "", fmt.Errorf("cancel job: %w", err)
	}
	if cancelled != nil {
		s.logger.Info("job cancelled", "job_id", cancelled.ID, "user_id", userID, "local_date", localDate)
		return CancelDone, nil
	}

	existing, err := s.jobs.Get(ctx, userID, localDate)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	switch {
	case existing == nil:
		return CancelNotFound, nil
	case existing.IsWelcome || existing.Priority >= priority.Reserved:
		return CancelExempt, nil
	default:
		return CancelFinished, nil
	}
}

// History returns the newest intake records for a user, at most limit of
// them. A non-positive limit means DefaultHistoryLimit.
func (s *IntakeService) History(ctx context.Context, userID string, limit int) ([]domain.IntakeLogEntry, error) {
	if s.intakeLog == nil {
		return nil, nil
	}
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	entries, err := s.intakeLog.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list intake log: %w", err)
	}
	return entries, nil
}

// record appends the audit entry. Failures are logged and swallowed.
func (s *IntakeService) record(ctx context.Context, entry *domain.IntakeLogEntry) {
	if s.intakeLog == nil {
		return
	}
	entry.CreatedAt = s.now().UTC()
	if err := s.intakeLog.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record intake", "request_id", entry.RequestID, "error", err)
	}
}

func strPtr(s string) *string {
	return &s
}
