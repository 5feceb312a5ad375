package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"briefing_scheduler/internal/domain"
)

// StatusView is the caller-facing state of a briefing. Retries and leases
// are folded into "processing".
type StatusView string

const (
	StatusReady      StatusView = "ready"
	StatusProcessing StatusView = "processing"
	StatusFailed     StatusView = "failed"
	StatusNotFound   StatusView = "not_found"
)

type BriefingStatus struct {
	JobID                string
	Status               StatusView
	AudioURL             *string
	AudioURLExpiresAt    *time.Time
	AudioDurationSeconds *int
	Transcript           *string
	ErrorCode            *string
	CompletedAt          *time.Time
}

type StatusService struct {
	jobs        JobStore
	signer      ArtifactSigner
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
}

func NewStatusService(jobs JobStore, signer ArtifactSigner, maxAttempts int, logger *slog.Logger) *StatusService {
	return &StatusService{
		jobs:        jobs,
		signer:      signer,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "status"),
		now:         time.Now,
	}
}

// Get returns the mapped status of the briefing for (user, local date). When
// consume is set and the briefing is ready, the first playback is recorded.
func (s *StatusService) Get(ctx context.Context, userID, localDate string, consume bool) (*BriefingStatus, error) {
	job, err := s.jobs.Get(ctx, userID, localDate)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job == nil {
		return &BriefingStatus{Status: StatusNotFound}, nil
	}

	out := &BriefingStatus{
		JobID:  job.ID,
		Status: MapStatus(job, s.maxAttempts),
	}

	switch out.Status {
	case StatusNotFound:
		out.JobID = ""
	case StatusFailed:
		out.ErrorCode = job.ErrorCode
		out.CompletedAt = job.CompletedAt
	case StatusReady:
		out.AudioDurationSeconds = job.AudioDurationSeconds
		out.Transcript = job.Transcript
		out.CompletedAt = job.CompletedAt

		if job.AudioPath != nil && s.signer != nil {
			url, expires, err := s.signer.SignedURL(ctx, *job.AudioPath)
			if err != nil {
				return nil, fmt.Errorf("sign artifact: %w", err)
			}
			out.AudioURL = &url
			out.AudioURLExpiresAt = &expires
		}

		if consume && job.ConsumedAt == nil {
			if err := s.jobs.MarkConsumed(ctx, job.ID, s.now().UTC()); err != nil {
				// Playback tracking must not block delivery.
				s.logger.Warn("failed to mark consumed", "job_id", job.ID, "error", err)
			}
		}
	}

	return out, nil
}

// MapStatus folds the internal status into the caller-facing one.
func MapStatus(job *domain.Job, maxAttempts int) StatusView {
	switch job.Status {
	case domain.JobStatusReady:
		return StatusReady
	case domain.JobStatusQueued, domain.JobStatusProcessing:
		return StatusProcessing
	case domain.JobStatusFailed:
		if job.IsTerminal(maxAttempts) {
			return StatusFailed
		}
		return StatusProcessing
	default:
		return StatusNotFound
	}
}
