package api

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"

	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/service"
)

type IntakeService interface {
	Submit(ctx context.Context, req service.IntakeRequest) (*service.IntakeResult, error)
	Cancel(ctx context.Context, userID, localDate string) (service.CancelOutcome, error)
	History(ctx context.Context, userID string, limit int) ([]domain.IntakeLogEntry, error)
}

type StatusService interface {
	Get(ctx context.Context, userID, localDate string, consume bool) (*service.BriefingStatus, error)
}

type QueueService interface {
	ClaimNext(ctx context.Context, workerID string) (*domain.Job, error)
	ClaimByID(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, lease domain.Lease, result domain.Result) (*domain.Job, error)
	Fail(ctx context.Context, lease domain.Lease, failure domain.Failure) (*domain.Job, error)
	Reclaim(ctx context.Context) (*domain.ReclaimStats, error)
}

type ContentService interface {
	Append(ctx context.Context, contentType domain.ContentType, source string, data json.RawMessage) (*domain.ContentEntry, error)
	Fresh(ctx context.Context, types []domain.ContentType) (domain.FreshContent, error)
	Freshness(ctx context.Context) ([]domain.TypeFreshness, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
