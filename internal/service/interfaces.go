package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"

	"briefing_scheduler/internal/domain"
)

type JobStore interface {
	Get(ctx context.Context, userID, localDate string) (*domain.Job, error)
	GetForUpdate(ctx context.Context, userID, localDate string) (*domain.Job, error)
	Insert(ctx context.Context, job *domain.Job) error
	Save(ctx context.Context, job *domain.Job) error
	Cancel(ctx context.Context, userID, localDate string, maxAttempts int, now time.Time) (*domain.Job, error)
	MarkConsumed(ctx context.Context, jobID string, now time.Time) error
}

type JobQueue interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	ClaimNext(ctx context.Context, workerID string, now time.Time, lease time.Duration, maxAttempts int) (*domain.Job, error)
	ClaimByID(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration, maxAttempts int) (*domain.Job, error)
	Complete(ctx context.Context, lease domain.Lease, result domain.Result, now time.Time) (*domain.Job, error)
	Fail(ctx context.Context, lease domain.Lease, failure domain.Failure, maxAttempts int, now time.Time) (*domain.Job, error)
	ReclaimExpired(ctx context.Context, now time.Time, maxAttempts int) (*domain.ReclaimStats, error)
}

type JobJanitor interface {
	ClearArtifacts(ctx context.Context, cutoff, now time.Time) ([]string, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type ContentStore interface {
	Append(ctx context.Context, entry *domain.ContentEntry) error
	AppendBatch(ctx context.Context, entries []domain.ContentEntry) error
	Fresh(ctx context.Context, types []domain.ContentType, now time.Time) (domain.FreshContent, error)
	NewestPerType(ctx context.Context, now time.Time) (map[domain.ContentType]domain.TypeFreshness, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type IntakeLog interface {
	Append(ctx context.Context, entry *domain.IntakeLogEntry) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.IntakeLogEntry, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher announces job outcomes to other systems.
type Publisher interface {
	PublishJobEvent(ctx context.Context, job *domain.Job, action string) error
	Close() error
}

// Generator turns a claimed job and its content into a briefing.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Result, error)
}

// ContentSource fetches one snapshot from an upstream provider.
type ContentSource interface {
	ID() string
	ContentType() domain.ContentType
	Fetch(ctx context.Context) (json.RawMessage, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ArtifactSigner hands out time-bounded access to generated audio.
type ArtifactSigner interface {
	SignedURL(ctx context.Context, path string) (string, time.Time, error)
}

type ArtifactRemover interface {
	Delete(ctx context.Context, path string) error
}
