package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"briefing_scheduler/internal/domain"
)

type IntakeLogStore struct {
	db *sqlx.DB
}

func NewIntakeLogStore(db *sqlx.DB) *IntakeLogStore {
	return &IntakeLogStore{db: db}
}

// Append records one intake call. A repeated request id is ignored.
func (s *IntakeLogStore) Append(ctx context.Context, entry *domain.IntakeLogEntry) error {
	query := `
		INSERT INTO intake_log (request_id, user_id, local_date, force_update, welcome, outcome, job_id, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO NOTHING`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		entry.RequestID,
		entry.UserID,
		entry.LocalDate,
		entry.ForceUpdate,
		entry.Welcome,
		entry.Outcome,
		entry.JobID,
		entry.ErrorCode,
		entry.CreatedAt,
	)
	return err
}

func (s *IntakeLogStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.IntakeLogEntry, error) {
	query := `
		SELECT request_id, user_id, local_date, force_update, welcome, outcome, job_id, error_code, created_at
		FROM intake_log
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var entries []domain.IntakeLogEntry
	err := GetExecutor(ctx, s.db).SelectContext(ctx, &entries, query, userID, limit)
	return entries, err
}
