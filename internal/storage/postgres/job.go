package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/priority"
)

const jobColumns = `
	id, user_id, local_date, timezone, scheduled_at, process_not_before, priority, is_welcome,
	status, attempt_count, worker_id, lease_until, preferences,
	script, audio_path, audio_duration_seconds, transcript, generation_cost, error_code, error_message,
	consumed_at, audio_cleared_at, created_at, updated_at, completed_at`

type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

// Get returns the job for a user and local date, or nil when none exists.
func (s *JobStore) Get(ctx context.Context, userID, localDate string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM briefing_jobs WHERE user_id = $1 AND local_date = $2`
	return s.getOne(ctx, query, userID, localDate)
}

// GetForUpdate is Get with a row lock; it must run inside a transaction.
func (s *JobStore) GetForUpdate(ctx context.Context, userID, localDate string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM briefing_jobs WHERE user_id = $1 AND local_date = $2 FOR UPDATE`
	return s.getOne(ctx, query, userID, localDate)
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM briefing_jobs WHERE id = $1`
	job, err := s.getOne(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *JobStore) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Job, error) {
	var job domain.Job
	err := GetExecutor(ctx, s.db).GetContext(ctx, &job, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Insert creates a new job row. It returns domain.ErrDuplicateJob when a job
// for the same user and local date already exists.
func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO briefing_jobs (
			id, user_id, local_date, timezone, scheduled_at, process_not_before,
			priority, is_welcome, status, attempt_count, preferences, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12
		)
		ON CONFLICT (user_id, local_date) DO NOTHING
		RETURNING created_at, updated_at`

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		job.ID,
		job.UserID,
		job.LocalDate,
		job.Timezone,
		job.ScheduledAt,
		job.ProcessNotBefore,
		job.Priority,
		job.IsWelcome,
		job.Status,
		job.AttemptCount,
		job.Preferences,
		job.CreatedAt,
	).Scan(&job.CreatedAt, &job.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrDuplicateJob
	}
	return err
}

// Save writes every mutable column of an existing job.
func (s *JobStore) Save(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE briefing_jobs SET
			timezone = $2,
			scheduled_at = $3,
			process_not_before = $4,
			priority = $5,
			is_welcome = $6,
			status = $7,
			attempt_count = $8,
			worker_id = $9,
			lease_until = $10,
			preferences = $11,
			script = $12,
			audio_path = $13,
			audio_duration_seconds = $14,
			transcript = $15,
			generation_cost = $16,
			error_code = $17,
			error_message = $18,
			consumed_at = $19,
			audio_cleared_at = $20,
			completed_at = $21,
			updated_at = $22
		WHERE id = $1`

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		job.ID,
		job.Timezone,
		job.ScheduledAt,
		job.ProcessNotBefore,
		job.Priority,
		job.IsWelcome,
		job.Status,
		job.AttemptCount,
		job.WorkerID,
		job.LeaseUntil,
		job.Preferences,
		job.Script,
		job.AudioPath,
		job.AudioDurationSeconds,
		job.Transcript,
		job.GenerationCost,
		job.ErrorCode,
		job.ErrorMessage,
		job.ConsumedAt,
		job.AudioClearedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ClaimNext atomically reserves the best eligible job for workerID. It
// returns nil when nothing is claimable.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string, now time.Time, lease time.Duration, maxAttempts int) (*domain.Job, error) {
	query := `
		UPDATE briefing_jobs SET
			status = 'processing',
			attempt_count = attempt_count + 1,
			worker_id = $1,
			lease_until = $2,
			updated_at = $3
		WHERE id = (
			SELECT id FROM briefing_jobs
			WHERE status IN ('queued', 'failed')
				AND attempt_count < $4
				AND (lease_until IS NULL OR lease_until < $3)
				AND process_not_before <= $3
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	return s.claim(ctx, query, workerID, now.Add(lease), now, maxAttempts)
}

// ClaimByID is ClaimNext restricted to a single job.
func (s *JobStore) ClaimByID(ctx context.Context, jobID, workerID string, now time.Time, lease time.Duration, maxAttempts int) (*domain.Job, error) {
	query := `
		UPDATE briefing_jobs SET
			status = 'processing',
			attempt_count = attempt_count + 1,
			worker_id = $1,
			lease_until = $2,
			updated_at = $3
		WHERE id = (
			SELECT id FROM briefing_jobs
			WHERE id = $5
				AND status IN ('queued', 'failed')
				AND attempt_count < $4
				AND (lease_until IS NULL OR lease_until < $3)
				AND process_not_before <= $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	return s.claim(ctx, query, workerID, now.Add(lease), now, maxAttempts, jobID)
}

func (s *JobStore) claim(ctx context.Context, query string, args ...interface{}) (*domain.Job, error) {
	var job domain.Job
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query, args...).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Complete records a successful generation. The report only lands while the
// caller still holds the lease; otherwise domain.ErrLeaseLost is returned and
// nothing changes.
func (s *JobStore) Complete(ctx context.Context, lease domain.Lease, result domain.Result, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE briefing_jobs SET
			status = 'ready',
			script = $4,
			audio_path = $5,
			audio_duration_seconds = $6,
			transcript = $7,
			generation_cost = $8,
			error_code = NULL,
			error_message = NULL,
			worker_id = NULL,
			lease_until = NULL,
			completed_at = $9,
			updated_at = $9
		WHERE id = $1 AND worker_id = $2 AND attempt_count = $3 AND status = 'processing'
		RETURNING ` + jobColumns

	var job domain.Job
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		lease.JobID,
		lease.WorkerID,
		lease.Attempt,
		result.Script,
		result.AudioPath,
		result.AudioDurationSeconds,
		result.Transcript,
		result.GenerationCost,
		now,
	).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLeaseLost
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Fail records a failed attempt. Below the attempt ceiling the lease is kept
// so the job waits out the rest of it before it can be claimed again; at the
// ceiling the job becomes terminally failed.
func (s *JobStore) Fail(ctx context.Context, lease domain.Lease, failure domain.Failure, maxAttempts int, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE briefing_jobs SET
			status = 'failed',
			error_code = $4,
			error_message = $5,
			worker_id = CASE WHEN attempt_count >= $6 THEN NULL ELSE worker_id END,
			lease_until = CASE WHEN attempt_count >= $6 THEN NULL ELSE lease_until END,
			completed_at = CASE WHEN attempt_count >= $6 THEN $7::timestamptz ELSE NULL END,
			updated_at = $7::timestamptz
		WHERE id = $1 AND worker_id = $2 AND attempt_count = $3 AND status = 'processing'
		RETURNING ` + jobColumns

	var job domain.Job
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		lease.JobID,
		lease.WorkerID,
		lease.Attempt,
		failure.Code,
		failure.Message,
		maxAttempts,
		now,
	).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrLeaseLost
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ReclaimExpired releases every lease that ran out without an outcome
// report. Jobs below the attempt ceiling go back to queued; the rest fail.
// Running it again right away finds nothing.
func (s *JobStore) ReclaimExpired(ctx context.Context, now time.Time, maxAttempts int) (*domain.ReclaimStats, error) {
	query := `
		UPDATE briefing_jobs SET
			status = CASE WHEN attempt_count < $2 THEN 'queued' ELSE 'failed' END,
			error_code = CASE
				WHEN attempt_count < $2 THEN error_code
				WHEN status = 'processing' THEN 'LEASE_EXPIRED'
				ELSE COALESCE(error_code, 'LEASE_EXPIRED')
			END,
			error_message = CASE
				WHEN attempt_count < $2 THEN error_message
				WHEN status = 'processing' THEN 'lease expired without an outcome report'
				ELSE COALESCE(error_message, 'lease expired without an outcome report')
			END,
			completed_at = CASE WHEN attempt_count >= $2 THEN $1::timestamptz ELSE completed_at END,
			worker_id = NULL,
			lease_until = NULL,
			updated_at = $1::timestamptz
		WHERE id IN (
			SELECT id FROM briefing_jobs
			WHERE status IN ('processing', 'failed')
				AND lease_until IS NOT NULL
				AND lease_until < $1::timestamptz
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var released []domain.Job
	if err := GetExecutor(ctx, s.db).SelectContext(ctx, &released, query, now, maxAttempts); err != nil {
		return nil, err
	}

	stats := &domain.ReclaimStats{Released: released}
	for _, job := range released {
		if job.Status == domain.JobStatusQueued {
			stats.Requeued = append(stats.Requeued, job.ID)
		} else {
			stats.Failed = append(stats.Failed, job.ID)
		}
	}
	return stats, nil
}

// Cancel soft-cancels a job that has not finished. Welcome and other
// reserved-priority jobs are never cancelled. It returns nil when no row
// qualified.
func (s *JobStore) Cancel(ctx context.Context, userID, localDate string, maxAttempts int, now time.Time) (*domain.Job, error) {
	query := `
		UPDATE briefing_jobs SET
			status = 'cancelled',
			worker_id = NULL,
			lease_until = NULL,
			updated_at = $3
		WHERE user_id = $1 AND local_date = $2
			AND is_welcome = FALSE
			AND priority < $4
			AND (status IN ('queued', 'processing') OR (status = 'failed' AND attempt_count < $5))
		RETURNING ` + jobColumns

	var job domain.Job
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		userID, localDate, now, priority.Reserved, maxAttempts,
	).StructScan(&job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkConsumed stamps the first playback of a ready briefing.
func (s *JobStore) MarkConsumed(ctx context.Context, jobID string, now time.Time) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE briefing_jobs SET consumed_at = COALESCE(consumed_at, $2), updated_at = $2
		WHERE id = $1 AND status = 'ready'`,
		jobID, now,
	)
	return err
}

// ClearArtifacts marks the audio of ready jobs completed before cutoff as
// cleared and returns the paths that were released.
func (s *JobStore) ClearArtifacts(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	query := `
		WITH cleared AS (
			SELECT id, audio_path FROM briefing_jobs
			WHERE status = 'ready'
				AND audio_path IS NOT NULL
				AND audio_cleared_at IS NULL
				AND completed_at < $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE briefing_jobs j SET
			audio_path = NULL,
			audio_cleared_at = $2,
			updated_at = $2
		FROM cleared
		WHERE j.id = cleared.id
		RETURNING cleared.audio_path`

	var paths []string
	err := GetExecutor(ctx, s.db).SelectContext(ctx, &paths, query, cutoff, now)
	return paths, err
}

// DeleteCreatedBefore garbage-collects jobs older than the retention cutoff.
func (s *JobStore) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		"DELETE FROM briefing_jobs WHERE created_at < $1",
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByStatus is used by the status command.
func (s *JobStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx,
		"SELECT status, COUNT(*) FROM briefing_jobs GROUP BY status",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status domain.JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		result[status] = n
	}
	return result, rows.Err()
}
