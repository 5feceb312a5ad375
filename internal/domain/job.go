package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// LocalDateLayout is the wire and storage format of Job.LocalDate.
const LocalDateLayout = "2006-01-02"

// Job is one briefing occurrence for a user on a local calendar date.
type Job struct {
	ID               string     `db:"id"`
	UserID           string     `db:"user_id"`
	LocalDate        string     `db:"local_date"`
	Timezone         string     `db:"timezone"`
	ScheduledAt      time.Time  `db:"scheduled_at"`
	ProcessNotBefore time.Time  `db:"process_not_before"`
	Priority         int        `db:"priority"`
	IsWelcome        bool       `db:"is_welcome"`
	Status           JobStatus  `db:"status"`
	AttemptCount     int        `db:"attempt_count"`
	WorkerID         *string    `db:"worker_id"`
	LeaseUntil       *time.Time `db:"lease_until"`

	Preferences Preferences `db:"preferences"`

	Script               *string  `db:"script"`
	AudioPath            *string  `db:"audio_path"`
	AudioDurationSeconds *int     `db:"audio_duration_seconds"`
	Transcript           *string  `db:"transcript"`
	GenerationCost       *float64 `db:"generation_cost"`
	ErrorCode            *string  `db:"error_code"`
	ErrorMessage         *string  `db:"error_message"`

	ConsumedAt     *time.Time `db:"consumed_at"`
	AudioClearedAt *time.Time `db:"audio_cleared_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at"`
}

// Preferences is the content snapshot captured when the job was created.
type Preferences struct {
	PreferredName   string   `json:"preferred_name,omitempty"`
	NewsCategories  []string `json:"news_categories,omitempty"`
	StockSymbols    []string `json:"stock_symbols,omitempty"`
	SportsLeagues   []string `json:"sports_leagues,omitempty"`
	SportsTeams     []string `json:"sports_teams,omitempty"`
	VoiceID         string   `json:"voice_id,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

func (p Preferences) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Preferences) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = Preferences{}
		return nil
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("preferences: unsupported scan type")
	}
}

// ContentTypes lists the cache content types the preferences ask for.
func (p Preferences) ContentTypes() []ContentType {
	var types []ContentType
	if len(p.NewsCategories) > 0 {
		types = append(types, ContentNews)
	}
	if len(p.StockSymbols) > 0 {
		types = append(types, ContentStocks)
	}
	if len(p.SportsLeagues) > 0 || len(p.SportsTeams) > 0 {
		types = append(types, ContentSports)
	}
	return types
}

// Lease identifies one claim of a job. Outcome reports must present the
// lease they were handed; a stale lease is rejected.
type Lease struct {
	JobID    string
	WorkerID string
	Attempt  int
}

func (j *Job) Lease() Lease {
	l := Lease{JobID: j.ID, Attempt: j.AttemptCount}
	if j.WorkerID != nil {
		l.WorkerID = *j.WorkerID
	}
	return l
}

// Result is what the generation step produced for a job.
type Result struct {
	Script               string
	AudioPath            string
	AudioDurationSeconds int
	Transcript           string
	GenerationCost       float64
}

type Failure struct {
	Code    string
	Message string
}

// IsTerminal reports whether the job has reached a state no worker will act on.
func (j *Job) IsTerminal(maxAttempts int) bool {
	switch j.Status {
	case JobStatusReady, JobStatusCancelled:
		return true
	case JobStatusFailed:
		return j.AttemptCount >= maxAttempts
	}
	return false
}

// Claimable mirrors the claim predicate used by the job store.
func (j *Job) Claimable(now time.Time, maxAttempts int) bool {
	if j.Status != JobStatusQueued && j.Status != JobStatusFailed {
		return false
	}
	if j.AttemptCount >= maxAttempts {
		return false
	}
	if j.LeaseUntil != nil && !j.LeaseUntil.Before(now) {
		return false
	}
	return !now.Before(j.ProcessNotBefore)
}

// ClearResult drops every generated output and error field.
func (j *Job) ClearResult() {
	j.Script = nil
	j.AudioPath = nil
	j.AudioDurationSeconds = nil
	j.Transcript = nil
	j.GenerationCost = nil
	j.ErrorCode = nil
	j.ErrorMessage = nil
	j.ConsumedAt = nil
	j.AudioClearedAt = nil
	j.CompletedAt = nil
}

func (j *Job) ClearLease() {
	j.WorkerID = nil
	j.LeaseUntil = nil
}

// GenerationRequest is handed to the Generator for one claimed job.
type GenerationRequest struct {
	JobID       string       `json:"job_id"`
	UserID      string       `json:"user_id"`
	LocalDate   string       `json:"local_date"`
	Timezone    string       `json:"timezone"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	Attempt     int          `json:"attempt"`
	Welcome     bool         `json:"welcome"`
	Preferences Preferences  `json:"preferences"`
	Content     FreshContent `json:"content"`
}
