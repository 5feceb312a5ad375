package domain

import "time"

// ReclaimStats holds the outcome of one expired-lease sweep.
type ReclaimStats struct {
	Requeued []string
	Failed   []string
	// Released holds every swept row as it stands after the sweep.
	Released []Job
	Duration time.Duration
}

func (s *ReclaimStats) Total() int {
	return len(s.Requeued) + len(s.Failed)
}

// IngestStats holds statistics about one content refresh run.
type IngestStats struct {
	Sources  int
	Stored   int
	Errors   int
	Duration time.Duration
}

// RunStats describes one worker pass.
type RunStats struct {
	Claimed   int
	Completed int
	Failed    int
	Discarded int
}

type IntakeOutcome string

const (
	IntakeCreated     IntakeOutcome = "created"
	IntakeUpdated     IntakeOutcome = "updated"
	IntakeUnchanged   IntakeOutcome = "unchanged"
	IntakeUpgraded    IntakeOutcome = "upgraded"
	IntakeRejected    IntakeOutcome = "rejected"
	IntakeRateLimited IntakeOutcome = "rate_limited"
	IntakeError       IntakeOutcome = "error"
)

// IntakeLogEntry is the append-only audit record of one intake call.
type IntakeLogEntry struct {
	RequestID   string        `db:"request_id"`
	UserID      string        `db:"user_id"`
	LocalDate   string        `db:"local_date"`
	ForceUpdate bool          `db:"force_update"`
	Welcome     bool          `db:"welcome"`
	Outcome     IntakeOutcome `db:"outcome"`
	JobID       *string       `db:"job_id"`
	ErrorCode   *string       `db:"error_code"`
	CreatedAt   time.Time     `db:"created_at"`
}
