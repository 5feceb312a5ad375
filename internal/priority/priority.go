// Package priority maps a briefing's schedule and kind to a claim ordering key.
// Everything here is a pure function of its inputs; it never looks at lease
// or status state.
package priority

import "time"

const (
	Background = 25
	Normal     = 50
	Urgent     = 75
	// Reserved is held by welcome and process-immediately jobs only. A job at
	// this priority is exempt from schedule-driven cancellation.
	Reserved = 100
)

// Policy holds the tier boundaries and eligibility lead time.
type Policy struct {
	UrgentWindow time.Duration
	NormalWindow time.Duration
	LeadTime     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		UrgentWindow: 4 * time.Hour,
		NormalWindow: 24 * time.Hour,
		LeadTime:     45 * time.Minute,
	}
}

// Kind describes why a job exists.
type Kind struct {
	Welcome   bool
	Immediate bool
}

func (k Kind) Expedited() bool {
	return k.Welcome || k.Immediate
}

// Calculate returns the tier for a job scheduled at scheduledAt as seen at now.
func (p Policy) Calculate(scheduledAt time.Time, kind Kind, now time.Time) int {
	if kind.Expedited() {
		return Reserved
	}
	until := scheduledAt.Sub(now)
	switch {
	case until < p.UrgentWindow:
		return Urgent
	case until <= p.NormalWindow:
		return Normal
	default:
		return Background
	}
}

// ProcessNotBefore returns the earliest instant a job may be claimed.
func (p Policy) ProcessNotBefore(scheduledAt time.Time, kind Kind, now time.Time) time.Time {
	if kind.Expedited() {
		return now
	}
	return scheduledAt.Add(-p.LeadTime)
}

// Merge keeps a stored reserved priority when a later ordinary request
// recomputes it; promotion to Reserved is one-way.
func Merge(stored, computed int) int {
	if stored >= Reserved {
		return Reserved
	}
	return computed
}
