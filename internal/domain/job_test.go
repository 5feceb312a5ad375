package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		attempts int
		want     bool
	}{
		{"queued", JobStatusQueued, 0, false},
		{"processing", JobStatusProcessing, 3, false},
		{"ready", JobStatusReady, 1, true},
		{"cancelled", JobStatusCancelled, 0, true},
		{"failed with retries left", JobStatusFailed, 2, false},
		{"failed at ceiling", JobStatusFailed, 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &Job{Status: tt.status, AttemptCount: tt.attempts}
			assert.Equal(t, tt.want, job.IsTerminal(3))
		})
	}
}

func TestJob_Claimable(t *testing.T) {
	now := time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		job  Job
		want bool
	}{
		{"queued and due", Job{Status: JobStatusQueued, ProcessNotBefore: past}, true},
		{"due exactly now", Job{Status: JobStatusQueued, ProcessNotBefore: now}, true},
		{"not yet due", Job{Status: JobStatusQueued, ProcessNotBefore: future}, false},
		{"processing", Job{Status: JobStatusProcessing, ProcessNotBefore: past}, false},
		{"ready", Job{Status: JobStatusReady, ProcessNotBefore: past}, false},
		{"failed, lease expired", Job{Status: JobStatusFailed, AttemptCount: 1, LeaseUntil: &past, ProcessNotBefore: past}, true},
		{"failed, lease running", Job{Status: JobStatusFailed, AttemptCount: 1, LeaseUntil: &future, ProcessNotBefore: past}, false},
		{"failed at ceiling", Job{Status: JobStatusFailed, AttemptCount: 3, ProcessNotBefore: past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.Claimable(now, 3))
		})
	}
}

func TestJob_LeaseAndClear(t *testing.T) {
	worker := "w1"
	path := "a.mp3"
	until := time.Now()
	job := &Job{ID: "job-1", AttemptCount: 2, WorkerID: &worker, LeaseUntil: &until, AudioPath: &path, ErrorCode: &path}

	assert.Equal(t, Lease{JobID: "job-1", WorkerID: "w1", Attempt: 2}, job.Lease())

	job.ClearLease()
	job.ClearResult()
	assert.Nil(t, job.WorkerID)
	assert.Nil(t, job.LeaseUntil)
	assert.Nil(t, job.AudioPath)
	assert.Nil(t, job.ErrorCode)
	assert.Equal(t, Lease{JobID: "job-1", Attempt: 2}, job.Lease())
}

func TestPreferences_ScanAndValue(t *testing.T) {
	prefs := Preferences{PreferredName: "Sam", StockSymbols: []string{"AAPL"}, DurationMinutes: 5}

	v, err := prefs.Value()
	require.NoError(t, err)

	var fromBytes Preferences
	require.NoError(t, fromBytes.Scan(v))
	assert.Equal(t, prefs, fromBytes)

	var fromString Preferences
	require.NoError(t, fromString.Scan(`{"voice_id":"nova"}`))
	assert.Equal(t, "nova", fromString.VoiceID)

	var empty Preferences
	require.NoError(t, empty.Scan(nil))
	assert.Zero(t, empty)

	assert.Error(t, empty.Scan(42))
}

func TestPreferences_ContentTypes(t *testing.T) {
	assert.Empty(t, Preferences{}.ContentTypes())
	assert.Equal(t,
		[]ContentType{ContentNews, ContentSports},
		Preferences{NewsCategories: []string{"top"}, SportsTeams: []string{"Arsenal"}}.ContentTypes(),
	)
	assert.Equal(t,
		[]ContentType{ContentStocks, ContentSports},
		Preferences{StockSymbols: []string{"AAPL"}, SportsLeagues: []string{"nba"}}.ContentTypes(),
	)
}

func TestParseContentType(t *testing.T) {
	ct, err := ParseContentType("stocks")
	require.NoError(t, err)
	assert.Equal(t, ContentStocks, ct)

	_, err = ParseContentType("weather")
	assert.Error(t, err)
}
