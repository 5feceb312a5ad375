package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/priority"
	"briefing_scheduler/internal/service/mocks"
)

type IntakeServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	jobs      *mocks.MockJobStore
	txManager *mocks.MockTransactionManager
	intakeLog *mocks.MockIntakeLog
	limiter   *mocks.MockRateLimiter

	service *IntakeService
	cfg     config.SchedulingConfig
	now     time.Time
	logged  []*domain.IntakeLogEntry
}

func (s *IntakeServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.jobs = mocks.NewMockJobStore(s.ctrl)
	s.txManager = mocks.NewMockTransactionManager(s.ctrl)
	s.intakeLog = mocks.NewMockIntakeLog(s.ctrl)
	s.limiter = mocks.NewMockRateLimiter(s.ctrl)

	s.cfg = config.SchedulingConfig{
		LeadTime:      45 * time.Minute,
		LeaseDuration: 15 * time.Minute,
		MaxAttempts:   3,
		WelcomeETA:    3 * time.Minute,
		UrgentWindow:  4 * time.Hour,
		NormalWindow:  24 * time.Hour,
	}
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.logged = nil

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.service = NewIntakeService(s.jobs, s.txManager, s.intakeLog, s.limiter, logger, s.cfg)
	s.service.now = func() time.Time { return s.now }

	s.intakeLog.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.IntakeLogEntry) error {
			s.logged = append(s.logged, entry)
			return nil
		},
	).AnyTimes()
}

func (s *IntakeServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestIntakeServiceTestSuite(t *testing.T) {
	suite.Run(t, new(IntakeServiceTestSuite))
}

func (s *IntakeServiceTestSuite) request() IntakeRequest {
	return IntakeRequest{
		UserID:      "user-1",
		LocalDate:   "2026-03-11",
		ScheduledAt: time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC),
		Timezone:    "UTC",
		Preferences: PreferencesInput{
			NewsCategories: []string{"technology"},
			StockSymbols:   []string{"AAPL", "BRK.B"},
		},
	}
}

func (s *IntakeServiceTestSuite) expectAllowed() {
	s.limiter.EXPECT().Allow(gomock.Any(), "intake:user-1").Return(true, nil)
}

func (s *IntakeServiceTestSuite) expectTx() {
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
}

func (s *IntakeServiceTestSuite) lastLogged() *domain.IntakeLogEntry {
	s.Require().NotEmpty(s.logged)
	return s.logged[len(s.logged)-1]
}

func (s *IntakeServiceTestSuite) existing(status domain.JobStatus, attempts int) *domain.Job {
	worker := "worker-a"
	lease := s.now.Add(10 * time.Minute)
	script := "old script"
	return &domain.Job{
		ID:               "job-1",
		UserID:           "user-1",
		LocalDate:        "2026-03-11",
		Timezone:         "UTC",
		ScheduledAt:      time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC),
		ProcessNotBefore: time.Date(2026, 3, 11, 5, 15, 0, 0, time.UTC),
		Priority:         priority.Normal,
		Status:           status,
		AttemptCount:     attempts,
		WorkerID:         &worker,
		LeaseUntil:       &lease,
		Script:           &script,
		CreatedAt:        s.now.Add(-time.Hour),
	}
}

func (s *IntakeServiceTestSuite) TestSubmit_CreatesJob() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil)

	var inserted *domain.Job
	s.jobs.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, job *domain.Job) error {
			inserted = job
			return nil
		},
	)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeCreated, result.Outcome)
	s.Equal(domain.JobStatusQueued, result.Status)
	s.Equal(inserted.ID, result.JobID)
	s.Equal(time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC), result.EstimatedReadyAt)

	s.Require().NotNil(inserted)
	s.Equal(priority.Normal, inserted.Priority)
	s.Equal(time.Date(2026, 3, 11, 6, 15, 0, 0, time.UTC), inserted.ProcessNotBefore)
	s.Equal(0, inserted.AttemptCount)
	s.Equal([]string{"AAPL", "BRK.B"}, inserted.Preferences.StockSymbols)

	entry := s.lastLogged()
	s.Equal(domain.IntakeCreated, entry.Outcome)
	s.Equal(result.RequestID, entry.RequestID)
	s.Require().NotNil(entry.JobID)
	s.Equal(inserted.ID, *entry.JobID)
}

func (s *IntakeServiceTestSuite) TestSubmit_WelcomeIsReservedAndImmediate() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	req := s.request()
	req.Welcome = true

	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil)

	var inserted *domain.Job
	s.jobs.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, job *domain.Job) error {
			inserted = job
			return nil
		},
	)

	result, err := s.service.Submit(ctx, req)

	s.Require().NoError(err)
	s.Equal(priority.Reserved, inserted.Priority)
	s.True(inserted.IsWelcome)
	s.Equal(s.now, inserted.ProcessNotBefore)
	s.Equal(s.now.Add(s.cfg.WelcomeETA), result.EstimatedReadyAt)
}

func (s *IntakeServiceTestSuite) TestSubmit_ValidationFailures() {
	tests := []struct {
		name   string
		mutate func(*IntakeRequest)
	}{
		{"bad local date", func(r *IntakeRequest) { r.LocalDate = "2026-13-01" }},
		{"missing user", func(r *IntakeRequest) { r.UserID = "" }},
		{"user id with spaces", func(r *IntakeRequest) { r.UserID = "user 1" }},
		{"lowercase ticker", func(r *IntakeRequest) { r.Preferences.StockSymbols = []string{"aapl"} }},
		{"unknown category", func(r *IntakeRequest) { r.Preferences.NewsCategories = []string{"gossip"} }},
		{"unknown timezone", func(r *IntakeRequest) { r.Timezone = "Mars/Olympus" }},
		{"schedule on another day", func(r *IntakeRequest) {
			r.ScheduledAt = time.Date(2026, 3, 14, 7, 0, 0, 0, time.UTC)
		}},
		{"missing schedule", func(r *IntakeRequest) { r.ScheduledAt = time.Time{} }},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			req := s.request()
			tt.mutate(&req)

			result, err := s.service.Submit(context.Background(), req)

			s.Nil(result)
			var verr *ValidationError
			s.Require().ErrorAs(err, &verr)
			s.NotEmpty(verr.Fields)
			s.Equal(CodeValidationFailed, ErrorCode(err))
			s.Equal(domain.IntakeRejected, s.lastLogged().Outcome)
		})
	}
}

func (s *IntakeServiceTestSuite) TestSubmit_ScheduleOnPreviousDayInTimezone() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	req := s.request()
	req.Timezone = "America/New_York"
	// 23:30 local on the day before local_date.
	req.ScheduledAt = time.Date(2026, 3, 11, 3, 30, 0, 0, time.UTC)

	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil)
	s.jobs.EXPECT().Insert(ctx, gomock.Any()).Return(nil)

	result, err := s.service.Submit(ctx, req)

	s.Require().NoError(err)
	s.Equal(domain.IntakeCreated, result.Outcome)
}

func (s *IntakeServiceTestSuite) TestSubmit_RateLimited() {
	s.limiter.EXPECT().Allow(gomock.Any(), "intake:user-1").Return(false, nil)

	_, err := s.service.Submit(context.Background(), s.request())

	s.ErrorIs(err, ErrRateLimited)
	s.Equal(CodeRateLimited, ErrorCode(err))
	s.Equal(domain.IntakeRateLimited, s.lastLogged().Outcome)
}

func (s *IntakeServiceTestSuite) TestSubmit_LimiterErrorAllows() {
	ctx := context.Background()
	s.limiter.EXPECT().Allow(gomock.Any(), "intake:user-1").Return(false, errors.New("redis down"))
	s.expectTx()
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil)
	s.jobs.EXPECT().Insert(ctx, gomock.Any()).Return(nil)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeCreated, result.Outcome)
}

func (s *IntakeServiceTestSuite) TestSubmit_ProcessingWithoutForceIsUnchanged() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusProcessing, 1)
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeUnchanged, result.Outcome)
	s.Equal(domain.JobStatusProcessing, result.Status)
	s.Equal(1, job.AttemptCount)
	s.NotNil(job.WorkerID)
}

func (s *IntakeServiceTestSuite) TestSubmit_ReadyWithoutForceIsUnchanged() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	completed := s.now.Add(-10 * time.Minute)
	job := s.existing(domain.JobStatusReady, 1)
	job.WorkerID, job.LeaseUntil = nil, nil
	job.CompletedAt = &completed
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeUnchanged, result.Outcome)
	s.Equal(domain.JobStatusReady, result.Status)
	s.Equal(completed, result.EstimatedReadyAt)
}

func (s *IntakeServiceTestSuite) TestSubmit_ForceUpdateRequeuesReadyJob() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusReady, 2)
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)
	s.jobs.EXPECT().Save(ctx, job).Return(nil)

	req := s.request()
	req.ForceUpdate = true

	result, err := s.service.Submit(ctx, req)

	s.Require().NoError(err)
	s.Equal(domain.IntakeUpdated, result.Outcome)
	s.Equal(domain.JobStatusQueued, job.Status)
	s.Equal(0, job.AttemptCount)
	s.Nil(job.WorkerID)
	s.Nil(job.LeaseUntil)
	s.Nil(job.Script)
	s.Equal(req.ScheduledAt, job.ScheduledAt)
}

func (s *IntakeServiceTestSuite) TestSubmit_WelcomeUpgradesProcessingJob() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusProcessing, 1)
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)
	s.jobs.EXPECT().Save(ctx, job).Return(nil)

	req := s.request()
	req.Welcome = true

	result, err := s.service.Submit(ctx, req)

	s.Require().NoError(err)
	s.Equal(domain.IntakeUpgraded, result.Outcome)
	s.Equal(priority.Reserved, job.Priority)
	s.True(job.IsWelcome)
	s.Equal(domain.JobStatusProcessing, job.Status)
	s.NotNil(job.WorkerID)
}

func (s *IntakeServiceTestSuite) TestSubmit_UpdateKeepsReservedPriority() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusQueued, 0)
	job.WorkerID, job.LeaseUntil = nil, nil
	job.IsWelcome = true
	job.Priority = priority.Reserved
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)
	s.jobs.EXPECT().Save(ctx, job).Return(nil)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeUpdated, result.Outcome)
	s.Equal(priority.Reserved, job.Priority)
	s.True(job.IsWelcome)
	s.Equal(s.now, job.ProcessNotBefore)
}

func (s *IntakeServiceTestSuite) TestSubmit_RequeuesExhaustedFailure() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	code := "GENERATION_FAILED"
	job := s.existing(domain.JobStatusFailed, 3)
	job.WorkerID, job.LeaseUntil = nil, nil
	job.ErrorCode = &code
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)
	s.jobs.EXPECT().Save(ctx, job).Return(nil)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeUpdated, result.Outcome)
	s.Equal(domain.JobStatusQueued, job.Status)
	s.Equal(0, job.AttemptCount)
	s.Nil(job.ErrorCode)
}

func (s *IntakeServiceTestSuite) TestSubmit_RetryableFailureKeepsAttempts() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusFailed, 1)
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil)
	s.jobs.EXPECT().Save(ctx, job).Return(nil)

	_, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(1, job.AttemptCount)
	s.Equal(domain.JobStatusQueued, job.Status)
	s.Nil(job.LeaseUntil)
}

func (s *IntakeServiceTestSuite) TestSubmit_ConcurrentCreateFallsBackToUpdate() {
	ctx := context.Background()
	s.expectAllowed()
	s.expectTx()

	job := s.existing(domain.JobStatusQueued, 0)
	job.WorkerID, job.LeaseUntil = nil, nil

	gomock.InOrder(
		s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil),
		s.jobs.EXPECT().Insert(ctx, gomock.Any()).Return(domain.ErrDuplicateJob),
		s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(job, nil),
		s.jobs.EXPECT().Save(ctx, job).Return(nil),
	)

	result, err := s.service.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeUpdated, result.Outcome)
	s.Equal("job-1", result.JobID)
}

func (s *IntakeServiceTestSuite) TestSubmit_StoreErrorIsInternal() {
	ctx := context.Background()
	s.expectAllowed()
	s.txManager.EXPECT().WithTransaction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, errors.New("connection reset"))

	result, err := s.service.Submit(ctx, s.request())

	s.Nil(result)
	s.Error(err)
	s.Equal(CodeInternal, ErrorCode(err))
	s.Equal(domain.IntakeError, s.lastLogged().Outcome)
}

func (s *IntakeServiceTestSuite) TestSubmit_IntakeLogFailureIsSwallowed() {
	ctrl := gomock.NewController(s.T())
	intakeLog := mocks.NewMockIntakeLog(ctrl)
	intakeLog.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	svc := NewIntakeService(s.jobs, s.txManager, intakeLog, nil, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})), s.cfg)
	svc.now = func() time.Time { return s.now }

	ctx := context.Background()
	s.expectTx()
	s.jobs.EXPECT().GetForUpdate(ctx, "user-1", "2026-03-11").Return(nil, nil)
	s.jobs.EXPECT().Insert(ctx, gomock.Any()).Return(nil)

	result, err := svc.Submit(ctx, s.request())

	s.Require().NoError(err)
	s.Equal(domain.IntakeCreated, result.Outcome)
}

func (s *IntakeServiceTestSuite) TestCancel() {
	ctx := context.Background()

	s.Run("cancelled", func() {
		s.jobs.EXPECT().Cancel(ctx, "user-1", "2026-03-11", 3, s.now).Return(&domain.Job{ID: "job-1"}, nil)

		outcome, err := s.service.Cancel(ctx, "user-1", "2026-03-11")

		s.Require().NoError(err)
		s.Equal(CancelDone, outcome)
	})

	s.Run("not found", func() {
		s.jobs.EXPECT().Cancel(ctx, "user-1", "2026-03-11", 3, s.now).Return(nil, nil)
		s.jobs.EXPECT().Get(ctx, "user-1", "2026-03-11").Return(nil, nil)

		outcome, err := s.service.Cancel(ctx, "user-1", "2026-03-11")

		s.Require().NoError(err)
		s.Equal(CancelNotFound, outcome)
	})

	s.Run("welcome exempt", func() {
		s.jobs.EXPECT().Cancel(ctx, "user-1", "2026-03-11", 3, s.now).Return(nil, nil)
		s.jobs.EXPECT().Get(ctx, "user-1", "2026-03-11").Return(&domain.Job{ID: "job-1", IsWelcome: true, Priority: priority.Reserved}, nil)

		outcome, err := s.service.Cancel(ctx, "user-1", "2026-03-11")

		s.Require().NoError(err)
		s.Equal(CancelExempt, outcome)
	})

	s.Run("already finished", func() {
		s.jobs.EXPECT().Cancel(ctx, "user-1", "2026-03-11", 3, s.now).Return(nil, nil)
		s.jobs.EXPECT().Get(ctx, "user-1", "2026-03-11").Return(&domain.Job{ID: "job-1", Status: domain.JobStatusReady, Priority: priority.Normal}, nil)

		outcome, err := s.service.Cancel(ctx, "user-1", "2026-03-11")

		s.Require().NoError(err)
		s.Equal(CancelFinished, outcome)
	})
}

func (s *IntakeServiceTestSuite) TestHistory_ClampsLimit() {
	ctx := context.Background()
	entries := []domain.IntakeLogEntry{{RequestID: "r1", UserID: "user-1", Outcome: domain.IntakeCreated}}

	s.intakeLog.EXPECT().ListByUser(ctx, "user-1", DefaultHistoryLimit).Return(entries, nil)
	got, err := s.service.History(ctx, "user-1", 0)
	s.Require().NoError(err)
	s.Equal(entries, got)

	s.intakeLog.EXPECT().ListByUser(ctx, "user-1", MaxHistoryLimit).Return(nil, nil)
	_, err = s.service.History(ctx, "user-1", 10000)
	s.Require().NoError(err)

	s.intakeLog.EXPECT().ListByUser(ctx, "user-1", 7).Return(nil, nil)
	_, err = s.service.History(ctx, "user-1", 7)
	s.Require().NoError(err)
}

func (s *IntakeServiceTestSuite) TestHistory_StoreError() {
	ctx := context.Background()
	s.intakeLog.EXPECT().ListByUser(ctx, "user-1", 5).Return(nil, errors.New("timeout"))

	_, err := s.service.History(ctx, "user-1", 5)

	s.Error(err)
}

func TestPolicyFor_FallsBackToDefaults(t *testing.T) {
	p := policyFor(config.SchedulingConfig{LeadTime: time.Hour})

	assert.Equal(t, time.Hour, p.LeadTime)
	assert.Equal(t, priority.DefaultPolicy().UrgentWindow, p.UrgentWindow)
	assert.Equal(t, priority.DefaultPolicy().NormalWindow, p.NormalWindow)
}
