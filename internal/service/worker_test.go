package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/service/mocks"
)

type WorkerServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	queue     *mocks.MockJobQueue
	content   *mocks.MockContentStore
	generator *mocks.MockGenerator

	service *WorkerService
	now     time.Time
}

func (s *WorkerServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.queue = mocks.NewMockJobQueue(s.ctrl)
	s.content = mocks.NewMockContentStore(s.ctrl)
	s.generator = mocks.NewMockGenerator(s.ctrl)
	s.now = time.Date(2026, 3, 11, 6, 20, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	queue := NewQueueService(s.queue, nil, logger, config.SchedulingConfig{
		LeaseDuration: 15 * time.Minute,
		MaxAttempts:   3,
	})
	queue.now = func() time.Time { return s.now }

	s.service = NewWorkerService(queue, s.content, s.generator, logger, config.WorkerConfig{
		Interval:          time.Minute,
		Concurrency:       1,
		GenerationTimeout: 50 * time.Millisecond,
		IDPrefix:          "worker",
		MaxJobsPerRun:     2,
	})
	s.service.now = func() time.Time { return s.now }
}

func (s *WorkerServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestWorkerServiceTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerServiceTestSuite))
}

func (s *WorkerServiceTestSuite) claimed(id string) *domain.Job {
	worker := "worker-a"
	lease := s.now.Add(15 * time.Minute)
	return &domain.Job{
		ID:           id,
		UserID:       "user-1",
		LocalDate:    "2026-03-11",
		Status:       domain.JobStatusProcessing,
		AttemptCount: 1,
		WorkerID:     &worker,
		LeaseUntil:   &lease,
		Preferences:  domain.Preferences{NewsCategories: []string{"world"}, SportsTeams: []string{"Arsenal"}},
	}
}

func (s *WorkerServiceTestSuite) TestRunOnce_CompletesJob() {
	ctx := context.Background()
	job := s.claimed("job-1")
	content := domain.FreshContent{
		domain.ContentNews: {{ID: 1, ContentType: domain.ContentNews, Source: "wire"}},
	}
	result := &domain.Result{Script: "Hello", AudioPath: "a.mp3", AudioDurationSeconds: 300}

	gomock.InOrder(
		s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil),
		s.content.EXPECT().Fresh(ctx, []domain.ContentType{domain.ContentNews, domain.ContentSports}, s.now).Return(content, nil),
		s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req domain.GenerationRequest) (*domain.Result, error) {
				s.Equal("job-1", req.JobID)
				s.Equal(1, req.Attempt)
				s.Equal(content, req.Content)
				return result, nil
			},
		),
		s.queue.EXPECT().Complete(gomock.Any(), job.Lease(), *result, s.now).Return(&domain.Job{ID: "job-1", Status: domain.JobStatusReady}, nil),
		s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil),
	)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(1, stats.Claimed)
	s.Equal(1, stats.Completed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_StopsAtLimit() {
	ctx := context.Background()
	result := &domain.Result{Script: "Hello"}

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(s.claimed("job-1"), nil)
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(s.claimed("job-2"), nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil).Times(2)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(result, nil).Times(2)
	s.queue.EXPECT().Complete(gomock.Any(), gomock.Any(), *result, s.now).Return(&domain.Job{Status: domain.JobStatusReady}, nil).Times(2)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(2, stats.Claimed)
	s.Equal(2, stats.Completed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_GenerationFailureIsReported() {
	ctx := context.Background()
	job := s.claimed("job-1")

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(nil, &domain.GenerationError{Code: "VOICE_UNAVAILABLE", Message: "voice missing"})
	s.queue.EXPECT().Fail(gomock.Any(), job.Lease(), domain.Failure{Code: "VOICE_UNAVAILABLE", Message: "voice missing"}, 3, s.now).
		Return(&domain.Job{ID: "job-1", Status: domain.JobStatusFailed, AttemptCount: 1}, nil)
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(1, stats.Failed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_GenerationTimeout() {
	ctx := context.Background()
	job := s.claimed("job-1")

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ domain.GenerationRequest) (*domain.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	)
	s.queue.EXPECT().Fail(gomock.Any(), job.Lease(), gomock.Any(), 3, s.now).DoAndReturn(
		func(_ context.Context, _ domain.Lease, failure domain.Failure, _ int, _ time.Time) (*domain.Job, error) {
			s.Equal(CodeGenerationTimeout, failure.Code)
			return &domain.Job{ID: "job-1", Status: domain.JobStatusFailed, AttemptCount: 1}, nil
		},
	)
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(1, stats.Failed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_CancelledMidGenerationIsDiscarded() {
	ctx := context.Background()
	job := s.claimed("job-1")

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(&domain.Result{Script: "late"}, nil)
	s.queue.EXPECT().Complete(gomock.Any(), job.Lease(), gomock.Any(), s.now).Return(nil, domain.ErrLeaseLost)
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(1, stats.Discarded)
	s.Zero(stats.Completed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_ContentErrorStillGenerates() {
	ctx := context.Background()
	job := s.claimed("job-1")

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(nil, errors.New("cache offline"))
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req domain.GenerationRequest) (*domain.Result, error) {
			s.Empty(req.Content)
			return &domain.Result{Script: "generic"}, nil
		},
	)
	s.queue.EXPECT().Complete(gomock.Any(), job.Lease(), gomock.Any(), s.now).Return(&domain.Job{Status: domain.JobStatusReady}, nil)
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(1, stats.Completed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_ClaimErrorStops() {
	ctx := context.Background()
	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(nil, errors.New("connection refused"))

	_, err := s.service.RunOnce(ctx, "worker-a")

	s.Error(err)
}

func (s *WorkerServiceTestSuite) TestRunOnce_ReportLandsAfterShutdown() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := s.claimed("job-1")

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(genCtx context.Context, _ domain.GenerationRequest) (*domain.Result, error) {
			cancel()
			<-genCtx.Done()
			return nil, genCtx.Err()
		},
	)
	s.queue.EXPECT().Fail(gomock.Any(), job.Lease(), gomock.Any(), 3, s.now).DoAndReturn(
		func(reportCtx context.Context, _ domain.Lease, failure domain.Failure, _ int, _ time.Time) (*domain.Job, error) {
			s.NoError(reportCtx.Err())
			_, hasDeadline := reportCtx.Deadline()
			s.True(hasDeadline)
			s.Equal(CodeWorkerStopped, failure.Code)
			return &domain.Job{ID: "job-1", Status: domain.JobStatusFailed, AttemptCount: 1}, nil
		},
	)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.ErrorIs(err, context.Canceled)
	s.Equal(1, stats.Failed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_CompletionLandsAfterBudgetExpires() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()
	job := s.claimed("job-1")
	result := &domain.Result{Script: "Hello"}

	s.queue.EXPECT().ClaimNext(ctx, "worker-a", s.now, 15*time.Minute, 3).Return(job, nil)
	s.content.EXPECT().Fresh(ctx, gomock.Any(), s.now).Return(domain.FreshContent{}, nil)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.GenerationRequest) (*domain.Result, error) {
			cancel()
			return result, nil
		},
	)
	s.queue.EXPECT().Complete(gomock.Any(), job.Lease(), *result, s.now).DoAndReturn(
		func(reportCtx context.Context, _ domain.Lease, _ domain.Result, _ time.Time) (*domain.Job, error) {
			s.NoError(reportCtx.Err())
			return &domain.Job{ID: "job-1", Status: domain.JobStatusReady}, nil
		},
	)

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.ErrorIs(err, context.Canceled)
	s.Equal(1, stats.Completed)
}

func (s *WorkerServiceTestSuite) TestRunOnce_NoClaimWhenBudgetShort() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	stats, err := s.service.RunOnce(ctx, "worker-a")

	s.Require().NoError(err)
	s.Zero(stats.Claimed)
}

func (s *WorkerServiceTestSuite) TestRunTimeout_CoversEveryJobInRun() {
	s.Equal(2*50*time.Millisecond+time.Minute, s.service.RunTimeout())
}

func (s *WorkerServiceTestSuite) TestDrain_RepeatsUntilQueueIsEmpty() {
	ctx := context.Background()
	result := &domain.Result{Script: "Hello"}

	gomock.InOrder(
		s.queue.EXPECT().ClaimNext(gomock.Any(), "worker-a", s.now, 15*time.Minute, 3).Return(s.claimed("job-1"), nil),
		s.queue.EXPECT().ClaimNext(gomock.Any(), "worker-a", s.now, 15*time.Minute, 3).Return(s.claimed("job-2"), nil),
		s.queue.EXPECT().ClaimNext(gomock.Any(), "worker-a", s.now, 15*time.Minute, 3).Return(s.claimed("job-3"), nil),
		s.queue.EXPECT().ClaimNext(gomock.Any(), "worker-a", s.now, 15*time.Minute, 3).Return(nil, nil),
	)
	s.content.EXPECT().Fresh(gomock.Any(), gomock.Any(), s.now).Return(domain.FreshContent{}, nil).Times(3)
	s.generator.EXPECT().Generate(gomock.Any(), gomock.Any()).Return(result, nil).Times(3)
	s.queue.EXPECT().Complete(gomock.Any(), gomock.Any(), *result, s.now).Return(&domain.Job{Status: domain.JobStatusReady}, nil).Times(3)

	stats, err := s.service.Drain(ctx, "worker-a")

	s.Require().NoError(err)
	s.Equal(3, stats.Claimed)
	s.Equal(3, stats.Completed)
}

func (s *WorkerServiceTestSuite) TestNewWorkerID() {
	a, b := s.service.NewWorkerID(), s.service.NewWorkerID()

	s.True(strings.HasPrefix(a, "worker-"))
	s.NotEqual(a, b)
}

func (s *WorkerServiceTestSuite) TestRun_StopsOnCancel() {
	ctx, cancel := context.WithCancel(context.Background())
	s.queue.EXPECT().ClaimNext(gomock.Any(), gomock.Any(), s.now, 15*time.Minute, 3).DoAndReturn(
		func(context.Context, string, time.Time, time.Duration, int) (*domain.Job, error) {
			cancel()
			return nil, nil
		},
	).MinTimes(1)

	s.NoError(s.service.Run(ctx))
}
