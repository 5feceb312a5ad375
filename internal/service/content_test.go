package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/service/mocks"
)

type ContentServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	store   *mocks.MockContentStore
	service *ContentService
	now     time.Time
}

func (s *ContentServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockContentStore(s.ctrl)
	s.now = time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.service = NewContentService(s.store, logger, config.ContentConfig{
		DefaultTTL: 12 * time.Hour,
		TTL:        map[string]time.Duration{"stocks": 30 * time.Minute},
		WarnAfter:  6 * time.Hour,
		StaleAfter: 12 * time.Hour,
	})
	s.service.now = func() time.Time { return s.now }
}

func (s *ContentServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestContentServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ContentServiceTestSuite))
}

func (s *ContentServiceTestSuite) TestAppend_UsesTypeTTL() {
	ctx := context.Background()
	data := json.RawMessage(`{"AAPL": 187.2}`)

	s.store.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.ContentEntry) error {
			s.Equal(domain.ContentStocks, entry.ContentType)
			s.Equal("quotes", entry.Source)
			s.Equal(s.now, entry.CreatedAt)
			s.Equal(s.now.Add(30*time.Minute), entry.ExpiresAt)
			entry.ID = 42
			return nil
		},
	)

	entry, err := s.service.Append(ctx, domain.ContentStocks, "quotes", data)

	s.Require().NoError(err)
	s.Equal(int64(42), entry.ID)
}

func (s *ContentServiceTestSuite) TestAppend_DefaultTTL() {
	ctx := context.Background()

	s.store.EXPECT().Append(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, entry *domain.ContentEntry) error {
			s.Equal(s.now.Add(12*time.Hour), entry.ExpiresAt)
			return nil
		},
	)

	_, err := s.service.Append(ctx, domain.ContentNews, "wire", json.RawMessage(`[]`))

	s.NoError(err)
}

func (s *ContentServiceTestSuite) TestAppend_RejectsBadInput() {
	_, err := s.service.Append(context.Background(), domain.ContentNews, "", json.RawMessage(`[]`))
	var verr *ValidationError
	s.ErrorAs(err, &verr)

	_, err = s.service.Append(context.Background(), domain.ContentNews, "wire", json.RawMessage(`{broken`))
	s.ErrorAs(err, &verr)
}

func (s *ContentServiceTestSuite) TestAppendBatch_StampsEachTypeTTL() {
	ctx := context.Background()

	s.store.EXPECT().AppendBatch(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, entries []domain.ContentEntry) error {
			s.Require().Len(entries, 2)
			s.Equal(s.now.Add(30*time.Minute), entries[0].ExpiresAt)
			s.Equal(s.now.Add(12*time.Hour), entries[1].ExpiresAt)
			return nil
		},
	)

	entries, err := s.service.AppendBatch(ctx, []Snapshot{
		{ContentType: domain.ContentStocks, Source: "quotes", Data: json.RawMessage(`{}`)},
		{ContentType: domain.ContentNews, Source: "wire", Data: json.RawMessage(`[]`)},
	})

	s.Require().NoError(err)
	s.Len(entries, 2)
}

func (s *ContentServiceTestSuite) TestAppendBatch_InvalidSnapshotStoresNothing() {
	_, err := s.service.AppendBatch(context.Background(), []Snapshot{
		{ContentType: domain.ContentNews, Source: "wire", Data: json.RawMessage(`[]`)},
		{ContentType: domain.ContentNews, Source: "", Data: json.RawMessage(`[]`)},
	})

	var verr *ValidationError
	s.ErrorAs(err, &verr)
}

func (s *ContentServiceTestSuite) TestAppendBatch_Empty() {
	entries, err := s.service.AppendBatch(context.Background(), nil)

	s.NoError(err)
	s.Empty(entries)
}

func (s *ContentServiceTestSuite) TestFresh_PassesThrough() {
	ctx := context.Background()
	want := domain.FreshContent{domain.ContentNews: {{ID: 1, Source: "wire"}, {ID: 2, Source: "feed"}}}

	s.store.EXPECT().Fresh(ctx, []domain.ContentType{domain.ContentNews, domain.ContentStocks}, s.now).Return(want, nil)

	got, err := s.service.Fresh(ctx, []domain.ContentType{domain.ContentNews, domain.ContentStocks})

	s.Require().NoError(err)
	s.Equal(want, got)
}

func (s *ContentServiceTestSuite) TestCleanup() {
	ctx := context.Background()
	s.store.EXPECT().DeleteExpired(ctx, s.now).Return(int64(7), nil)

	deleted, err := s.service.Cleanup(ctx)

	s.Require().NoError(err)
	s.Equal(int64(7), deleted)
}

func (s *ContentServiceTestSuite) TestCleanup_Error() {
	ctx := context.Background()
	s.store.EXPECT().DeleteExpired(ctx, s.now).Return(int64(0), errors.New("locked"))

	s.Error(s.service.Run(ctx))
}

func (s *ContentServiceTestSuite) TestFreshness_ClassifiesEveryType() {
	ctx := context.Background()
	newsAt := s.now.Add(-time.Hour)
	stocksAt := s.now.Add(-7 * time.Hour)

	s.store.EXPECT().NewestPerType(ctx, s.now).Return(map[domain.ContentType]domain.TypeFreshness{
		domain.ContentNews:   {NewestAt: &newsAt, ActiveSources: 2},
		domain.ContentStocks: {NewestAt: &stocksAt, ActiveSources: 1},
	}, nil)

	report, err := s.service.Freshness(ctx)

	s.Require().NoError(err)
	s.Require().Len(report, 3)

	s.Equal(domain.ContentNews, report[0].ContentType)
	s.Equal(domain.FreshnessFresh, report[0].State)
	s.Equal(time.Hour, report[0].Age)
	s.Equal(2, report[0].ActiveSources)

	s.Equal(domain.FreshnessWarn, report[1].State)

	s.Equal(domain.ContentSports, report[2].ContentType)
	s.Equal(domain.FreshnessMissing, report[2].State)
}

func (s *ContentServiceTestSuite) TestFreshness_Stale() {
	ctx := context.Background()
	sportsAt := s.now.Add(-13 * time.Hour)

	s.store.EXPECT().NewestPerType(ctx, s.now).Return(map[domain.ContentType]domain.TypeFreshness{
		domain.ContentSports: {NewestAt: &sportsAt, ActiveSources: 0},
	}, nil)

	report, err := s.service.Freshness(ctx)

	s.Require().NoError(err)
	s.Equal(domain.FreshnessStale, report[2].State)
}
