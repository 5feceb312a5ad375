package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/domain"
)

type ContentService struct {
	store  ContentStore
	config config.ContentConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewContentService(store ContentStore, logger *slog.Logger, cfg config.ContentConfig) *ContentService {
	return &ContentService{
		store:  store,
		config: cfg,
		logger: logger.With("component", "content"),
		now:    time.Now,
	}
}

// Snapshot is one fetched payload waiting to be cached.
type Snapshot struct {
	ContentType domain.ContentType
	Source      string
	Data        json.RawMessage
}

func (s *ContentService) newEntry(snap Snapshot, now time.Time) (*domain.ContentEntry, error) {
	if snap.Source == "" {
		return nil, &ValidationError{Fields: []string{"field 'source' failed on the 'required' tag"}}
	}
	if !json.Valid(snap.Data) {
		return nil, &ValidationError{Fields: []string{"field 'data' failed on the 'json' tag"}}
	}
	return &domain.ContentEntry{
		ContentType: snap.ContentType,
		Source:      snap.Source,
		Data:        snap.Data,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.ContentTTL(string(snap.ContentType))),
	}, nil
}

// Append stores a new snapshot for (contentType, source) that stays fresh
// for the configured TTL of its type.
func (s *ContentService) Append(ctx context.Context, contentType domain.ContentType, source string, data json.RawMessage) (*domain.ContentEntry, error) {
	entry, err := s.newEntry(Snapshot{ContentType: contentType, Source: source, Data: data}, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append content: %w", err)
	}

	s.logger.Debug("content stored", "content_type", contentType, "source", source, "id", entry.ID, "expires_at", entry.ExpiresAt)
	return entry, nil
}

// AppendBatch validates every snapshot and stores them in one write with a
// shared creation time. Nothing is stored if any snapshot is invalid.
func (s *ContentService) AppendBatch(ctx context.Context, snapshots []Snapshot) ([]domain.ContentEntry, error) {
	if len(snapshots) == 0 {
		return nil, nil
	}

	now := s.now().UTC()
	entries := make([]domain.ContentEntry, 0, len(snapshots))
	for _, snap := range snapshots {
		entry, err := s.newEntry(snap, now)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s/%s: %w", snap.ContentType, snap.Source, err)
		}
		entries = append(entries, *entry)
	}

	if err := s.store.AppendBatch(ctx, entries); err != nil {
		return nil, fmt.Errorf("append content batch: %w", err)
	}
	s.logger.Debug("content batch stored", "entries", len(entries))
	return entries, nil
}

// Fresh returns the newest unexpired snapshot of each source for the given
// types. Types with nothing fresh are absent from the result.
func (s *ContentService) Fresh(ctx context.Context, types []domain.ContentType) (domain.FreshContent, error) {
	content, err := s.store.Fresh(ctx, types, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("read fresh content: %w", err)
	}
	return content, nil
}

// Cleanup deletes expired snapshots.
func (s *ContentService) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired content: %w", err)
	}
	s.logger.Info("content cache cleaned", "deleted", deleted)
	return deleted, nil
}

// Run satisfies scheduler.Runner.
func (s *ContentService) Run(ctx context.Context) error {
	_, err := s.Cleanup(ctx)
	return err
}

// Freshness reports the age of the newest fresh snapshot of every content
// type, classified against the warn and stale thresholds.
func (s *ContentService) Freshness(ctx context.Context) ([]domain.TypeFreshness, error) {
	now := s.now().UTC()
	newest, err := s.store.NewestPerType(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("read content freshness: %w", err)
	}

	report := make([]domain.TypeFreshness, 0, len(domain.ContentTypes))
	for _, t := range domain.ContentTypes {
		f, ok := newest[t]
		if !ok || f.NewestAt == nil {
			report = append(report, domain.TypeFreshness{ContentType: t, State: domain.FreshnessMissing})
			continue
		}

		f.ContentType = t
		f.Age = now.Sub(*f.NewestAt)
		switch {
		case f.Age >= s.config.StaleAfter:
			f.State = domain.FreshnessStale
		case f.Age >= s.config.WarnAfter:
			f.State = domain.FreshnessWarn
		default:
			f.State = domain.FreshnessFresh
		}
		if f.State != domain.FreshnessFresh {
			s.logger.Warn("content is getting old", "content_type", t, "age", f.Age, "state", f.State)
		}
		report = append(report, f)
	}
	return report, nil
}
