package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"briefing_scheduler/internal/domain"
)

// IngestService refreshes the content cache from upstream sources.
type IngestService struct {
	sources []ContentSource
	content *ContentService
	logger  *slog.Logger
}

func NewIngestService(sources []ContentSource, content *ContentService, logger *slog.Logger) *IngestService {
	return &IngestService{
		sources: sources,
		content: content,
		logger:  logger.With("component", "ingest"),
	}
}

// Refresh fetches one snapshot from every source and appends them to the
// cache in a single write. A failing or malformed source is logged and
// skipped; the rest still land.
func (s *IngestService) Refresh(ctx context.Context) (*domain.IngestStats, error) {
	startTime := time.Now()
	s.logger.Info("starting content refresh", "sources", len(s.sources))

	stats := &domain.IngestStats{Sources: len(s.sources)}
	batch := make([]Snapshot, 0, len(s.sources))

	for _, src := range s.sources {
		logger := s.logger.With("source", src.ID(), "content_type", src.ContentType())

		data, err := src.Fetch(ctx)
		if err != nil {
			stats.Errors++
			logger.Error("fetch failed", "error", err)
			continue
		}
		if !json.Valid(data) {
			stats.Errors++
			logger.Error("fetch returned malformed json", "bytes", len(data))
			continue
		}

		batch = append(batch, Snapshot{ContentType: src.ContentType(), Source: src.ID(), Data: data})
		logger.Debug("snapshot fetched", "bytes", len(data))
	}

	if len(batch) > 0 {
		if _, err := s.content.AppendBatch(ctx, batch); err != nil {
			stats.Errors += len(batch)
			s.logger.Error("store failed", "snapshots", len(batch), "error", err)
		} else {
			stats.Stored = len(batch)
		}
	}

	stats.Duration = time.Since(startTime)

	s.logger.Info("content refresh completed",
		"stored", stats.Stored,
		"errors", stats.Errors,
		"duration", stats.Duration,
	)

	if stats.Sources > 0 && stats.Stored == 0 {
		return stats, fmt.Errorf("refresh content: all %d sources failed", stats.Sources)
	}
	return stats, nil
}

// Run satisfies scheduler.Runner.
func (s *IngestService) Run(ctx context.Context) error {
	_, err := s.Refresh(ctx)
	return err
}
