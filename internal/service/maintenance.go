package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"briefing_scheduler/internal/config"
)

// GCStats describes one retention sweep.
type GCStats struct {
	ArtifactsCleared []string
	DeleteErrors     int
	JobsDeleted      int64
	Duration         time.Duration
}

// MaintenanceService enforces retention: old audio is released first, old
// job rows are deleted after.
type MaintenanceService struct {
	janitor JobJanitor
	remover ArtifactRemover
	config  config.RetentionConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewMaintenanceService builds the retention sweep. remover may be nil, in
// which case cleared audio is only detached from its job.
func NewMaintenanceService(janitor JobJanitor, remover ArtifactRemover, logger *slog.Logger, cfg config.RetentionConfig) *MaintenanceService {
	return &MaintenanceService{
		janitor: janitor,
		remover: remover,
		config:  cfg,
		logger:  logger.With("component", "gc"),
		now:     time.Now,
	}
}

func (s *MaintenanceService) Collect(ctx context.Context) (*GCStats, error) {
	start := time.Now()
	now := s.now().UTC()
	stats := &GCStats{}

	paths, err := s.janitor.ClearArtifacts(ctx, now.Add(-s.config.Artifacts), now)
	if err != nil {
		return nil, fmt.Errorf("clear artifacts: %w", err)
	}
	stats.ArtifactsCleared = paths

	if s.remover != nil {
		for _, path := range paths {
			if err := s.remover.Delete(ctx, path); err != nil {
				stats.DeleteErrors++
				s.logger.Warn("failed to delete artifact", "path", path, "error", err)
			}
		}
	}

	deleted, err := s.janitor.DeleteCreatedBefore(ctx, now.Add(-s.config.Jobs))
	if err != nil {
		return stats, fmt.Errorf("delete old jobs: %w", err)
	}
	stats.JobsDeleted = deleted
	stats.Duration = time.Since(start)

	s.logger.Info("retention sweep completed",
		"artifacts_cleared", len(stats.ArtifactsCleared),
		"delete_errors", stats.DeleteErrors,
		"jobs_deleted", stats.JobsDeleted,
		"duration", stats.Duration,
	)
	return stats, nil
}

// Run satisfies scheduler.Runner.
func (s *MaintenanceService) Run(ctx context.Context) error {
	_, err := s.Collect(ctx)
	return err
}
