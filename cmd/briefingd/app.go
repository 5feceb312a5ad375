package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"briefing_scheduler/internal/artifact"
	"briefing_scheduler/internal/config"
	"briefing_scheduler/internal/generator"
	"briefing_scheduler/internal/publisher"
	"briefing_scheduler/internal/ratelimit"
	"briefing_scheduler/internal/service"
	"briefing_scheduler/internal/source/ecb"
	"briefing_scheduler/internal/storage/postgres"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB

	jobs      *postgres.JobStore
	cache     *postgres.ContentCacheStore
	intakeLog *postgres.IntakeLogStore
	txManager *postgres.TransactionManager

	publisher service.Publisher
	limiter   *ratelimit.Limiter
	gcs       *artifact.GCSStore

	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxConns)
	logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		jobs:      postgres.NewJobStore(db),
		cache:     postgres.NewContentCacheStore(db),
		intakeLog: postgres.NewIntakeLogStore(db),
		txManager: postgres.NewTransactionManager(db),
		closers:   []func() error{db.Close},
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// connectPublisher is a no-op when RabbitMQ is not configured.
func (a *app) connectPublisher() error {
	if a.cfg.RabbitMQ.URL == "" {
		a.logger.Info("rabbitmq not configured, job events disabled")
		return nil
	}
	pub, err := publisher.NewRabbitMQ(publisher.Config{
		URL:        a.cfg.RabbitMQ.URL,
		Exchange:   a.cfg.RabbitMQ.Exchange,
		RoutingKey: a.cfg.RabbitMQ.RoutingKey,
		QueueName:  a.cfg.RabbitMQ.QueueName,
	}, a.logger)
	if err != nil {
		return err
	}
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *app) connectLimiter(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.logger.Info("redis not configured, intake rate limiting disabled")
		return nil
	}
	limiter, err := ratelimit.NewLimiter(a.cfg.Redis.URL, a.cfg.RateLimit.Requests, a.cfg.RateLimit.Window)
	if err != nil {
		return err
	}
	if err := limiter.Ping(ctx); err != nil {
		limiter.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	a.limiter = limiter
	a.closers = append(a.closers, limiter.Close)
	return nil
}

func (a *app) connectArtifacts(ctx context.Context) error {
	if a.cfg.Artifacts.Bucket == "" {
		return nil
	}
	store, err := artifact.NewGCSStore(ctx, a.cfg.Artifacts.Bucket, a.cfg.Artifacts.CredentialsFile, a.cfg.Artifacts.SignedURLTTL, a.logger)
	if err != nil {
		return err
	}
	a.gcs = store
	a.closers = append(a.closers, store.Close)
	return nil
}

func (a *app) signer() service.ArtifactSigner {
	if a.gcs != nil {
		return a.gcs
	}
	return artifact.NewPublicStore(a.cfg.Artifacts.PublicBaseURL, a.cfg.Artifacts.SignedURLTTL)
}

// remover returns nil unless bucket deletion is enabled.
func (a *app) remover() service.ArtifactRemover {
	if a.gcs != nil && a.cfg.Retention.DeleteArtifacts {
		return a.gcs
	}
	return nil
}

func (a *app) rateLimiter() service.RateLimiter {
	if a.limiter != nil {
		return a.limiter
	}
	return nil
}

func (a *app) queueService() *service.QueueService {
	return service.NewQueueService(a.jobs, a.publisher, a.logger, a.cfg.Scheduling)
}

func (a *app) contentService() *service.ContentService {
	return service.NewContentService(a.cache, a.logger, a.cfg.Content)
}

func (a *app) workerService(queue *service.QueueService) *service.WorkerService {
	gen := generator.NewClient(a.cfg.Generator.BaseURL, a.cfg.Generator.Secret, a.cfg.Generator.Timeout, a.cfg.Generator.Stub, a.logger)
	return service.NewWorkerService(queue, a.cache, gen, a.logger, a.cfg.Worker)
}

func (a *app) ingestService(content *service.ContentService) *service.IngestService {
	var sources []service.ContentSource
	if ecbCfg := a.cfg.Ingest.ECB; ecbCfg.Enabled {
		sources = append(sources, ecb.New(ecb.Config{
			BaseURL:        ecbCfg.BaseURL,
			PageSize:       ecbCfg.PageSize,
			MaxPages:       ecbCfg.MaxPages,
			Timeout:        ecbCfg.Timeout,
			MaxAttempts:    ecbCfg.Retry.MaxAttempts,
			InitialBackoff: ecbCfg.Retry.InitialBackoff,
			MaxBackoff:     ecbCfg.Retry.MaxBackoff,
		}, a.logger))
	}
	return service.NewIngestService(sources, content, a.logger)
}

func (a *app) maintenanceService() *service.MaintenanceService {
	return service.NewMaintenanceService(a.jobs, a.remover(), a.logger, a.cfg.Retention)
}

// Check backs the /health endpoint.
func (a *app) Check(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return errors.New("database unreachable")
	}
	if a.limiter != nil {
		if err := a.limiter.Ping(ctx); err != nil {
			return errors.New("redis unreachable")
		}
	}
	return nil
}
