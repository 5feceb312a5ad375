package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"briefing_scheduler/internal/api"
	"briefing_scheduler/internal/domain"
	"briefing_scheduler/internal/scheduler"
	"briefing_scheduler/internal/service"
	"briefing_scheduler/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	var withWorker, withLoops bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, optionally with the worker and background loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectPublisher(); err != nil {
				return err
			}
			if err := a.connectLimiter(ctx); err != nil {
				return err
			}
			if err := a.connectArtifacts(ctx); err != nil {
				return err
			}

			queue := a.queueService()
			content := a.contentService()
			intake := service.NewIntakeService(a.jobs, a.txManager, a.intakeLog, a.rateLimiter(), a.logger, a.cfg.Scheduling)
			status := service.NewStatusService(a.jobs, a.signer(), a.cfg.Scheduling.MaxAttempts, a.logger)

			router := api.NewRouter(api.RouterConfig{
				Briefings:     api.NewBriefingHandler(intake, status, a.logger),
				Jobs:          api.NewJobHandler(queue, a.logger),
				Content:       api.NewContentHandler(content, a.logger),
				Health:        a,
				InternalToken: a.cfg.HTTP.InternalToken,
				Logger:        a.logger,
			})
			srv := &http.Server{
				Addr:              a.cfg.HTTP.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				a.logger.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
				defer cancel()
				a.logger.Info("shutting down http server")
				return srv.Shutdown(shutdownCtx)
			})

			if withWorker {
				worker := a.workerService(queue)
				g.Go(func() error { return worker.Run(gctx) })
			}
			if withLoops {
				for _, loop := range a.loops(queue, content) {
					g.Go(func() error { return ignoreCanceled(loop.Start(gctx)) })
				}
			}

			return ignoreCanceled(g.Wait())
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "run in-process generation workers")
	cmd.Flags().BoolVar(&withLoops, "with-loops", false, "run the reclaim, ingest, cache cleanup and gc loops")
	return cmd
}

// loops returns every periodic maintenance loop.
func (a *app) loops(queue *service.QueueService, content *service.ContentService) []*scheduler.Scheduler {
	return []*scheduler.Scheduler{
		scheduler.New("reclaim", queue, a.cfg.Reclaimer.Interval, a.cfg.Reclaimer.Interval, a.logger),
		scheduler.New("ingest", a.ingestService(content), a.cfg.Ingest.Interval, a.cfg.Ingest.Interval, a.logger),
		scheduler.New("cache_cleanup", content, a.cfg.Content.CleanupInterval, a.cfg.Content.CleanupInterval, a.logger),
		scheduler.New("gc", a.maintenanceService(), a.cfg.Retention.Interval, a.cfg.Retention.Interval, a.logger),
	}
}

func newWorkerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Claim and generate briefing jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectPublisher(); err != nil {
				return err
			}
			worker := a.workerService(a.queueService())

			if !once {
				a.logger.Info("starting workers", "concurrency", a.cfg.Worker.Concurrency, "interval", a.cfg.Worker.Interval)
				return worker.Run(ctx)
			}

			stats, err := worker.Drain(ctx, worker.NewWorkerID())
			if err != nil {
				return err
			}
			fmt.Printf("claimed=%d completed=%d failed=%d discarded=%d\n", stats.Claimed, stats.Completed, stats.Failed, stats.Discarded)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "claim until no eligible job is left, then exit")
	return cmd
}

func newReclaimCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Release expired job leases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectPublisher(); err != nil {
				return err
			}
			queue := a.queueService()

			if !once {
				interval := a.cfg.Reclaimer.Interval
				return ignoreCanceled(scheduler.New("reclaim", queue, interval, interval, a.logger).Start(ctx))
			}

			stats, err := queue.Reclaim(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("requeued=%d failed=%d\n", len(stats.Requeued), len(stats.Failed))
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func newIngestCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Refresh the content cache from configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ingest := a.ingestService(a.contentService())

			if !once {
				interval := a.cfg.Ingest.Interval
				return ignoreCanceled(scheduler.New("ingest", ingest, interval, interval, a.logger).Start(ctx))
			}

			stats, err := ingest.Refresh(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("sources=%d stored=%d errors=%d\n", stats.Sources, stats.Stored, stats.Errors)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "refresh once and exit")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the content cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired content entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.contentService().Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("deleted=%d\n", deleted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report content freshness and job counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.contentService().Freshness(ctx)
			if err != nil {
				return err
			}
			counts, err := a.jobs.CountByStatus(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSTATE\tAGE\tSOURCES")
			for _, f := range report {
				age := "-"
				if f.NewestAt != nil {
					age = f.Age.Round(time.Minute).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", f.ContentType, f.State, age, f.ActiveSources)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "STATUS\tJOBS")
			for _, st := range []domain.JobStatus{domain.JobStatusQueued, domain.JobStatusProcessing, domain.JobStatusReady, domain.JobStatusFailed, domain.JobStatusCancelled} {
				fmt.Fprintf(w, "%s\t%d\n", st, counts[st])
			}
			return w.Flush()
		},
	})

	return cmd
}

func newGCCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Release old audio and delete old jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectArtifacts(ctx); err != nil {
				return err
			}
			gc := a.maintenanceService()

			if !once {
				interval := a.cfg.Retention.Interval
				return ignoreCanceled(scheduler.New("gc", gc, interval, interval, a.logger).Start(ctx))
			}

			stats, err := gc.Collect(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("artifacts_cleared=%d delete_errors=%d jobs_deleted=%d\n", len(stats.ArtifactsCleared), stats.DeleteErrors, stats.JobsDeleted)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			changed, err := postgres.Migrate(a.db)
			if err != nil {
				return err
			}
			a.logger.Info("migrations applied", "changed", changed)
			return nil
		},
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
