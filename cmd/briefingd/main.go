package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "briefingd",
	Short:        "Schedules, leases and serves daily audio briefing jobs",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")

	rootCmd.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newReclaimCmd(),
		newIngestCmd(),
		newCacheCmd(),
		newGCCmd(),
		newMigrateCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
