// Command worker drains the advisory document queue into structured alerts.
//
//	worker drain [--batch-size N]   process until the queue is empty, then exit
//	worker serve                     HTTP endpoints plus scheduled drains
//	worker migrate                   create tables and seed places from GAZETTEER_PATH
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/http"
	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/postgres"
	"github.com/couchcryptid/advisory-alert-etl/internal/config"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
	"github.com/couchcryptid/advisory-alert-etl/internal/pipeline"
	"github.com/couchcryptid/advisory-alert-etl/internal/places"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Turn queued disaster advisories into structured alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDrainCmd(), newServeCmd(), newMigrateCmd())
	return root
}

// bootstrap loads .env and configuration and builds the logger.
func bootstrap() (*config.Config, *slog.Logger, func() error, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, nil, err
	}
	logger, closeLog, err := observability.NewLogger(cfg)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		return nil, nil, nil, err
	}
	return cfg, logger, closeLog, nil
}

func newDrainCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process queued jobs until the queue is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck // best-effort on exit

			if batchSize <= 0 {
				batchSize = cfg.BatchSize
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, observability.NewMetrics())
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			sum, err := a.dispatcher.Run(ctx, batchSize)
			if err != nil {
				logger.Error("drain failed", "error", err)
				return err
			}
			if sum.Failed+sum.DeadLettered > 0 {
				logger.Warn("drain finished with failed jobs", "failed", sum.Failed, "dead_lettered", sum.DeadLettered)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "jobs per read and concurrency bound (default BATCH_SIZE)")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health and metrics endpoints and drain on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck // best-effort on exit

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, observability.NewMetrics())
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer a.Close()

			sched, err := pipeline.NewScheduler(ctx, cfg.DrainSchedule, a.dispatcher, cfg.BatchSize, logger)
			if err != nil {
				return err
			}

			ready := httpadapter.Readiness(a.queue, a.store)
			srv := httpadapter.NewServer(ctx, cfg.HTTPAddr, ready, a.dispatcher, cfg.BatchSize, logger)

			// Start HTTP server.
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "error", err)
				}
			}()

			sched.Start()
			logger.Info("drain scheduler started", "schedule", cfg.DrainSchedule, "batch_size", cfg.BatchSize)

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown error", "error", err)
			}
			select {
			case <-sched.Stop().Done():
			case <-shutdownCtx.Done():
				logger.Warn("drain still running at shutdown deadline")
			}

			logger.Info("shutdown complete")
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create database tables and seed reference places",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := bootstrap()
			if err != nil {
				return err
			}
			defer closeLog() //nolint:errcheck // best-effort on exit

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, 0)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := postgres.NewStore(pool)
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			logger.Info("schema migrated")

			if cfg.GazetteerPath == "" {
				logger.Info("GAZETTEER_PATH not set, skipping place seed")
				return nil
			}
			g, err := places.LoadGazetteerFile(cfg.GazetteerPath, cfg.FuzzyThreshold)
			if err != nil {
				return err
			}
			if err := store.SeedPlaces(ctx, g.Records()); err != nil {
				return fmt.Errorf("seed places: %w", err)
			}
			logger.Info("places seeded", "count", g.Len(), "path", cfg.GazetteerPath)
			return nil
		},
	}
}
