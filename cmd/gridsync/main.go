package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gridsync/internal/api"
	"gridsync/internal/browser"
	"gridsync/internal/chrono"
	"gridsync/internal/config"
	"gridsync/internal/domain"
	"gridsync/internal/monitoring"
	"gridsync/internal/pipeline"
	"gridsync/internal/scheduler"
	"gridsync/internal/storage"
	"gridsync/pkg/logger"
)

// app wires every component from configuration. Commands pick the pieces
// they need.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	pg       *storage.PostgresStore
	redis    *storage.RedisStore
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	pipeline *pipeline.Pipeline
	verifier *pipeline.Verifier
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, err
	}
	redis := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)
	clock := chrono.System{}

	driver := browser.NewDriver(cfg, clock, log)
	opener := pipeline.OpenerFunc(func(ctx context.Context) (pipeline.GridSession, error) {
		return driver.Open(ctx)
	})

	return &app{
		cfg:      cfg,
		log:      log,
		pg:       pg,
		redis:    redis,
		registry: registry,
		metrics:  metrics,
		pipeline: pipeline.New(cfg, opener, pg, redis, clock, metrics, log),
		verifier: pipeline.NewVerifier(cfg, opener, pg, clock, metrics, log),
	}, nil
}

func (a *app) Close() {
	a.pg.Close()
	if err := a.redis.Close(); err != nil {
		a.log.Warn("redis close failed", zap.Error(err))
	}
	_ = a.log.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gridsync",
		Short:         "Extracts a filtered web grid into Postgres on a schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newRunCmd(), newVerifyCmd(), newMigrateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.New(a.pipeline, a.cfg.RunSchedule, a.cfg.DateRangeDays, a.log)
			if err != nil {
				return err
			}
			sched.Start()

			server := api.NewServer(a.cfg, api.Deps{
				Runner:   a.pipeline,
				Registry: a.redis,
				Records:  a.pg,
				Postgres: a.pg,
				Redis:    a.redis,
			}, a.registry, a.metrics, a.log)

			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					a.log.Fatal("could not start server", zap.Error(err))
				}
			}()
			a.log.Info("server started", zap.String("port", a.cfg.ServerPort))

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			a.log.Info("shutting down...")
			sched.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			shutdownErr := server.Shutdown(ctx)

			// Runs accepted over the API finish their transaction before we
			// exit, same as scheduled runs drained by sched.Stop.
			server.WaitForRuns()
			if shutdownErr != nil {
				return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
			}
			a.log.Info("server exiting")
			return nil
		},
	}
}

func newRunCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one extraction run and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.pipeline.Run(cmd.Context(), days)
			if result.Outcome != domain.OutcomeSuccess {
				return fmt.Errorf("run failed at stage %s: %w", result.FailedStage, result.Err)
			}
			fmt.Printf("run finished: seen=%d skipped=%d inserted=%d updated=%d attempts=%d\n",
				result.RecordsSeen, result.RecordsSkipped, result.Inserted, result.Updated, result.Attempts)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "extraction window in days (0 uses DATE_RANGE_DAYS)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-check stored statuses against the live grid and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.verifier.Run(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Printf("verify finished: checked=%d updated=%d unchanged=%d failed=%d\n",
				summary.Checked, summary.Updated, summary.Unchanged, summary.Failed)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "verification window in days (0 uses DATE_RANGE_DAYS)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.pg.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
