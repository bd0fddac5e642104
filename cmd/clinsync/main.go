package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinsync/clinsync/internal/config"
	"github.com/clinsync/clinsync/internal/domain/audit"
	"github.com/clinsync/clinsync/internal/domain/metrics"
	"github.com/clinsync/clinsync/internal/domain/record"
	"github.com/clinsync/clinsync/internal/domain/sync"
	"github.com/clinsync/clinsync/internal/platform/db"
	"github.com/clinsync/clinsync/internal/platform/middleware"
	"github.com/clinsync/clinsync/internal/platform/source"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinsync",
		Short: "Patient record sync pipeline",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(rollupCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles the wired services shared by the serve and sync commands.
type app struct {
	cfg     *config.Config
	pool    *pgxpool.Pool
	log     zerolog.Logger
	batches *sync.BatchRepoPG
	records *record.PatientRecordRepoPG
	audits  *audit.AuditRepoPG
	rollups *metrics.Service
	orch    *sync.Orchestrator
}

func newApp(ctx context.Context) (*app, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	batchRepo := sync.NewBatchRepoPG(pool)
	recordRepo := record.NewPatientRecordRepoPG(pool)
	auditRepo := audit.NewAuditRepoPG(pool)
	metricsRepo := metrics.NewMetricsRepoPG(pool)

	auditor := audit.NewLogger(auditRepo, logger)
	rollups := metrics.NewService(pool, metricsRepo, recordRepo, auditRepo, logger)

	fetcher := source.NewClient(
		source.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeoutDuration()}),
		source.WithInterval(cfg.FetchIntervalDuration()),
		source.WithRetries(cfg.FetchRetries),
		source.WithToken(cfg.SourceToken),
		source.WithLogger(logger),
	)

	orch := sync.NewOrchestrator(
		batchRepo, recordRepo, fetcher, rollups, auditor,
		cfg.ScoreWorkers, logger,
	)

	return &app{
		cfg:     cfg,
		pool:    pool,
		log:     logger,
		batches: batchRepo,
		records: recordRepo,
		audits:  auditRepo,
		rollups: rollups,
		orch:    orch,
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the sync API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.log))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.log))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))

	sync.NewHandler(a.orch).RegisterRoutes(apiV1)
	record.NewHandler(record.NewService(a.records)).RegisterRoutes(apiV1)
	audit.NewHandler(audit.NewService(a.audits)).RegisterRoutes(apiV1)
	metrics.NewHandler(a.rollups).RegisterRoutes(apiV1)

	go func() {
		a.log.Info().Str("port", a.cfg.Port).Msg("server listening")
		if err := e.Start(":" + a.cfg.Port); err != nil && err != http.ErrServerClosed {
			a.log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.log.Fatal().Err(err).Msg("server shutdown failed")
	}
	a.log.Info().Msg("server stopped")
	return nil
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run and manage extraction batches",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a batch and run it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint, _ := cmd.Flags().GetString("endpoint")
			sourceSystem, _ := cmd.Flags().GetString("source")
			pageSize, _ := cmd.Flags().GetInt("page-size")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if endpoint == "" {
				endpoint = a.cfg.SourceEndpoint
			}
			if sourceSystem == "" {
				sourceSystem = a.cfg.SourceSystem
			}
			if pageSize <= 0 {
				pageSize = a.cfg.PageSize
			}

			b, err := a.orch.StartBatch(ctx, sync.SourceConfig{
				Endpoint:     endpoint,
				SourceSystem: sourceSystem,
				PageSize:     pageSize,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Batch %s started for %s\n", b.ID, b.SourceSystem)

			cancelOnSignal(a, b.ID)
			if err := a.orch.RunToCompletion(ctx, b.ID); err != nil {
				return err
			}
			return printBatch(ctx, a, b.ID)
		},
	}
	runCmd.Flags().String("endpoint", "", "Source API base endpoint (defaults to SOURCE_ENDPOINT)")
	runCmd.Flags().String("source", "", "Source system name (defaults to SOURCE_SYSTEM)")
	runCmd.Flags().Int("page-size", 0, "Records per page (defaults to PAGE_SIZE)")
	cmd.AddCommand(runCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Resume a failed or cancelled batch from its preserved cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.orch.Resume(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Batch %s resumed at page %d\n", b.ID, b.LastProcessedPage+1)

			cancelOnSignal(a, b.ID)
			if err := a.orch.RunToCompletion(ctx, b.ID); err != nil {
				return err
			}
			return printBatch(ctx, a, b.ID)
		},
	}
	cmd.AddCommand(resumeCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Ask a running batch to stop at the next page boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orch.RequestCancel(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Cancellation requested for batch %s\n", id)
			return nil
		},
	}
	cmd.AddCommand(cancelCmd)

	statusCmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show a batch's progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return printBatch(ctx, a, id)
		},
	}
	cmd.AddCommand(statusCmd)

	return cmd
}

// cancelOnSignal turns the first SIGINT/SIGTERM into a graceful cancel so the
// batch finishes its current page and records a resumable cursor.
func cancelOnSignal(a *app, batchID uuid.UUID) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		a.log.Info().Str("batch_id", batchID.String()).Msg("signal received, cancelling batch")
		if err := a.orch.RequestCancel(context.Background(), batchID); err != nil {
			a.log.Warn().Err(err).Msg("cancel request failed")
		}
	}()
}

func printBatch(ctx context.Context, a *app, id uuid.UUID) error {
	b, err := a.orch.GetBatch(ctx, id)
	if err != nil {
		return err
	}

	fmt.Printf("Batch:      %s\n", b.ID)
	fmt.Printf("Source:     %s\n", b.SourceSystem)
	fmt.Printf("Status:     %s\n", b.Status)
	fmt.Printf("Pages:      %d\n", b.LastProcessedPage)
	fmt.Printf("Records:    %d total, %d successful, %d failed\n",
		b.TotalRecords, b.SuccessfulRecords, b.FailedRecords)
	if b.ErrorMessage != nil {
		fmt.Printf("Error:      %s\n", *b.ErrorMessage)
	}
	if b.NextCursor != nil {
		fmt.Printf("Cursor:     %s\n", *b.NextCursor)
	}
	return nil
}

func rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Recompute the quality metrics rollup for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceSystem, _ := cmd.Flags().GetString("source")
			date, _ := cmd.Flags().GetString("date")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if sourceSystem == "" {
				sourceSystem = a.cfg.SourceSystem
			}
			if sourceSystem == "" {
				return fmt.Errorf("--source or SOURCE_SYSTEM is required")
			}

			day := time.Now().UTC()
			if date != "" {
				day, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
				}
			}

			agg, err := a.rollups.Rollup(ctx, day, sourceSystem)
			if err != nil {
				return err
			}

			fmt.Printf("Rollup for %s on %s:\n", agg.SourceSystem, agg.MetricDate.Format("2006-01-02"))
			fmt.Printf("  Records:  %d (avg score %.3f)\n", agg.TotalRecords, agg.AverageScore)
			fmt.Printf("  Tiers:    %d high, %d medium, %d low\n", agg.HighCount, agg.MediumCount, agg.LowCount)
			fmt.Printf("  Outcomes: %d errors, %d warnings\n", agg.ErrorCount, agg.WarningCount)
			return nil
		},
	}
	cmd.Flags().String("source", "", "Source system name (defaults to SOURCE_SYSTEM)")
	cmd.Flags().String("date", "", "Period date YYYY-MM-DD (defaults to today)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				applied := "-"
				if s.AppliedAt != nil {
					applied = s.AppliedAt.Format(time.RFC3339)
				}
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, state, applied)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}
