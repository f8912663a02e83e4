package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/scheduler/internal/config"
	"github.com/carelink/scheduler/internal/domain/appointment"
	"github.com/carelink/scheduler/internal/domain/availability"
	"github.com/carelink/scheduler/internal/domain/reminder"
	"github.com/carelink/scheduler/internal/jobs"
	"github.com/carelink/scheduler/internal/platform/db"
	"github.com/carelink/scheduler/internal/platform/joblimit"
	"github.com/carelink/scheduler/internal/platform/middleware"
	"github.com/carelink/scheduler/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler-server",
		Short: "Appointment scheduling API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Job rate limiter: Redis-backed when REDIS_URL is set, in-memory
	// otherwise.
	limiter, err := joblimit.New(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure job limiter")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", middleware.CronSecretHeader},
	}))

	// API group
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	// Notification channels. Real providers plug in per channel; everything
	// unconfigured logs instead of delivering.
	notifySvc := notification.NewService(notification.NewTemplateEngine())
	for _, ch := range []notification.Channel{
		notification.ChannelEmail,
		notification.ChannelSMS,
		notification.ChannelPush,
		notification.ChannelInApp,
	} {
		notifySvc.Register(ch, notification.NewLogSender(ch, logger))
	}

	// Repositories
	apptRepo := appointment.NewRepoPG(pool)
	ruleRepo := availability.NewRuleRepoPG(pool)
	blackoutRepo := availability.NewBlackoutRepoPG(pool)
	reminderRepo := reminder.NewRepoPG(pool)

	// Availability resolution and slot search
	resolver := availability.NewResolver(ruleRepo, blackoutRepo, apptRepo)
	finder := availability.NewSlotFinder(resolver, time.Duration(cfg.SlotGridMinutes)*time.Minute)
	availSvc := availability.NewService(ruleRepo, blackoutRepo, resolver, finder, logger)
	availHandler := availability.NewHandler(availSvc)
	availHandler.RegisterRoutes(apiV1)

	// Reminders
	offsets := make([]time.Duration, 0, len(cfg.ReminderOffsetMinutes))
	for _, m := range cfg.ReminderOffsetMinutes {
		offsets = append(offsets, time.Duration(m)*time.Minute)
	}
	reminderSched := reminder.NewScheduler(reminderRepo, apptRepo, offsets, nil, logger)
	reminderDisp := reminder.NewDispatcher(reminderRepo, apptRepo, notifySvc,
		cfg.ReminderMaxAttempts, cfg.ReminderRetryDelay(), logger)
	reminderHandler := reminder.NewHandler(reminderRepo)
	reminderHandler.RegisterRoutes(apiV1)

	// Appointments
	apptSvc := appointment.NewService(apptRepo, resolver, blackoutRepo, reminderSched,
		appointment.NewTxRunner(pool), logger)
	apptHandler := appointment.NewHandler(apptSvc)
	apptHandler.RegisterRoutes(apiV1)

	// Job trigger endpoints, gated by the cron shared secret.
	jobsGroup := apiV1.Group("", middleware.CronAuth(cfg.CronSecret))
	jobsHandler := jobs.NewHandler(apptSvc, reminderSched, reminderDisp, limiter,
		jobs.Limits{MaxPerWindow: cfg.JobMaxPerWindow, Window: cfg.JobWindow()}, logger)
	jobsHandler.RegisterRoutes(jobsGroup)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
