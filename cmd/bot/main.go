// Package main is the entry point for the guildwarden bot.
// It connects to Discord, runs the guild cache and timer dispatcher, and
// serves health endpoints over HTTP and gRPC.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/guildwarden/internal/cache"
	"github.com/parsascontentcorner/guildwarden/internal/config"
	"github.com/parsascontentcorner/guildwarden/internal/database"
	"github.com/parsascontentcorner/guildwarden/internal/discord"
	"github.com/parsascontentcorner/guildwarden/internal/events"
	grpcserver "github.com/parsascontentcorner/guildwarden/internal/grpc"
	httpserver "github.com/parsascontentcorner/guildwarden/internal/http"
	"github.com/parsascontentcorner/guildwarden/internal/ratelimit"
	"github.com/parsascontentcorner/guildwarden/internal/reminders"
	"github.com/parsascontentcorner/guildwarden/internal/scheduler"
	"github.com/parsascontentcorner/guildwarden/internal/timers"
	"github.com/parsascontentcorner/guildwarden/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.NewLoggerWithFile(cfg.Logging.Level, cfg.Logging.Format, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.CompressFiles,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		// Sync errors on stdout/stderr are expected and can be safely ignored
		// for non-syncable file descriptors (pipes, terminals, etc.)
		_ = log.Sync()
	}()

	log.Info("starting guildwarden",
		zap.String("environment", cfg.Server.Env),
		zap.String("http_port", cfg.Server.HTTPPort),
		zap.String("grpc_port", cfg.Server.GRPCPort),
		zap.Duration("timer_horizon", cfg.Timers.Horizon),
	)

	// Initialize database connection
	db, err := database.NewDB(&cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection", zap.Error(err))
		}
	}()

	// Run database migrations
	if err := runMigrations(db, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Guild cache
	cacheEngine := cache.NewEngine(db, log.Named("cache"), cache.WithExcludedTables(cfg.Cache.ExcludedTables...))
	if err := cacheEngine.Start(ctx); err != nil {
		log.Fatal("failed to start guild cache", zap.Error(err))
	}

	// Timers and their completion events
	bus := events.NewBus(log.Named("events"))
	timerEngine := timers.NewEngine(db, bus, log.Named("timers"),
		timers.WithHorizon(cfg.Timers.Horizon),
		timers.WithRetryDelay(cfg.Timers.RetryDelay),
	)

	rateLimiter := ratelimit.NewRateLimiter(cfg.Reminders.RatePerMinute, cfg.Reminders.Burst, log.Named("ratelimit"))

	parser, err := reminders.NewParser()
	if err != nil {
		log.Fatal("failed to create time parser", zap.Error(err))
	}
	reminderService := reminders.NewService(timerEngine, db, parser, log.Named("reminders"))

	// Discord gateway
	session, err := discord.NewSession(cfg.Discord.Token)
	if err != nil {
		log.Fatal("failed to create Discord session", zap.Error(err))
	}
	bot := discord.NewBot(discord.Deps{
		Session:   session,
		Store:     db,
		Cache:     cacheEngine,
		Timers:    timerEngine,
		Reminders: reminderService,
		Limiter:   rateLimiter,
	}, cfg.Discord.CommandPrefix, cfg.Timers.Horizon, log.Named("discord"))
	bot.Register(session)
	bot.Subscribe(bus)

	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := timerEngine.Run(ctx); err != nil {
			log.Error("timer dispatcher stopped", zap.Error(err))
		}
	}()

	// Periodic jobs
	jobs, err := scheduler.Start(scheduler.Deps{
		Timers:  timerEngine,
		Cache:   cacheEngine,
		Limiter: rateLimiter,
	}, scheduler.Config{
		RescanInterval: cfg.Timers.RescanInterval,
		StatsInterval:  cfg.Cache.StatsInterval,
	}, log.Named("scheduler"))
	if err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}

	// Initialize gRPC health server
	grpcServer, err := grpcserver.NewServer(cfg.Server.GRPCPort, log)
	if err != nil {
		log.Fatal("failed to create gRPC server", zap.Error(err))
	}
	grpcServer.WatchReady(ctx, cacheEngine.Ready())

	// Initialize HTTP server
	httpHandlers := httpserver.NewHandlers(cacheEngine, timerEngine, db, log)
	httpServer := httpserver.NewServer(httpHandlers, cfg.Server.HTTPPort, log)

	// Start servers in goroutines
	grpcErrChan := make(chan error, 1)
	httpErrChan := make(chan error, 1)

	go func() {
		if err := grpcServer.Serve(); err != nil {
			grpcErrChan <- err
		}
	}()

	go func() {
		if err := httpServer.Serve(); err != nil {
			httpErrChan <- err
		}
	}()

	if err := session.Open(); err != nil {
		log.Fatal("failed to open Discord gateway connection", zap.Error(err))
	}

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-grpcErrChan:
		log.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrChan:
		log.Error("HTTP server error", zap.Error(err))
	case sig := <-sigChan:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	log.Info("shutting down...")

	if err := session.Close(); err != nil {
		log.Error("failed to close Discord session", zap.Error(err))
	}

	if err := jobs.Shutdown(); err != nil {
		log.Error("failed to shutdown scheduler", zap.Error(err))
	}

	cancel()
	<-dispatcherDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to shutdown HTTP server gracefully", zap.Error(err))
	}

	grpcServer.GracefulStop()

	log.Info("shut down successfully")
}

// runMigrations runs database migrations using golang-migrate library
func runMigrations(db *database.DB, log *zap.Logger) error {
	// Path to migrations directory (relative to binary execution location)
	migrationsPath := "internal/database/migrations"
	if p := os.Getenv("MIGRATIONS_PATH"); p != "" {
		migrationsPath = p
	}

	if err := db.RunMigrations(migrationsPath); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed")
	return nil
}
