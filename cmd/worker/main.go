// Package main is the entry point for the standalone maintenance worker.
//
// The worker owns the durable background passes of the progression engine:
// sweeping expired temporal grants and reconciling rank roles against the
// chat platform. Run it alongside the API service with SCHEDULER_ENABLED=false
// on the service, so the passes execute in exactly one place.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildhaven/guild-haven-bot/config"

	"github.com/guildhaven/guild-haven-bot/internal/application/eventhandler"
	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/external/chatapi"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/messaging"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/persistence/postgres"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/persistence/redis"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/scheduler"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/scheduler/jobs"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/statuscache"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting Guild Haven maintenance worker",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// The API service owns migrations; the worker only verifies the schema.
	migrator := postgres.NewMigrator(dbConn)
	migrations, err := migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}
	for _, m := range migrations {
		if !m.IsApplied {
			return fmt.Errorf("database schema is behind: migration %d (%s) not applied", m.Version, m.Name)
		}
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. STATUS CACHE
	// ─────────────────────────────────────────────────────────────────────────
	// The worker invalidates cached statuses when a sweep changes a member's
	// grants, so it talks to the same Redis as the API service.
	var cacheStore statuscache.Store
	if cfg.Redis.Disabled {
		cacheStore = statuscache.NewMemoryStore()
	} else {
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB

		redisStore, err := redis.NewStore(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, sweep invalidations will be local only", "error", err)
			cacheStore = statuscache.NewMemoryStore()
		} else {
			defer redisStore.Close()
			cacheStore = redisStore
		}
	}

	statusCache := statuscache.New(cacheStore, statuscache.Config{
		DefaultTTL: cfg.Cache.StatusTTL,
		Logger:     log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 5. EVENT BUS AND CHAT CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	eventBus := messaging.NewEventBus(busCfg)
	defer func() {
		_ = eventBus.Close()
	}()

	chatCfg := chatapi.DefaultClientConfig(cfg.ChatAPI.BaseURL, cfg.ChatAPI.BotToken)
	chatCfg.Timeout = cfg.ChatAPI.RequestTimeout
	chatCfg.RateLimiterConfig.RequestsPerSecond = cfg.ChatAPI.RequestsPerSecond
	chatCfg.RateLimiterConfig.BurstSize = cfg.ChatAPI.RateLimitBurst
	chatCfg.Logger = log
	chatClient := chatapi.NewClient(chatCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRANT REGISTRY
	// ─────────────────────────────────────────────────────────────────────────
	progressionRepo := postgres.NewProgressionRepository(dbConn)
	grantRepo := postgres.NewGrantRepository(dbConn)
	thresholdRepo := postgres.NewThresholdRepository(dbConn)

	registry := grant.NewRegistry(grantRepo, grant.RegistryConfig{
		Logger:        log,
		Bus:           eventBus,
		MaxMultiplier: cfg.Grants.MaxMultiplier,
	})
	registry.Register(eventhandler.NewTempRoleEffect(chatClient, log))
	registry.Register(eventhandler.NewBlockEntryEffect(statusCache, log))
	registry.Register(grant.NopHandler{K: grant.KindMultiplier})

	roleSyncer := eventhandler.NewOnLevelChangedHandler(
		thresholdRepo, chatClient, log, eventhandler.DefaultLevelChangedConfig())

	// ─────────────────────────────────────────────────────────────────────────
	// 7. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing scheduler...",
		"sweep_interval", cfg.Scheduler.SweepGrantsInterval.String(),
		"reconcile_interval", cfg.Scheduler.ReconcileRolesInterval.String(),
	)

	sched := scheduler.New(scheduler.Config{Logger: log})

	sweepJob := jobs.NewSweepGrantsJob(registry, log, jobs.SweepGrantsConfig{
		Timeout: cfg.Scheduler.JobTimeout,
	})
	if err := sched.Register(sweepJob, &scheduler.IntervalSchedule{
		Interval: cfg.Scheduler.SweepGrantsInterval,
		Jitter:   cfg.Scheduler.SweepGrantsInterval / 10,
	}); err != nil {
		return fmt.Errorf("failed to register sweep job: %w", err)
	}

	reconcileCfg := jobs.DefaultReconcileRolesConfig()
	reconcileCfg.Timeout = cfg.Scheduler.JobTimeout
	reconcileJob := jobs.NewReconcileRolesJob(progressionRepo, roleSyncer, log, reconcileCfg)
	if err := sched.Register(reconcileJob, &scheduler.IntervalSchedule{
		Interval: cfg.Scheduler.ReconcileRolesInterval,
		Jitter:   cfg.Scheduler.ReconcileRolesInterval / 10,
	}); err != nil {
		return fmt.Errorf("failed to register reconcile job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("maintenance worker is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	log.Info("stopping scheduler...")
	if err := sched.Stop(); err != nil {
		log.Error("failed to stop scheduler", "error", err)
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	switch cfg.Observability.LogLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
