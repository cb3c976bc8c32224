// Package main is the entry point for the Guild Haven progression service.
//
// The service turns raw guild activity into member progression: experience
// accumulation behind a per-member cooldown, a quadratic level curve, rank
// roles synced to the chat platform, and time-bounded grants (temporary
// roles, entry blocks, experience multipliers) with an expiry sweep.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: progression, grant, and rank logic without external dependencies
// - Application: use case orchestration (Commands/Queries/Event handlers)
// - Infrastructure: persistence, batching, caching, chat platform client
// - Interface: REST API for ingest, reads, and grant administration
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/guildhaven/guild-haven-bot/config"

	// Application layer
	"github.com/guildhaven/guild-haven-bot/internal/application/command"
	"github.com/guildhaven/guild-haven-bot/internal/application/eventhandler"
	"github.com/guildhaven/guild-haven-bot/internal/application/query"

	// Domain layer
	"github.com/guildhaven/guild-haven-bot/internal/domain/grant"
	"github.com/guildhaven/guild-haven-bot/internal/domain/progression"
	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"

	// Infrastructure layer
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/batching"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/external/chatapi"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/messaging"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/persistence/postgres"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/persistence/redis"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/scheduler"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/scheduler/jobs"
	"github.com/guildhaven/guild-haven-bot/internal/infrastructure/statuscache"

	// Interface layer
	httpserver "github.com/guildhaven/guild-haven-bot/internal/interface/http"

	// Packages
	"github.com/guildhaven/guild-haven-bot/pkg/logger"
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
	log.Info("starting Guild Haven progression service",
		"env", string(cfg.App.Environment),
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
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
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database schema is up to date")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. STATUS CACHE (Redis, or in-memory when disabled)
	// ─────────────────────────────────────────────────────────────────────────
	var cacheStore statuscache.Store
	var redisStore *redis.Store

	if cfg.Redis.Disabled {
		log.Info("Redis disabled, using in-memory status cache")
		cacheStore = statuscache.NewMemoryStore()
	} else {
		log.Info("connecting to Redis...")
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisStore, err = redis.NewStore(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, falling back to in-memory cache", "error", err)
			cacheStore = statuscache.NewMemoryStore()
		} else {
			defer redisStore.Close()
			cacheStore = redisStore
			log.Info("Redis connection established")
		}
	}

	statusCache := statuscache.New(cacheStore, statuscache.Config{
		DefaultTTL: cfg.Cache.StatusTTL,
		Logger:     log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	progressionRepo := postgres.NewProgressionRepository(dbConn)
	grantRepo := postgres.NewGrantRepository(dbConn)
	thresholdRepo := postgres.NewThresholdRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	busCfg.AsyncMode = true
	eventBus := messaging.NewEventBus(busCfg)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 8. CHAT PLATFORM CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing chat platform client...")
	chatCfg := chatapi.DefaultClientConfig(cfg.ChatAPI.BaseURL, cfg.ChatAPI.BotToken)
	chatCfg.Timeout = cfg.ChatAPI.RequestTimeout
	chatCfg.RateLimiterConfig.RequestsPerSecond = cfg.ChatAPI.RequestsPerSecond
	chatCfg.RateLimiterConfig.BurstSize = cfg.ChatAPI.RateLimitBurst
	chatCfg.Logger = log
	chatCfg.Debug = cfg.App.Debug
	chatClient := chatapi.NewClient(chatCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. DOMAIN SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing domain services...")

	curve, err := progression.NewCurve(progression.CurveConfig{
		Levels:       cfg.Progression.CurveLevels,
		FirstLevelXP: shared.XP(cfg.Progression.CurveFirstLevelXP),
		LastLevelXP:  shared.XP(cfg.Progression.CurveLastLevelXP),
	})
	if err != nil {
		return fmt.Errorf("failed to build level curve: %w", err)
	}

	cooldownGate := progression.NewCooldownGate(cfg.Progression.CooldownWindow)
	multiplierResolver := grant.NewResolver(grantRepo)

	registry := grant.NewRegistry(grantRepo, grant.RegistryConfig{
		Logger:        log,
		Bus:           eventBus,
		MaxMultiplier: cfg.Grants.MaxMultiplier,
	})

	// Side-effect handlers: expiry and revocation undo the grant's effect.
	registry.Register(eventhandler.NewTempRoleEffect(chatClient, log))
	registry.Register(eventhandler.NewBlockEntryEffect(statusCache, log))
	registry.Register(grant.NopHandler{K: grant.KindMultiplier})

	// ─────────────────────────────────────────────────────────────────────────
	// 10. UPDATE BATCHING QUEUE
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing update batching queue...",
		"delay", cfg.Batching.Delay.String())

	flusher := command.NewProgressionFlusher(progressionRepo, statusCache, log)
	updateQueue := batching.NewQueue(flusher, batching.Config{
		Delay:        cfg.Batching.Delay,
		FlushTimeout: cfg.Batching.FlushTimeout,
		Logger:       log,
	})
	defer func() {
		log.Info("draining update queue...")
		updateQueue.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")

	recordSignalCfg := command.RecordSignalConfig{
		BaseGains: map[progression.SignalKind]shared.XP{
			progression.SignalMessage:  shared.XP(cfg.Progression.MessageGain),
			progression.SignalVoice:    shared.XP(cfg.Progression.VoiceGain),
			progression.SignalReaction: shared.XP(cfg.Progression.ReactionGain),
		},
		Logger: log,
	}
	recordSignalCmd := command.NewRecordSignalHandler(
		progressionRepo, curve, cooldownGate, multiplierResolver,
		updateQueue, eventBus, recordSignalCfg)

	grantTemporalCmd := command.NewGrantTemporalHandler(registry, statusCache, log)

	memberStatusQuery := query.NewGetMemberStatusHandler(
		progressionRepo, grantRepo, multiplierResolver, statusCache)
	leaderboardQuery := query.NewGetLeaderboardHandler(progressionRepo, statusCache)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. EVENT HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("registering event handlers...")

	levelChangedHandler := eventhandler.NewOnLevelChangedHandler(
		thresholdRepo, chatClient, log, eventhandler.DefaultLevelChangedConfig())
	if err := eventBus.Subscribe(shared.EventLevelChanged, levelChangedHandler); err != nil {
		return fmt.Errorf("failed to subscribe level changed handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. MAINTENANCE SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	// Disable via SCHEDULER_ENABLED=false when the standalone worker binary
	// runs the sweep and reconcile passes instead.
	if cfg.Scheduler.Enabled {
		log.Info("initializing maintenance scheduler...")

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

		pruneJob := jobs.NewPruneCooldownsJob(cooldownGate, log)
		if err := sched.Register(pruneJob,
			scheduler.NewIntervalSchedule(cfg.Scheduler.PruneCooldownsInterval)); err != nil {
			return fmt.Errorf("failed to register prune job: %w", err)
		}

		reconcileCfg := jobs.DefaultReconcileRolesConfig()
		reconcileCfg.Timeout = cfg.Scheduler.JobTimeout
		reconcileJob := jobs.NewReconcileRolesJob(progressionRepo, levelChangedHandler, log, reconcileCfg)
		if err := sched.Register(reconcileJob, &scheduler.IntervalSchedule{
			Interval: cfg.Scheduler.ReconcileRolesInterval,
			Jitter:   cfg.Scheduler.ReconcileRolesInterval / 10,
		}); err != nil {
			return fmt.Errorf("failed to register reconcile job: %w", err)
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			log.Info("stopping scheduler...")
			_ = sched.Stop()
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 14. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	healthChecker := httpserver.NewCompositeHealthChecker(cfg.App.Version)
	healthChecker.AddCheck("database", httpserver.NewPingCheck(dbConn))
	if redisStore != nil {
		healthChecker.AddCheck("redis", httpserver.NewPingCheck(redisStore))
	}
	healthChecker.AddCheck("chat_api", httpserver.NewChatAPICheck(chatClient))

	httpCfg := httpserver.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.APIKeys = cfg.HTTP.APIKeys
	httpCfg.IngestSecret = cfg.HTTP.IngestSecret
	httpCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute

	httpDeps := httpserver.Dependencies{
		RecordSignalHandler:    recordSignalCmd,
		GrantTemporalHandler:   grantTemporalCmd,
		GetMemberStatusHandler: memberStatusQuery,
		GetLeaderboardHandler:  leaderboardQuery,
		Sweeper:                registry,
		Flusher:                updateQueue,
		Features:               cfg.Features,
		Logger:                 logger.Default(),
		HealthChecker:          healthChecker,
	}

	httpServer := httpserver.NewServer(httpCfg, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 15. START SERVICES
	// ─────────────────────────────────────────────────────────────────────────
	errCh := httpServer.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 16. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("Guild Haven progression service is running",
		"http_address", httpServer.Address(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", "error", err)
			return err
		}
		log.Info("http server stopped")
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting requests first; the queue drains via defer, so late
	// enqueues from in-flight requests still reach the flusher.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
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
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		// Text format for development (easier to read)
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		// JSON format for production (better for log aggregators)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
