// Package main - точка входа HTTP API сервиса прогресса учеников.
//
// Сервис принимает попытки прохождения уроков, считает оценки, XP, уровни
// и серии занятий и отдаёт агрегированный обзор прогресса.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alem-hub/learner-progress/config"
	"github.com/alem-hub/learner-progress/internal/application/command"
	"github.com/alem-hub/learner-progress/internal/application/eventhandler"
	"github.com/alem-hub/learner-progress/internal/application/query"
	"github.com/alem-hub/learner-progress/internal/domain/learning"
	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/internal/infrastructure/catalog"
	"github.com/alem-hub/learner-progress/internal/infrastructure/external/analysis"
	"github.com/alem-hub/learner-progress/internal/infrastructure/messaging"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/learner-progress/internal/infrastructure/persistence/redis"
	httpserver "github.com/alem-hub/learner-progress/internal/interface/http"
	"github.com/alem-hub/learner-progress/internal/interface/http/handlers"
	"github.com/alem-hub/learner-progress/pkg/logger"
	"github.com/alem-hub/learner-progress/pkg/timeutil"
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

// eventBus - общая часть локальной и Redis шины.
type eventBus interface {
	shared.EventBus
	Close() error
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	format := logger.ParseFormat(cfg.Observability.LogFormat)

	log := logger.NewSlog(os.Stdout, level, format)
	slog.SetDefault(log)

	httpLog := logger.New(logger.Options{
		Output: os.Stdout,
		Level:  level,
		Format: format,
	}).With(logger.Component("http"))

	log.Info("starting learner progress API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"timezone", cfg.Progress.Timezone,
	)
	for _, f := range cfg.Features.Features() {
		log.Debug("feature flag", "name", f.Name, "rollout", f.Rollout)
	}

	clock := timeutil.NewSystemClock(cfg.Progress.Location)
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ (PostgreSQL или память)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		uow   learning.UnitOfWork
		store learning.Store
		conn  *postgres.Connection
	)

	if cfg.Database.URL != "" {
		log.Info("connecting to database...")
		dbCfg := postgres.DefaultConfig()
		dbCfg.URL = cfg.Database.URL
		dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
		dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

		conn, err = postgres.NewConnection(ctx, dbCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer func() {
			log.Info("closing database connection...")
			conn.Close()
		}()

		if cfg.Database.AutoMigrate {
			migrations, err := postgres.Migrations()
			if err != nil {
				return fmt.Errorf("failed to read migrations: %w", err)
			}
			applied, err := postgres.NewMigrator(conn, migrations).Migrate(ctx)
			if err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", "applied", applied)
		}

		pgStore := postgres.NewStore(conn, log)
		uow, store = pgStore, pgStore
		health.AddCheck("postgres", handlers.NewPingCheck(pgStore))
	} else {
		log.Warn("DATABASE_URL is empty, progress is kept in memory")
		memStore := memory.NewStore()
		uow, store = memStore, memStore
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. КАТАЛОГ УРОКОВ
	// ─────────────────────────────────────────────────────────────────────────
	var content *catalog.Static
	switch {
	case cfg.Catalog.Path != "":
		content, err = catalog.LoadYAML(cfg.Catalog.Path)
	case conn != nil:
		content, err = postgres.LoadCatalog(ctx, conn)
	default:
		err = errors.New("CATALOG_PATH is required when DATABASE_URL is empty")
	}
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (кэш обзора и рассылка событий)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisCache    *redis.Cache
		overviewCache query.OverviewCache
		invalidator   eventhandler.OverviewInvalidator
	)

	if !cfg.Redis.Disabled {
		redisCfg := redis.DefaultConfig()
		redisCfg.URL = cfg.Redis.URL
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		redisCache, err = redis.NewCache(ctx, redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", err)
			redisCache = nil
		} else {
			defer redisCache.Close()
			oc := redis.NewOverviewCache(redisCache, cfg.Progress.OverviewCacheTTL)
			overviewCache, invalidator = oc, oc
			health.AddCheck("redis", handlers.NewPingCheck(redisCache))
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log

	var bus eventBus
	if redisCache != nil && cfg.Features.Enabled(config.FeatureRedisFanout, "") {
		bus, err = messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         messaging.NewGoRedisClient(redisCache.Client()),
			LocalBusConfig: busCfg,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to start redis event bus: %w", err)
		}
		log.Info("events are fanned out through Redis", "channel", messaging.DefaultChannel)
	} else {
		bus = messaging.NewInMemoryEventBus(busCfg)
	}
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	progressChanged := eventhandler.NewOnProgressChangedHandler(invalidator, log)
	milestones := eventhandler.NewOnMilestoneHandler(log, eventhandler.DefaultMilestoneConfig())
	for _, h := range []interface {
		Events() []shared.EventType
		Handle(shared.Event) error
	}{progressChanged, milestones} {
		for _, et := range h.Events() {
			if err := bus.Subscribe(et, h.Handle); err != nil {
				return fmt.Errorf("failed to subscribe %s: %w", et, err)
			}
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ВНЕШНИЕ СЕРВИСЫ (анализ речи, собеседник)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		speech  learning.SpeechAnalyzer
		partner learning.ConversationPartner
	)

	if cfg.Analysis.SpeechURL != "" {
		client := analysis.NewSpeechClient(analysisConfig(cfg.Analysis, cfg.Analysis.SpeechURL, log))
		speech = client
		health.AddOptionalCheck("speech_analysis", handlers.NewBreakerCheck(client))
	} else {
		log.Warn("speech analysis is not configured, pronunciation needs client scores")
	}

	if cfg.Analysis.ConversationURL != "" {
		client := analysis.NewConversationClient(analysisConfig(cfg.Analysis, cfg.Analysis.ConversationURL, log))
		partner = client
		health.AddOptionalCheck("conversation_partner", handlers.NewBreakerCheck(client))
	} else {
		log.Warn("conversation partner is not configured")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. КОМАНДЫ И ЗАПРОСЫ
	// ─────────────────────────────────────────────────────────────────────────
	attemptCfg := command.AttemptConfig{DefaultPassingScore: cfg.Progress.DefaultPassingScore}

	deps := httpserver.Dependencies{
		StartAttempt:    command.NewStartAttemptHandler(content, uow, bus, clock, log, attemptCfg),
		RecordExercise:  command.NewRecordExerciseHandler(content, uow, store, speech, partner, cfg.Features, log),
		CompleteAttempt: command.NewCompleteAttemptHandler(content, uow, bus, invalidator, cfg.Features, clock, log, attemptCfg),

		Overview:       query.NewGetOverviewHandler(content, store, overviewCache, cfg.Features, clock, log),
		Streak:         query.NewGetStreakHandler(store, clock, log),
		DailyStats:     query.NewGetDailyStatsHandler(store, clock, log),
		TopicProgress:  query.NewGetTopicProgressHandler(content, store, log),
		AttemptHistory: query.NewGetAttemptHistoryHandler(store, log),
		Vocabulary:     query.NewGetVocabularyProgressHandler(store, log),

		Auth:          handlers.NewAuthenticator(authConfig(cfg)),
		HealthChecker: health,
		Logger:        httpLog,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	srvCfg := httpserver.DefaultConfig()
	srvCfg.Host = cfg.HTTP.Host
	srvCfg.Port = cfg.HTTP.Port
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.MaxRequestBytes = cfg.HTTP.MaxRequestBytes
	srvCfg.MaxAudioBytes = cfg.Analysis.MaxAudioBytes
	srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	srvCfg.Version = cfg.App.Version

	server := httpserver.NewServer(srvCfg, deps)
	errCh := server.StartAsync()

	log.Info("learner progress API is running", "http_address", srvCfg.Address())

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("http server error", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		log.Warn("shutdown completed with errors")
		return nil
	}

	// Event bus, Redis и база закрываются через defer.
	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// analysisConfig собирает настройки клиента внешнего сервиса.
func analysisConfig(cfg config.AnalysisConfig, baseURL string, log *slog.Logger) analysis.ClientConfig {
	c := analysis.DefaultClientConfig(baseURL)
	c.APIKey = cfg.APIKey
	c.Timeout = cfg.RequestTimeout
	c.MaxRetries = cfg.MaxRetries
	c.RetryBaseDelay = cfg.RetryBaseDelay
	c.RetryMaxDelay = cfg.RetryMaxDelay
	c.FailureThreshold = cfg.CircuitBreakerThreshold
	c.OpenTimeout = cfg.CircuitBreakerTimeout
	c.MaxHalfOpenRequests = cfg.CircuitBreakerHalfOpenMax
	c.Logger = log
	return c
}

// authConfig включает доверие к X-Learner-ID только в development без JWT.
func authConfig(cfg *config.Config) handlers.AuthConfig {
	return handlers.AuthConfig{
		JWTSecret:          cfg.Auth.JWTSecret,
		JWTIssuer:          cfg.Auth.JWTIssuer,
		APIKeyHashes:       cfg.Auth.APIKeyHashes,
		TrustLearnerHeader: cfg.IsDevelopment() && cfg.Auth.JWTSecret == "",
	}
}
