package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicalcopilot/internal/adapters/cache"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/database"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/events"
	"github.com/zatekoja/clinicalcopilot/internal/adapters/providers/llm"
	"github.com/zatekoja/clinicalcopilot/internal/api/handlers"
	"github.com/zatekoja/clinicalcopilot/internal/api/routes"
	"github.com/zatekoja/clinicalcopilot/internal/application/services"
	"github.com/zatekoja/clinicalcopilot/internal/domain/providers"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/clients/redis"
	"github.com/zatekoja/clinicalcopilot/internal/infrastructure/observability"
	"github.com/zatekoja/clinicalcopilot/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)
	if cfg.Vault.Enabled {
		log.Info().Str("path", cfg.Vault.Path).Strs("loaded", cfg.Vault.Loaded).Strs("kept", cfg.Vault.Skipped).Msg("credentials loaded from vault")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	var shutdownTelemetry func(context.Context) error
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdownTelemetry, err = observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
			shutdownTelemetry = nil
		} else {
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Redis backs the snapshot mirror and the cross-process event bus
	var (
		redisClient   *redis.Client
		cacheProvider providers.CacheProvider
		eventBus      providers.EventBus
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, continuing with in-process event bus")
		} else {
			cacheProvider = cache.NewRedisAdapter(redisClient)
			eventBus = events.NewRedisEventBus(redisClient)
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("redis cache and event bus initialized")
		}
	}
	if eventBus == nil {
		eventBus = events.NewMemoryEventBus()
	}

	// PostgreSQL stores the audit trail of session actions
	var pgClient *postgres.Client
	orchestratorOpts := []services.OrchestratorOption{
		services.WithEventBus(eventBus),
		services.WithOrchestratorMetrics(metrics),
	}
	if cacheProvider != nil {
		orchestratorOpts = append(orchestratorOpts, services.WithSnapshotCache(cacheProvider))
	}
	if cfg.Database.Enabled {
		pgClient, err = postgres.NewClient(&cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("postgres unavailable, audit trail disabled")
		} else {
			orchestratorOpts = append(orchestratorOpts, services.WithAuditRepository(database.NewActionAuditAdapter(pgClient)))
			log.Info().Msg("audit trail enabled")
		}
	}

	textProviders := llm.NewTextProviders(cfg)
	breakers := services.NewBreakerRegistry(cfg.Breaker, llm.ProviderNames(textProviders), services.WithBreakerMetrics(metrics))
	engine := services.NewDecisionEngine(cfg.Gateway, textProviders, breakers, services.WithDecisionMetrics(metrics))
	scorer := services.NewCompletenessScorer(cfg.Extraction)
	validator := services.NewValidationService(scorer)
	store := services.NewSessionStore(cfg.Session,
		services.WithSessionEventBus(eventBus),
		services.WithSessionMetrics(metrics),
	)
	orchestrator := services.NewOrchestrator(store, engine, scorer, validator, *cfg, orchestratorOpts...)

	router := routes.NewRouter(
		handlers.NewSessionHandler(orchestrator, engine),
		handlers.NewSSEHandler(eventBus),
		cfg.Server.AllowedOrigins,
		metrics,
	)

	serverCtx, stopRequests := context.WithCancel(context.Background())
	defer stopRequests()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return serverCtx },
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	// Ends open event streams so Shutdown does not wait on them.
	stopRequests()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	store.Shutdown()

	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event bus")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis client")
		}
	}
	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			log.Error().Err(err).Msg("error closing postgres client")
		}
	}
	if shutdownTelemetry != nil {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("error shutting down OpenTelemetry")
		}
	}

	log.Info().Msg("server stopped")
}
