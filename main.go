package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/case-engine/pkg/config"
	"github.com/ekaya-inc/case-engine/pkg/database"
	"github.com/ekaya-inc/case-engine/pkg/events"
	"github.com/ekaya-inc/case-engine/pkg/handlers"
	"github.com/ekaya-inc/case-engine/pkg/inventory"
	"github.com/ekaya-inc/case-engine/pkg/llm"
	"github.com/ekaya-inc/case-engine/pkg/logging"
	"github.com/ekaya-inc/case-engine/pkg/mcp"
	"github.com/ekaya-inc/case-engine/pkg/mcp/tools"
	"github.com/ekaya-inc/case-engine/pkg/middleware"
	"github.com/ekaya-inc/case-engine/pkg/preview"
	"github.com/ekaya-inc/case-engine/pkg/registry"
	"github.com/ekaya-inc/case-engine/pkg/resolution"
	"github.com/ekaya-inc/case-engine/pkg/retry"
	"github.com/ekaya-inc/case-engine/pkg/safety"
	"github.com/ekaya-inc/case-engine/pkg/services"
	"github.com/ekaya-inc/case-engine/pkg/validation"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("inventory_source", cfg.Inventory.Source),
		zap.Bool("database", cfg.Database.IsConfigured()),
		zap.String("redis", cfg.Redis.Addr()),
		zap.Bool("planner", cfg.LLM.PlannerAvailable()),
		zap.Bool("embeddings", cfg.LLM.EmbeddingsAvailable()))

	checks := map[string]handlers.HealthCheck{}

	// Registry database (optional)
	var db *database.DB
	if cfg.Database.IsConfigured() {
		var err error
		db, err = database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(cfg.Database.MigrationsPath, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		checks["database"] = func(ctx context.Context) error { return db.Ping(ctx) }
	}

	// Redis (optional)
	var redisClient *redis.Client
	if cfg.Redis.Addr() != "" {
		var err error
		redisClient, err = database.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Inventory
	source, err := newInventorySource(cfg, db, logger)
	if err != nil {
		return err
	}
	cacheRetry := retry.DefaultConfig()
	cacheRetry.MaxRetries = cfg.Resolution.MaxRetries
	cache := inventory.NewCache(source, inventory.CacheConfig{
		Size:         cfg.Inventory.CacheSize,
		TTL:          cfg.Inventory.TTL,
		FetchTimeout: cfg.Resolution.Timeout,
		Retry:        cacheRetry,
	}, logger)

	// Resolution, safety and validation
	rules, err := safety.LoadRules(cfg.Safety.RulesFile)
	if err != nil {
		return fmt.Errorf("load safety rules: %w", err)
	}
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return err
	}
	resolver := resolution.NewService(cache, embedder, rules, resolution.Config{
		Timeout:             cfg.Resolution.Timeout,
		AmbiguityMargin:     cfg.Resolution.AmbiguityMargin,
		AcceptanceThreshold: cfg.Resolution.AcceptanceThreshold,
		MaxCandidates:       cfg.Resolution.MaxCandidates,
	}, logger)
	chain := validation.NewChainFromConfig(cfg.Validation, logger)

	// Preview state and registry
	previews := preview.NewStore(preview.Config{
		TTL:           cfg.Preview.TTL,
		SweepInterval: cfg.Preview.SweepInterval,
	}, logger)
	previews.RunJanitor(ctx)

	var reg registry.Registry
	if db != nil {
		reg = registry.NewPostgresRegistry(db.Pool, nil, logger)
	} else {
		logger.Warn("No database configured; automations are kept in memory only")
		reg = registry.NewMemoryRegistry(nil, logger)
	}

	// Creation events and registry change notifications
	var publisher events.Publisher = events.NewLogPublisher(logger)
	if redisClient != nil {
		publisher = events.NewRedisPublisher(redisClient, cfg.Redis.EventChannel, logger)

		subscriber := events.NewChangeSubscriber(redisClient, cfg.Redis.ChangesChannel, cache, logger)
		go func() {
			if err := subscriber.Run(ctx, nil); err != nil && ctx.Err() == nil {
				logger.Error("Change subscriber stopped", zap.Error(err))
			}
		}()
	}
	notifier := events.NewAsyncNotifier(publisher, cfg.Orchestration.EventBufferSize, logger)
	notifier.Start(ctx)
	defer notifier.Close()

	// Planner (optional)
	planner, err := newPlanner(cfg, logger)
	if err != nil {
		return err
	}

	orchestrator := services.NewOrchestrator(services.OrchestratorDeps{
		Resolver:  resolver,
		Safety:    safety.NewValidator(rules, logger),
		Validator: chain,
		Previews:  previews,
		Registry:  reg,
		Notifier:  notifier,
		Planner:   planner,
	}, services.OrchestratorConfig{
		MaxRounds:       cfg.Orchestration.MaxRounds,
		MaxConcurrent:   cfg.Orchestration.MaxConcurrent,
		RegistryTimeout: cfg.Orchestration.RegistryTimeout,
	}, logger)

	// HTTP surface
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, checks, logger)
	healthHandler.RegisterRoutes(mux)
	handlers.NewConversationHandler(orchestrator, logger).RegisterRoutes(mux)
	handlers.NewInventoryHandler(cache, logger).RegisterRoutes(mux)
	handlers.NewAutomationHandler(reg, logger).RegisterRoutes(mux)

	audit := mcp.NewAuditLogger(nil, logger)
	mcpServer := mcp.NewServer("case-engine", cfg.Version, audit.Hooks(), logger)
	tools.RegisterAutomationTools(mcpServer.MCP(), &tools.AutomationToolDeps{
		Orchestrator: orchestrator,
		Logger:       logger.Named("mcp-tools"),
	})
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, func(ctx context.Context) map[string]string {
		return healthHandler.Check(ctx).Checks
	})
	handlers.NewMCPHandler(mcpServer, logger.Named("mcp-http")).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.Chain(mux, middleware.Recoverer(logger), middleware.RequestLogger(logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting case-engine",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newInventorySource(cfg *config.Config, db *database.DB, logger *zap.Logger) (inventory.Source, error) {
	switch cfg.Inventory.Source {
	case "http":
		return inventory.NewHTTPSource(cfg.Inventory.URL, cfg.Inventory.Token, logger), nil
	case "postgres":
		return inventory.NewPostgresSource(db.Pool), nil
	default:
		src, err := inventory.LoadStaticSource(cfg.Inventory.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("load inventory seed: %w", err)
		}
		return src, nil
	}
}

func newPlanner(cfg *config.Config, logger *zap.Logger) (llm.Planner, error) {
	if !cfg.LLM.PlannerAvailable() {
		logger.Info("No planner configured; conversational turns are disabled")
		return nil, nil
	}
	temperature := cfg.Orchestration.PlannerTemperature
	if cfg.LLM.Provider == config.ProviderAnthropic {
		client := llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		return llm.NewAnthropicPlanner(client, cfg.LLM.Model, "", temperature, logger), nil
	}
	client, err := llm.NewClient(&llm.Config{
		Endpoint: cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create planner client: %w", err)
	}
	return llm.NewOpenAIPlanner(client, "", temperature, logger), nil
}

// newEmbedder returns nil when no embedding endpoint is configured, which
// selects the local hashing embedder.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (resolution.Embedder, error) {
	if !cfg.LLM.EmbeddingsAvailable() {
		return nil, nil
	}
	client, err := llm.NewClient(&llm.Config{
		Endpoint: cfg.LLM.EmbeddingURL,
		Model:    cfg.LLM.EmbeddingModel,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	primary := llm.NewEmbeddingClient(client, cfg.LLM.EmbeddingModel, logger)
	return resolution.NewCachingEmbedder(primary, resolution.NewHashingEmbedder(0), 0, time.Hour, logger), nil
}
