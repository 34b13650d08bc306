package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"talentgrid/backend/internal/config"
	"talentgrid/backend/internal/logging"
	"talentgrid/backend/internal/repository"
	"talentgrid/backend/internal/services"
	"talentgrid/backend/internal/workflow"
)

// app wires the storage backends, the workflow manager and the business
// workflows.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	repo     repository.Repository
	notifier services.Notifier
	mgr      *workflow.Manager
	wf       *services.Workflows
}

func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Repository.Backend == config.StorePostgres || cfg.Workflow.Store == config.StorePostgres {
		pool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.pool = pool
	}

	switch cfg.Repository.Backend {
	case config.StorePostgres:
		a.repo = repository.NewPostgresRepository(a.pool, logger)
	default:
		a.repo = repository.NewMemoryRepository()
	}

	var store workflow.ExecutionStore
	switch cfg.Workflow.Store {
	case config.StorePostgres:
		store = repository.NewPostgresExecutionStore(a.pool)
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
		a.redis = client
		store = repository.NewRedisExecutionStore(client, cfg.Redis.Prefix+":")
	default:
		store = workflow.NewMemoryStore()
	}
	logger.Info("Storage initialized", "repository", cfg.Repository.Backend, "executions", cfg.Workflow.Store)

	a.notifier = services.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, logger)
	engine := workflow.NewEngine(
		workflow.WithEngineLogger(logger.With("component", "engine")),
		workflow.WithDefaultStepTimeout(cfg.Workflow.StepTimeout),
	)
	a.mgr = workflow.NewManager(
		workflow.WithEngine(engine),
		workflow.WithStore(store),
		workflow.WithLogger(logger.With("component", "manager")),
		workflow.WithCleanup(cfg.Workflow.CleanupInterval, cfg.Workflow.RetentionDays),
		workflow.WithFailureHandler(services.FailureHandler(a.notifier, logger)),
	)
	a.wf = services.New(a.mgr, a.repo, a.notifier, logger,
		services.WithRetryPolicy(cfg.Workflow.MaxRetries, cfg.Workflow.RetryDelay),
		services.WithStepTimeout(cfg.Workflow.StepTimeout),
	)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	poolConfig, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Database connected")
	return pool, nil
}
