// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bissquit/incident-pager/internal/cache"
	cacheredis "github.com/bissquit/incident-pager/internal/cache/redis"
	"github.com/bissquit/incident-pager/internal/config"
	"github.com/bissquit/incident-pager/internal/eventbus"
	busmemory "github.com/bissquit/incident-pager/internal/eventbus/memory"
	buspostgres "github.com/bissquit/incident-pager/internal/eventbus/postgres"
	"github.com/bissquit/incident-pager/internal/identity"
	identitymemory "github.com/bissquit/incident-pager/internal/identity/memory"
	identitypostgres "github.com/bissquit/incident-pager/internal/identity/postgres"
	"github.com/bissquit/incident-pager/internal/identity/token"
	"github.com/bissquit/incident-pager/internal/incidents"
	incidentsmemory "github.com/bissquit/incident-pager/internal/incidents/memory"
	incidentspostgres "github.com/bissquit/incident-pager/internal/incidents/postgres"
	"github.com/bissquit/incident-pager/internal/pkg/metrics"
	"github.com/bissquit/incident-pager/internal/pkg/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
)

// bus is what the app needs from an event bus backend.
type bus interface {
	eventbus.Publisher
	eventbus.Subscriber
}

// App holds the wired components shared by the server and notifier processes.
type App struct {
	config *config.Config
	logger *slog.Logger

	db    *pgxpool.Pool // nil when running in memory
	redis *goredis.Client

	bus       bus
	pgBus     *buspostgres.Bus
	memoryBus *busmemory.Bus

	directory identity.Directory
	tokens    *token.Validator
	incidents *incidents.Service
}

// New connects every backend named by cfg and wires the lifecycle service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	a := &App{
		config: cfg,
		logger: logger,
		tokens: token.NewValidator(token.Config{Secret: cfg.Auth.Secret, Issuer: cfg.Auth.Issuer}),
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.config

	var repo incidents.Repository
	if cfg.Database.InMemory() {
		a.logger.Warn("no database configured, incidents are kept in memory")
		repo = incidentsmemory.NewRepository()
		a.directory = identitymemory.NewDirectory()
		a.memoryBus = busmemory.New(
			busmemory.WithPartitions(cfg.Events.Partitions),
			busmemory.WithRetry(a.retryPolicy()),
		)
		a.bus = a.memoryBus
	} else {
		connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnectAttempts: cfg.Database.ConnectAttempts,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.db = db

		repo = incidentspostgres.NewRepository(db)
		a.directory = identitypostgres.NewDirectory(db)
		a.pgBus = buspostgres.New(db, buspostgres.Config{
			Partitions:   cfg.Events.Partitions,
			BatchSize:    cfg.Events.BatchSize,
			PollInterval: cfg.Events.PollInterval,
			Retry:        a.retryPolicy(),
		})
		a.bus = a.pgBus
	}

	backend, err := a.cacheBackend(ctx)
	if err != nil {
		return err
	}

	numbers, err := incidents.SeedNumberGenerator(ctx, repo)
	if err != nil {
		return fmt.Errorf("seed incident numbers: %w", err)
	}

	a.incidents = incidents.NewService(
		repo,
		a.directory,
		incidents.NewCache(backend, cfg.Cache.TTL),
		incidents.NewBusPublisher(a.bus, cfg.Events.Topic),
		numbers,
	)
	return nil
}

func (a *App) cacheBackend(ctx context.Context) (cache.Backend, error) {
	cfg := a.config.Cache
	if cfg.Backend != config.BackendRedis {
		return cache.NewMemory(cfg.Size, cfg.TTL), nil
	}

	client, err := cacheredis.Connect(ctx, cacheredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.redis = client
	return cacheredis.New(client), nil
}

func (a *App) retryPolicy() eventbus.RetryPolicy {
	return eventbus.RetryPolicy{
		Initial: a.config.Events.RetryInitial,
		Max:     a.config.Events.RetryMax,
	}
}

// Incidents returns the lifecycle service.
func (a *App) Incidents() *incidents.Service {
	return a.incidents
}

// Close releases every backend connection.
func (a *App) Close() {
	if a.memoryBus != nil {
		a.memoryBus.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// ping checks every remote backend.
func (a *App) ping(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	if a.db == nil {
		return
	}
	metrics.CollectDBPool(ctx, a.db, metrics.DefaultDBPoolInterval)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
