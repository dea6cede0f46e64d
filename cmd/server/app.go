package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/phrazzld/coursegen/internal/chat"
	"github.com/phrazzld/coursegen/internal/config"
	"github.com/phrazzld/coursegen/internal/events"
	"github.com/phrazzld/coursegen/internal/generation"
	"github.com/phrazzld/coursegen/internal/observability"
	"github.com/phrazzld/coursegen/internal/platform/courseapi"
	"github.com/phrazzld/coursegen/internal/platform/gemini"
	"github.com/phrazzld/coursegen/internal/platform/postgres"
	"github.com/phrazzld/coursegen/internal/platform/redis"
	"github.com/phrazzld/coursegen/internal/platform/sqlite"
	"github.com/phrazzld/coursegen/internal/store"
	"github.com/phrazzld/coursegen/internal/task"
	"github.com/phrazzld/coursegen/internal/typewriter"
)

const metricsNamespace = "coursegen"

// application holds the long-lived components of the server.
type application struct {
	config *config.Config
	logger *slog.Logger

	snapshots store.SnapshotStore
	service   generation.Service
	metrics   *observability.Metrics
	hub       *events.Hub
	emitter   *events.InMemoryEmitter
	engine    *task.Engine
	chat      *chat.Session

	// closers release storage connections, last opened first
	closers []func() error
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *application, err error) {
	app = &application{
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = observability.NewMetrics(metricsNamespace, registry)

	snapshots, err := app.openSnapshotStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	app.snapshots = app.metrics.CountSnapshotErrors(snapshots)
	logger.Info("Snapshot store ready", "backend", cfg.Storage.Backend)

	app.service, err = newGenerationService(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation service: %w", err)
	}
	logger.Info("Generation service initialized", "backend", cfg.Remote.Backend)

	app.hub = events.NewHub(logger)
	app.emitter = events.NewInMemoryEmitter(logger)
	app.emitter.RegisterHandler(app.hub)
	app.emitter.RegisterHandler(app.metrics)

	app.engine = task.New(app.service, app.snapshots, engineConfig(cfg.Engine), logger,
		task.WithEmitter(app.emitter))
	if err := app.engine.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore generation state: %w", err)
	}
	logger.Info("Generation state restored",
		"tasks", len(app.engine.Tasks()),
		"queue_items", len(app.engine.Queue()))

	chatConfig := chat.DefaultConfig()
	chatConfig.NodeContextChars = cfg.Engine.ChatNodeContextChars
	app.chat = chat.NewSession(app.service, app.engine, app.emitter, chatConfig, logger)

	logger.Info("Application initialized successfully")
	return app, nil
}

func engineConfig(cfg config.EngineConfig) task.Config {
	return task.Config{
		QueueYield:           time.Duration(cfg.QueueYieldMillis) * time.Millisecond,
		PreviousContextChars: cfg.PreviousContextChars,
		Typewriter: typewriter.Config{
			Interval:   time.Duration(cfg.TypewriterIntervalMillis) * time.Millisecond,
			DrainTicks: cfg.TypewriterDrainTicks,
		},
	}
}

// openSnapshotStore opens the configured backend and registers its closer.
func (app *application) openSnapshotStore(ctx context.Context) (store.SnapshotStore, error) {
	cfg := app.config.Storage
	log := app.logger

	switch cfg.Backend {
	case config.StorageMemory:
		log.Warn("Using in-memory snapshot store; generation state is lost on exit")
		return store.NewMemorySnapshotStore(), nil

	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath, cfg.Key, log)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, s.Close)
		return s, nil

	case config.StoragePostgres:
		db, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, db.Close)
		if err := postgres.Migrate(ctx, db, log); err != nil {
			return nil, err
		}
		return postgres.NewSnapshotStore(db, cfg.Key, log), nil

	case config.StorageRedis:
		rdb, err := redis.Connect(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, rdb.Close)
		return redis.NewSnapshotStore(rdb, cfg.Key, log), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newGenerationService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (generation.Service, error) {
	switch cfg.Remote.Backend {
	case config.BackendHTTP:
		client, err := courseapi.NewClient(
			cfg.Remote.BaseURL,
			time.Duration(cfg.Remote.RequestTimeoutSeconds)*time.Second,
			logger,
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendGemini:
		g, err := gemini.New(ctx, logger.With("component", "llm_generator"), cfg.LLM)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("%w: unknown remote backend %q", generation.ErrInvalidConfig, cfg.Remote.Backend)
	}
}

// cleanup releases everything newApplication acquired. It is safe to call
// on a partly built application.
func (app *application) cleanup() {
	if app.engine != nil {
		app.engine.Close()
	}
	if app.hub != nil {
		app.hub.Close()
	}

	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	if err := errors.Join(errs...); err != nil {
		app.logger.Error("Error closing storage", "error", err)
	}

	app.logger.Info("Application shutdown completed")
}
