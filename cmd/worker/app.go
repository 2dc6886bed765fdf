package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	kafkaadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/kafka"
	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/llm"
	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/pdf"
	"github.com/couchcryptid/advisory-alert-etl/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/advisory-alert-etl/internal/adapter/redis"
	"github.com/couchcryptid/advisory-alert-etl/internal/config"
	"github.com/couchcryptid/advisory-alert-etl/internal/extract"
	"github.com/couchcryptid/advisory-alert-etl/internal/observability"
	"github.com/couchcryptid/advisory-alert-etl/internal/pipeline"
	"github.com/couchcryptid/advisory-alert-etl/internal/places"
	"github.com/couchcryptid/advisory-alert-etl/internal/structure"
)

// app holds the wired pipeline and the connections it owns.
type app struct {
	logger     *slog.Logger
	redis      *goredis.Client
	pool       *pgxpool.Pool
	publisher  *kafkaadapter.Publisher
	queue      *redisadapter.Queue
	store      *postgres.Store
	dispatcher *pipeline.Dispatcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*app, error) {
	a := &app{logger: logger}
	if err := a.wire(ctx, cfg, metrics); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) error {
	logger := a.logger
	var err error

	if a.redis, err = redisadapter.NewClient(ctx, cfg.RedisURL); err != nil {
		return err
	}
	a.queue = redisadapter.NewQueue(a.redis, cfg.QueueName, cfg.VisibilityTimeout, cfg.MaxAttempts, logger)

	if a.pool, err = postgres.NewPool(ctx, cfg.DatabaseURL, int32(cfg.BatchSize)+4); err != nil { //nolint:gosec // BATCH_SIZE is capped at 1000
		return err
	}
	a.store = postgres.NewStore(a.pool)

	resolver, err := newResolver(ctx, cfg, a.store, logger, metrics)
	if err != nil {
		return err
	}

	models, err := llm.NewRegistry(cfg)
	if err != nil {
		return err
	}
	logger.Info("language models configured",
		"provider", cfg.LLMProvider, "vision", models.Vision.Name(), "structure", models.Structure.Name())

	deps := pipeline.Deps{
		Extractor: extract.New(
			extract.NewHTTPFetcher(cfg.FetchTimeout),
			pdf.NewRasterizer(cfg.RasterDPI),
			models.Vision, logger, metrics,
		),
		Structurer: structure.New(models.Structure),
		Resolver:   resolver,
		Store:      a.store,
		Queue:      a.queue,
	}
	if cfg.PublishingEnabled() {
		a.publisher = kafkaadapter.NewPublisher(cfg, logger)
		deps.Publisher = a.publisher
		logger.Info("alert publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaAlertTopic)
	}

	orch := pipeline.NewOrchestrator(deps, logger, metrics)
	a.dispatcher = pipeline.NewDispatcher(a.queue, orch, logger, metrics)
	return nil
}

// newResolver loads reference places from GAZETTEER_PATH, or from Postgres
// when unset, and layers the Mapbox fallback on top when enabled.
func newResolver(ctx context.Context, cfg *config.Config, store *postgres.Store, logger *slog.Logger, metrics *observability.Metrics) (*places.Resolver, error) {
	var (
		g   *places.Gazetteer
		err error
	)
	if cfg.GazetteerPath != "" {
		g, err = places.LoadGazetteerFile(cfg.GazetteerPath, cfg.FuzzyThreshold)
	} else {
		records, loadErr := store.LoadPlaces(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		g, err = places.NewGazetteer(records, cfg.FuzzyThreshold)
	}
	if err != nil {
		return nil, fmt.Errorf("load places: %w", err)
	}
	logger.Info("reference places loaded", "count", g.Len())

	var backend places.Backend = g
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		backend = places.NewGeocoderBackend(g, client, logger, metrics)
		logger.Info("mapbox geocoding fallback enabled", "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding fallback disabled")
	}
	return places.NewResolver(backend, cfg.PlaceCacheSize, logger, metrics), nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}
}
