// Package app wires the sunspot components from a loaded Config. Every
// binary builds the same graph; the entry points differ only in which
// services they drive.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"sunspot/internal/cache"
	"sunspot/internal/config"
	"sunspot/internal/db"
	"sunspot/internal/exposure"
	"sunspot/internal/queue"
	"sunspot/internal/scheduler"
	"sunspot/internal/telemetry"
	"sunspot/internal/timeline"
	"sunspot/internal/types"
	"sunspot/internal/weather"
)

// App holds the wired components. Fields a process does not need may be
// nil: Trigger is nil without SQS_PRECOMPUTE.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool       *pgxpool.Pool
	Geometry   *db.GeometryRepository
	Schedules  *db.ScheduleRepository
	JobLock    *db.JobLockRepository
	JobHistory *db.JobHistoryRepository
	Cache      cache.Store

	Exposure     *exposure.Service
	Timeline     *timeline.Generator
	Precompute   *scheduler.PrecomputeService
	Reaper       *scheduler.ReaperService
	Invalidation *scheduler.InvalidationService
	Trigger      *queue.PrecomputeTrigger

	closers []func()
}

// New connects to Postgres and the cache backend and builds every service.
// The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	clock := types.RealClock{}

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), cfg.Database.PoolConfig())
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)

	store, err := a.newCacheStore(ctx, clock)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = store

	var awsCfg *aws.Config
	if cfg.Observability.MetricsBackend == "cloudwatch" || cfg.AWS.PrecomputeQueue != "" {
		loaded, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			a.Close()
			return nil, err
		}
		awsCfg = &loaded
	}

	var cw telemetry.CloudWatchClient
	if awsCfg != nil && cfg.Observability.MetricsBackend == "cloudwatch" {
		cw = cloudwatch.NewFromConfig(*awsCfg)
	}
	calcMetrics, runMetrics := Recorders(cfg.Observability, cw, prometheus.DefaultRegisterer, logger)

	precomputeOpts, err := cfg.Precompute.PrecomputeOptions()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("precompute options: %w", err)
	}
	engine, err := exposure.NewEngine(cfg.Engine.EngineOptions())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("exposure engine: %w", err)
	}

	a.Geometry = db.NewGeometryRepository(pool, cfg.Engine.SearchRadiusM)
	a.Schedules = db.NewScheduleRepository(pool)
	a.JobLock = db.NewJobLockRepository(pool, clock)
	a.JobHistory = db.NewJobHistoryRepository(pool)

	resolver := weather.NewResolver(db.NewWeatherSampleRepository(pool), cfg.Weather.ResolverConfig(), logger)

	a.Exposure, err = exposure.NewService(exposure.ServiceConfig{
		Engine:             engine,
		Geometry:           a.Geometry,
		Weather:            resolver,
		Cache:              store,
		Metrics:            calcMetrics,
		Clock:              clock,
		Logger:             logger,
		Resolution:         precomputeOpts.Resolution,
		EntryTTL:           cfg.Precompute.CacheEntryTTL,
		ComputationVersion: cfg.Precompute.ComputationVersion,
		BatchConcurrency:   cfg.Engine.BatchConcurrency,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("exposure service: %w", err)
	}
	a.Timeline = timeline.NewGenerator(a.Exposure, logger)

	a.Precompute = scheduler.NewPrecomputeService(scheduler.PrecomputeConfig{
		Source:    a.Exposure,
		Patios:    a.Geometry,
		Schedules: a.Schedules,
		Metrics:   runMetrics,
		Clock:     clock,
		Logger:    logger,
		Options:   precomputeOpts,
	})
	a.Reaper = scheduler.NewReaperService(store, runMetrics, logger)

	var recomputeQueue scheduler.RecomputeQueue
	if awsCfg != nil && cfg.AWS.PrecomputeQueue != "" {
		a.Trigger = queue.NewPrecomputeTrigger(sqs.NewFromConfig(*awsCfg), cfg.AWS.PrecomputeQueue, clock, logger)
		recomputeQueue = a.Trigger
	}
	a.Invalidation = scheduler.NewInvalidationService(scheduler.InvalidationConfig{
		Cache:         store,
		Queue:         recomputeQueue,
		Nearby:        a.Geometry,
		Clock:         clock,
		Logger:        logger,
		Options:       precomputeOpts,
		SearchRadiusM: cfg.Engine.SearchRadiusM,
	})

	logger.InfoContext(ctx, "application wired",
		"cache_backend", cfg.Cache.Backend,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"recompute_queue", cfg.AWS.PrecomputeQueue != "",
		"version", cfg.Build.Version,
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) newCacheStore(ctx context.Context, clock types.Clock) (cache.Store, error) {
	if a.Config.Cache.Backend != "redis" {
		return cache.NewMemoryStore(a.Config.Cache.Shards), nil
	}
	opts, err := redis.ParseURL(a.Config.Cache.RedisURL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return cache.NewRedisStore(client, clock, a.Logger)
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// Recorders picks the metric sinks for the configured backend. Per
// calculation metrics are only kept by Prometheus; CloudWatch receives the
// scheduled job summaries. Either result may be nil, which the services
// treat as a no-op recorder.
func Recorders(cfg config.ObservabilityConfig, cw telemetry.CloudWatchClient, reg prometheus.Registerer, logger *slog.Logger) (exposure.Recorder, scheduler.RunRecorder) {
	switch cfg.MetricsBackend {
	case "prometheus":
		rec := telemetry.NewPrometheusRecorder(reg)
		return rec, rec
	case "cloudwatch":
		if cw == nil {
			return nil, nil
		}
		return nil, telemetry.NewCloudWatchRecorder(cw, cfg.MetricNamespace, logger)
	default:
		return nil, nil
	}
}
