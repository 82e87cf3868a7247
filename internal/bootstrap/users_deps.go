package bootstrap

import (
	"context"
	"fmt"
	"time"

	"users_server/adapter/out/mongodb"
	"users_server/config"
	"users_server/core/port/in"
	"users_server/core/service/profile"
	"users_server/infra/database"
	"users_server/pkg/logger"
	"users_server/pkg/metrics"
	"users_server/pkg/resilience"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	MongoDB *mongo.Client
	Redis   *redis.Client // nil unless REDIS_URL is set

	// Metrics
	Registry *prometheus.Registry
	Metrics  *metrics.Collector

	// Profiles
	MongoBreaker   *resilience.Breaker
	ProfileRepo    *mongodb.ProfileAdapter
	ProfileService in.ProfileService
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deps := &Dependencies{Config: cfg}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Metrics
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewCollector(deps.Registry)

	// MongoDB
	mongoClient, err := mongodb.NewClient(ctx, mongodb.DefaultClientConfig(cfg.MongoDBURL))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.WithError(err).Warn("MongoDB disconnect failed")
		}
	})
	logger.Info("MongoDB connected (database: %s)", cfg.MongoDBName)

	// Redis (optional)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Redis = redisClient
		cleanups = append(cleanups, func() {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("Redis close failed")
			}
		})
		logger.Info("Redis connected")
	}

	// Profile store behind a breaker
	breakerCfg := resilience.DefaultBreakerConfig("mongodb")
	breakerCfg.Expected = mongodb.ExpectedErrors
	deps.MongoBreaker = resilience.NewBreaker(breakerCfg, deps.Metrics.RecordBreakerState)

	deps.ProfileRepo = mongodb.NewProfileAdapter(mongoClient.Database(cfg.MongoDBName), deps.MongoBreaker)
	if err := deps.ProfileRepo.EnsureIndexes(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create profile indexes: %w", err)
	}

	deps.ProfileService = profile.NewService(deps.ProfileRepo)

	return deps, cleanup, nil
}
