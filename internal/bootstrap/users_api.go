package bootstrap

import (
	"context"
	"strings"
	"time"

	"users_server/adapter/in/http"
	"users_server/infra/middleware"
	"users_server/pkg/logger"
	"users_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const apiVersion = "1.0"

// NewAPI builds the HTTP application. consumer is optional; when set its
// broker connection is part of the readiness probe.
func NewAPI(deps *Dependencies, consumer *Consumer) (*fiber.App, error) {
	cfg := deps.Config

	verifier, err := middleware.LoadVerifier(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		StrictRouting:         false,
		CaseSensitive:         false,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    1 * 1024 * 1024, // 1MB
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,

		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(deps.Metrics))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		allowOrigins = "*"
		allowCredentials = false
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	health := http.NewHealthHandler().
		WithCheck("mongodb", func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, readpref.Primary())
		}).
		WithCheck("mongodb_breaker", deps.MongoBreaker.Check)
	if deps.Redis != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	if consumer != nil {
		health.WithCheck("bus", consumer.Ping)
	}
	health.Register(app)

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(deps.Registry)))

	// Public docs must be mounted before the authenticated group.
	http.NewDocsHandler(apiVersion).Register(app)

	auditor := middleware.NewAuditor(deps.Redis)
	handlers := []fiber.Handler{
		middleware.NoCache(),
		middleware.AuditMutations(auditor),
		middleware.JWTAuth(verifier),
	}
	if cfg.RateLimitPerMinute > 0 {
		limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		app.Hooks().OnShutdown(func() error {
			limiter.Close()
			return nil
		})
		handlers = append(handlers, limiter.Handler())
	}

	api := app.Group("/api/users", handlers...)
	http.NewProfileHandler(deps.ProfileService).Register(api)

	logger.Info("API routes registered")
	return app, nil
}
