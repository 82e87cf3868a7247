package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"users_server/config"
	"users_server/internal/bootstrap"
	"users_server/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	shutdownTimeout = 30 * time.Second // Maximum time to wait for graceful shutdown
)

func main() {
	// Initialize logger early
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "users",
	})

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "Run mode: api, consumer, all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	level := logger.ParseLevel(cfg.LogLevel)
	if cfg.LogLevel == "" && cfg.IsDevelopment() {
		level = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   level,
		Service: "users",
		Console: cfg.IsDevelopment(),
	})

	deps, cleanup, err := bootstrap.NewDependencies(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies: %v", err)
	}
	defer cleanup()

	switch *mode {
	case "api":
		runAPI(deps, nil)
	case "consumer":
		runConsumer(deps)
	case "all":
		consumer, err := bootstrap.NewConsumer(deps)
		if err != nil {
			logger.Fatal("Failed to initialize consumer: %v", err)
		}
		go func() {
			if err := consumer.Start(); err != nil {
				logger.Error("Consumer stopped: %v", err)
			}
		}()
		runAPI(deps, consumer)
		consumer.Stop()
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
}

func runAPI(deps *bootstrap.Dependencies, consumer *bootstrap.Consumer) {
	app, err := bootstrap.NewAPI(deps, consumer)
	if err != nil {
		logger.Fatal("Failed to initialize API: %v", err)
	}

	// Graceful shutdown with timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down API server (timeout: %v)...", shutdownTimeout)
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Error shutting down: %v", err)
			return
		}
		logger.Info("API server shut down gracefully")
	}()

	addr := ":" + deps.Config.Port
	logger.Info("Starting API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}

func runConsumer(deps *bootstrap.Dependencies) {
	consumer, err := bootstrap.NewConsumer(deps)
	if err != nil {
		logger.Fatal("Failed to initialize consumer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down consumer (timeout: %v)...", shutdownTimeout)
		consumer.Stop()
		close(done)
	}()

	logger.Info("Starting consumer...")
	if err := consumer.Start(); err != nil {
		logger.Error("Consumer stopped: %v", err)
	}
	stop()
	<-done
}
