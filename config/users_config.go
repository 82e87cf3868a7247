package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bus drivers
const (
	BusDriverAMQP  = "amqp"
	BusDriverRedis = "redis"
)

// generateConsumerID creates a unique consumer name using hostname and PID
func generateConsumerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "users"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Database
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT (RS256 public key, PEM)
	JWTPublicKeyPath string

	// Bus
	BusDriver         string
	BusWorkers        int
	BusHandlerTimeout time.Duration

	// RabbitMQ
	RMQExchangeName string
	RMQLogin        string
	RMQPassword     string
	RMQHost         string
	RMQQueueName    string
	RMQServiceName  string
	RMQPrefetch     int

	// Consumer (Redis Stream)
	ConsumerID              string
	ConsumerGroup           string
	ConsumerMaxRetries      int
	ConsumerPendingCheckSec int

	// HTTP
	AllowedOrigins     []string
	RateLimitPerMinute int // 0 disables
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "3000"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", ""),

		// Database
		MongoDBURL:  getEnv("MONGODB_URL", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGODB_DATABASE", "users"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTPublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "keys/public.key"),

		// Bus
		BusDriver:         strings.ToLower(getEnv("BUS_DRIVER", BusDriverAMQP)),
		BusWorkers:        getEnvInt("BUS_WORKERS", 4),
		BusHandlerTimeout: time.Duration(getEnvInt("BUS_HANDLER_TIMEOUT_SEC", 10)) * time.Second,

		// RabbitMQ
		RMQExchangeName: getEnv("RMQ_EXCHANGE_NAME", "users"),
		RMQLogin:        getEnv("RMQ_LOGIN", "guest"),
		RMQPassword:     getEnv("RMQ_PASSWORD", "guest"),
		RMQHost:         getEnv("RMQ_HOST", "localhost:5672"),
		RMQQueueName:    getEnv("RMQ_QUEUE_NAME", "users-service"),
		RMQServiceName:  getEnv("RMQ_SERVICE_NAME", "users-service"),
		RMQPrefetch:     getEnvInt("RMQ_PREFETCH", 16),

		// Consumer
		ConsumerID:              getEnv("CONSUMER_ID", generateConsumerID()),
		ConsumerGroup:           getEnv("REDIS_CONSUMER_GROUP", "users-service"),
		ConsumerMaxRetries:      getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerPendingCheckSec: getEnvInt("CONSUMER_PENDING_CHECK_SEC", 30),

		// HTTP
		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MIN", 600),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.MongoDBURL == "" {
		errs = append(errs, errors.New("MONGODB_URL is required"))
	}
	if c.JWTPublicKeyPath == "" {
		errs = append(errs, errors.New("JWT_PUBLIC_KEY_PATH is required"))
	}
	switch c.BusDriver {
	case BusDriverAMQP:
		if c.RMQHost == "" || c.RMQQueueName == "" || c.RMQExchangeName == "" {
			errs = append(errs, errors.New("RMQ_HOST, RMQ_QUEUE_NAME and RMQ_EXCHANGE_NAME are required for the amqp bus"))
		}
	case BusDriverRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis bus"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown BUS_DRIVER %q", c.BusDriver))
	}
	if c.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MIN must not be negative"))
	}
	if c.BusWorkers <= 0 {
		errs = append(errs, errors.New("BUS_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// AMQPURL builds the broker URL from the RMQ_* settings.
func (c *Config) AMQPURL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.RMQLogin, c.RMQPassword),
		Host:   c.RMQHost,
		Path:   "/",
	}
	return u.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
