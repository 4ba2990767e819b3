package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	HTTPAddr string

	OTLPEndpoint string

	DBType     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// ReadTimeout bounds store reads on summary/validation paths so an
	// unreachable database degrades instead of hanging the caller.
	ReadTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StripeWebhookSecret string
	MediaWebhookSecret  string

	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

// RateLimitConfig controls the redis token bucket in front of ingest endpoints.
type RateLimitConfig struct {
	Enabled       bool
	UserRate      float64
	UserBurst     int
	EndpointRate  float64
	EndpointBurst int
}

// SchedulerConfig controls the billing-cycle reset job.
type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "metering"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "metering"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),

		ReadTimeout: getenvDuration("STORE_READ_TIMEOUT", 3*time.Second),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       int(getenvInt64("REDIS_DB", 0)),

		StripeWebhookSecret: strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
		MediaWebhookSecret:  strings.TrimSpace(getenv("MEDIA_WEBHOOK_SECRET", "")),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			UserRate:      getenvFloat("RATE_LIMIT_USER_RATE", 20),
			UserBurst:     int(getenvInt64("RATE_LIMIT_USER_BURST", 40)),
			EndpointRate:  getenvFloat("RATE_LIMIT_ENDPOINT_RATE", 200),
			EndpointBurst: int(getenvInt64("RATE_LIMIT_ENDPOINT_BURST", 400)),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:   int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
