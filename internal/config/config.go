package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	// Counter store. Addr is startup-fatal when missing: quota enforcement
	// cannot fail open just because the cache was never configured.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Shared secret for billing provider callbacks. Startup-fatal when missing.
	WebhookSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	MetricsEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

var (
	ErrMissingRedisAddr     = errors.New("REDIS_ADDR is required")
	ErrMissingWebhookSecret = errors.New("REVENUECAT_WEBHOOK_SECRET is required")
)

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "entitlements"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
		RedisDB:       getenvInt("REDIS_DB", 0),

		WebhookSecret: strings.TrimSpace(getenv("REVENUECAT_WEBHOOK_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "gosuraksha"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),

		MetricsEnabled: getenvBool("METRICS_ENABLED", false),
		OTLPEndpoint:   getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:   strings.ToLower(getenv("OTLP_PROTOCOL", "grpc")),
	}

	if cfg.RedisAddr == "" {
		return Config{}, ErrMissingRedisAddr
	}
	if cfg.WebhookSecret == "" {
		return Config{}, ErrMissingWebhookSecret
	}

	return cfg, nil
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
