package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/doorwayhq/doorway/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Objects       ObjectsConfig
	Audit         AuditConfig
	Plans         PlansConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Ops server (separate port for k8s probes and /metrics)
	OpsPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	ReplicaURLs     string // comma-separated, optional
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// RedisConfig holds Redis configuration. Redis is optional: it only backs
// the distributed rate limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// RateLimitConfig holds per-organization rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	BurstSize         int
}

// ObjectsConfig holds object registry configuration
type ObjectsConfig struct {
	// DefinitionsFile is an optional YAML file with extra object type
	// definitions, hot-reloaded when Watch is set.
	DefinitionsFile string
	Watch           bool
}

// AuditConfig holds audit log configuration
type AuditConfig struct {
	Enabled       bool
	RetentionDays int
	SweepSchedule string // cron spec
	Workers       int
}

// PlansConfig holds plan feature cache configuration
type PlansConfig struct {
	CacheTTL     time.Duration
	CacheEntries int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("DOORWAY_HOST", "0.0.0.0"),
			Port:            getEnv("DOORWAY_PORT", "8080"),
			ReadTimeout:     getEnvDuration("DOORWAY_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("DOORWAY_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("DOORWAY_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("DOORWAY_SHUTDOWN_TIMEOUT", 30*time.Second),
			OpsPort:         getEnv("DOORWAY_OPS_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DOORWAY_POSTGRES_URL", ""),
			ReplicaURLs:     getEnv("DOORWAY_POSTGRES_REPLICA_URLS", ""),
			MaxOpenConns:    getEnvInt("DOORWAY_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("DOORWAY_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DOORWAY_POSTGRES_CONN_LIFETIME", 30*time.Minute),
			MigrateOnStart:  getEnvBool("DOORWAY_MIGRATE_ON_START", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("DOORWAY_REDIS_ADDR", ""),
			Password: getEnv("DOORWAY_REDIS_PASSWORD", ""),
			DB:       getEnvInt("DOORWAY_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getEnvBool("DOORWAY_RATE_LIMIT_ENABLED", false),
			RequestsPerWindow: getEnvInt("DOORWAY_RATE_LIMIT_REQUESTS", 300),
			Window:            getEnvDuration("DOORWAY_RATE_LIMIT_WINDOW", time.Minute),
			BurstSize:         getEnvInt("DOORWAY_RATE_LIMIT_BURST", 50),
		},
		Objects: ObjectsConfig{
			DefinitionsFile: getEnv("DOORWAY_OBJECT_DEFINITIONS_FILE", ""),
			Watch:           getEnvBool("DOORWAY_OBJECT_DEFINITIONS_WATCH", false),
		},
		Audit: AuditConfig{
			Enabled:       getEnvBool("DOORWAY_AUDIT_ENABLED", true),
			RetentionDays: getEnvInt("DOORWAY_AUDIT_RETENTION_DAYS", 90),
			SweepSchedule: getEnv("DOORWAY_AUDIT_SWEEP_SCHEDULE", "0 3 * * *"),
			Workers:       getEnvInt("DOORWAY_AUDIT_WORKERS", 4),
		},
		Plans: PlansConfig{
			CacheTTL:     getEnvDuration("DOORWAY_PLAN_CACHE_TTL", time.Minute),
			CacheEntries: getEnvInt("DOORWAY_PLAN_CACHE_ENTRIES", 256),
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.ParseLogLevel(getEnv("DOORWAY_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("DOORWAY_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("DOORWAY_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("DOORWAY_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("DOORWAY_OTEL_SERVICE_NAME", "doorway"),
			OTelServiceVersion: getEnv("DOORWAY_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("DOORWAY_OTEL_INSECURE", true),
			OTelSampleRatio:    getEnvFloat("DOORWAY_OTEL_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.OpsPort == "" {
		return fmt.Errorf("ops port is required")
	}
	if c.Server.Port == c.Server.OpsPort {
		return fmt.Errorf("server port and ops port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.RateLimit.Enabled {
		if !c.Redis.Enabled() {
			return fmt.Errorf("rate limiting requires a Redis address")
		}
		if c.RateLimit.RequestsPerWindow <= 0 {
			return fmt.Errorf("rate limit requests per window must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Objects.Watch && c.Objects.DefinitionsFile == "" {
		return fmt.Errorf("object definitions watch requires a definitions file")
	}

	if c.Audit.Enabled && c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
