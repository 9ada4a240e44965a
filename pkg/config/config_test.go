package config

import (
	"testing"
	"time"

	"github.com/doorwayhq/doorway/pkg/observability"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DOORWAY_POSTGRES_URL", "postgres://localhost/doorway_test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.OpsPort != "9090" {
		t.Errorf("Expected default ops port 9090, got %s", cfg.Server.OpsPort)
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Expected default retention 90 days, got %d", cfg.Audit.RetentionDays)
	}
	if cfg.Plans.CacheTTL != time.Minute {
		t.Errorf("Expected default plan cache TTL 1m, got %v", cfg.Plans.CacheTTL)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("Expected default log level info, got %v", cfg.Observability.LogLevel)
	}
	if cfg.RateLimit.Enabled {
		t.Error("Expected rate limiting disabled by default")
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DOORWAY_POSTGRES_URL", "postgres://db:5432/doorway")
	t.Setenv("DOORWAY_PORT", "8180")
	t.Setenv("DOORWAY_LOG_LEVEL", "debug")
	t.Setenv("DOORWAY_AUDIT_RETENTION_DAYS", "30")
	t.Setenv("DOORWAY_PLAN_CACHE_TTL", "5m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8180" {
		t.Errorf("Expected port 8180, got %s", cfg.Server.Port)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("Expected debug level, got %v", cfg.Observability.LogLevel)
	}
	if cfg.Audit.RetentionDays != 30 {
		t.Errorf("Expected retention 30 days, got %d", cfg.Audit.RetentionDays)
	}
	if cfg.Plans.CacheTTL != 5*time.Minute {
		t.Errorf("Expected cache TTL 5m, got %v", cfg.Plans.CacheTTL)
	}
}

func TestLoadConfig_MissingDatabase(t *testing.T) {
	t.Setenv("DOORWAY_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error when postgres URL is missing")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{
				Port:    "8080",
				OpsPort: "9090",
			},
			Database: DatabaseConfig{URL: "postgres://localhost/doorway"},
			Audit:    AuditConfig{Enabled: true, RetentionDays: 90},
		}
	}

	t.Run("valid", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Expected valid config, got %v", err)
		}
	})

	t.Run("same ports", func(t *testing.T) {
		cfg := base()
		cfg.Server.OpsPort = cfg.Server.Port
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for identical ports")
		}
	})

	t.Run("rate limit without redis", func(t *testing.T) {
		cfg := base()
		cfg.RateLimit = RateLimitConfig{Enabled: true, RequestsPerWindow: 10, Window: time.Minute}
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for rate limiting without Redis")
		}
	})

	t.Run("watch without definitions file", func(t *testing.T) {
		cfg := base()
		cfg.Objects.Watch = true
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for watch without definitions file")
		}
	})

	t.Run("nonpositive retention", func(t *testing.T) {
		cfg := base()
		cfg.Audit.RetentionDays = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for zero retention days")
		}
	})
}
