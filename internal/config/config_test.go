package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_DRIVER", "DATABASE_URL", "REDIS_URL", "SURVEY_SESSION_TTL_SECONDS", "MINIO_USE_SSL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.DatabaseDriver != "pgx" {
		t.Fatalf("expected pgx driver by default, got %q", cfg.DatabaseDriver)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Fatalf("expected 24h session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected redis disabled by default, got %q", cfg.RedisURL)
	}
}

func TestLoadSQLiteAndOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SURVEY_SESSION_TTL_SECONDS", "60")
	t.Setenv("MINIO_USE_SSL", "true")
	cfg := Load()
	if cfg.DatabaseDriver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL != defaultDatabaseURL("sqlite") {
		t.Fatalf("unexpected sqlite url %q", cfg.DatabaseURL)
	}
	if cfg.SessionTTL != time.Minute {
		t.Fatalf("expected 1m ttl, got %s", cfg.SessionTTL)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("expected MinioUseSSL to be true")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SURVEY_TEST_INT", "nope")
	if got := getenvInt("SURVEY_TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}
