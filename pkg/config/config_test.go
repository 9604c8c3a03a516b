package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("NUCLEUS_STORAGE", "")
	t.Setenv("NUCLEUS_SQLITE_PATH", "")
	t.Setenv("NUCLEUS_CACHE", "")
	t.Setenv("NUCLEUS_LEDGER_NAME", "")
	t.Setenv("NUCLEUS_TELEMETRY", "")

	cfg := Load()
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Storage)
	assert.Equal(t, "data/nucleus.db", cfg.SQLitePath)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, "main", cfg.LedgerName)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("NUCLEUS_STORAGE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://prod:5432/nucleus")
	t.Setenv("NUCLEUS_CACHE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("NUCLEUS_LEDGER_NAME", "attestations")
	t.Setenv("NUCLEUS_TELEMETRY", "true")

	cfg := Load()
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Storage)
	assert.Equal(t, "postgres://prod:5432/nucleus", cfg.DatabaseURL)
	assert.Equal(t, "redis", cfg.CacheBackend)
	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, "attestations", cfg.LedgerName)
	assert.True(t, cfg.TelemetryEnabled)
}
