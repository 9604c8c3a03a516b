// Package config loads ledger configuration from environment variables and
// optional YAML ledger profiles.
package config

import "os"

// Config holds process-level configuration.
type Config struct {
	LogLevel string

	// Storage selects the backend: "memory", "sqlite", or "postgres".
	Storage     string
	SQLitePath  string
	DatabaseURL string

	// CacheBackend selects "memory" or "redis".
	CacheBackend  string
	RedisAddr     string
	RedisPassword string

	LedgerName string
	// SigningSeed is a hex-encoded 32-byte master seed. Per-ledger keys
	// are derived from it; empty means generate an ephemeral key.
	SigningSeed string

	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load loads configuration from environment variables with dev defaults.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	storage := os.Getenv("NUCLEUS_STORAGE")
	if storage == "" {
		storage = "sqlite"
	}

	sqlitePath := os.Getenv("NUCLEUS_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/nucleus.db"
	}

	cacheBackend := os.Getenv("NUCLEUS_CACHE")
	if cacheBackend == "" {
		cacheBackend = "memory"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	ledgerName := os.Getenv("NUCLEUS_LEDGER_NAME")
	if ledgerName == "" {
		ledgerName = "main"
	}

	return &Config{
		LogLevel:         logLevel,
		Storage:          storage,
		SQLitePath:       sqlitePath,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		CacheBackend:     cacheBackend,
		RedisAddr:        redisAddr,
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		LedgerName:       ledgerName,
		SigningSeed:      os.Getenv("NUCLEUS_SIGNING_SEED"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryEnabled: os.Getenv("NUCLEUS_TELEMETRY") == "true",
	}
}
