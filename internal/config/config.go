// Package config provides environment-driven configuration for topograph.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all application configuration values.
type Config struct {
	StoreBackend string
	DatabaseURL  Secret
	SQLitePath   string
	SchemaPath   string
	LogLevel     string
	LogFormat    string
	AbortOnError bool
	LoadActor    string
	// MetricsAddr enables the /metrics listener when set.
	MetricsAddr string
	DBMaxConns  int32
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		StoreBackend: envOrDefault("STORE_BACKEND", BackendPostgres),
		DatabaseURL:  Secret(envOrDefault("DATABASE_URL", "")),
		SQLitePath:   envOrDefault("SQLITE_PATH", "topograph.db"),
		SchemaPath:   envOrDefault("SCHEMA_PATH", "schema.yaml"),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
		LogFormat:    envOrDefault("LOG_FORMAT", "text"),
		AbortOnError: envOrDefault("ABORT_ON_ERROR", "false") == "true",
		LoadActor:    envOrDefault("LOAD_ACTOR", defaultActor()),
		MetricsAddr:  envOrDefault("METRICS_ADDR", ""),
	}

	maxConns, err := strconv.Atoi(envOrDefault("DB_MAX_CONNS", "10"))
	if err != nil || maxConns < 2 || maxConns > 200 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be an integer between 2 and 200")
	}
	cfg.DBMaxConns = int32(maxConns)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}

	return "topograph"
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
