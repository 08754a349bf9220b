// Package config loads and validates engine configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Storage backend names accepted by FEDRA_STORAGE.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds all engine configuration.
type Config struct {
	// Storage settings. Backend selects the clash store implementation.
	Storage     string // "memory", "sqlite", or "postgres"
	SQLitePath  string // database file for the sqlite backend
	DatabaseURL string // Postgres URL for the postgres backend

	// Detection settings.
	MaxConcurrentRuns int
	DefaultTolerance  float64

	// Monitor settings.
	MonitorInterval time.Duration
	MonitorWindow   time.Duration // how recent a model update must be for advisory analysis

	// MCP settings.
	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// FromEnv reads configuration from environment variables with sensible
// defaults. It does not validate: callers that layer overrides on top (the
// App options) validate once the final values are in place.
func FromEnv() Config {
	return Config{
		Storage:           envStr("FEDRA_STORAGE", StorageMemory),
		SQLitePath:        envStr("FEDRA_SQLITE_PATH", "fedra.db"),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		MaxConcurrentRuns: envInt("FEDRA_MAX_CONCURRENT_RUNS", 4),
		DefaultTolerance:  envFloat("FEDRA_DEFAULT_TOLERANCE", 0),
		MonitorInterval:   envDuration("FEDRA_MONITOR_INTERVAL", time.Minute),
		MonitorWindow:     envDuration("FEDRA_MONITOR_WINDOW", 10*time.Minute),
		MCPEnabled:        envBool("FEDRA_MCP_ENABLED", false),
		OTELEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:       envStr("OTEL_SERVICE_NAME", "fedra"),
		LogLevel:          envStr("FEDRA_LOG_LEVEL", "info"),
	}
}

// Load reads configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: FEDRA_SQLITE_PATH is required for sqlite storage")
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage)
	}
	if c.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("config: FEDRA_MAX_CONCURRENT_RUNS must be positive")
	}
	if c.DefaultTolerance < 0 {
		return fmt.Errorf("config: FEDRA_DEFAULT_TOLERANCE must not be negative")
	}
	if c.MonitorInterval <= 0 {
		return fmt.Errorf("config: FEDRA_MONITOR_INTERVAL must be positive")
	}
	if c.MonitorWindow <= 0 {
		return fmt.Errorf("config: FEDRA_MONITOR_WINDOW must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
