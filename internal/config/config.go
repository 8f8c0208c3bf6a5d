// Package config provides centralized configuration management for the ingestion
// service and CLI. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP invoker settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 by default because imports run inside the request.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including draining running jobs (default: 60s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"60s"`

	// MaxUploadSize caps multipart uploads in bytes (default: 100MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"104857600"`

	// ImportRoot enables path-based imports for files below this directory.
	// Empty disables them; uploads still work.
	ImportRoot string `env:"SERVER_IMPORT_ROOT"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds ingestion engine settings.
type IngestConfig struct {
	// ChunkSize is the number of rows per streamed batch (default: 5000)
	ChunkSize int `env:"INGEST_CHUNK_SIZE" default:"5000"`

	// Strategy selects the write path: "copy" or "rows" (default: copy)
	Strategy string `env:"INGEST_STRATEGY" default:"copy"`

	// AnalyzeThreshold is the row count at which a job refreshes table
	// statistics once it finishes loading (default: 50000). 0 disables it.
	AnalyzeThreshold int64 `env:"INGEST_ANALYZE_THRESHOLD" default:"50000"`

	// Idempotency enables the ledger skip check (default: true)
	Idempotency bool `env:"INGEST_IDEMPOTENCY" default:"true"`

	// LegacyEncoding is the single-byte codepage tried after UTF-8 (default: windows-1252)
	LegacyEncoding string `env:"INGEST_LEGACY_ENCODING" default:"windows-1252"`

	// SniffSampleBytes is how much decoded text delimiter inference inspects (default: 64KiB)
	SniffSampleBytes int `env:"INGEST_SNIFF_SAMPLE_BYTES" default:"65536"`

	// MaxConcurrent is the maximum number of jobs one process runs at once (default: 4)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a job waits for a slot before being rejected (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// TargetSchema qualifies target tables; empty uses the search_path
	TargetSchema string `env:"INGEST_TARGET_SCHEMA"`
}

// SecurityConfig holds security-related settings for the HTTP invoker.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables X-API-Key validation on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
