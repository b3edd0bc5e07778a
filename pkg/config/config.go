package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/crewlytics/crewsync/pkg/identity"
	"github.com/crewlytics/crewsync/pkg/observability"
	"github.com/crewlytics/crewsync/pkg/storage/postgres"
	"github.com/crewlytics/crewsync/pkg/sync"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       postgres.ConnectionConfig
	Auth          AuthConfig
	Sync          SyncConfig
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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig holds token signing settings
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
}

// SyncConfig holds bulk pipeline tunables
type SyncConfig struct {
	ChunkSize   int
	Parallelism int
	Retry       sync.RetryConfig
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	// Cron expression for periodic aggregate refresh; empty disables it.
	RefreshSchedule string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Auth:          loadAuthConfig(),
		Sync:          loadSyncConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CREWSYNC_HOST", "0.0.0.0"),
		Port:            getEnv("CREWSYNC_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CREWSYNC_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CREWSYNC_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("CREWSYNC_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CREWSYNC_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CREWSYNC_HEALTH_PORT", "9090"),
	}
}

func loadStorageConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  getEnv("CREWSYNC_POSTGRES_URL", ""),
		ReplicaURLs: postgres.ParseReplicaURLs(getEnv("CREWSYNC_POSTGRES_REPLICA_URLS", "")),
		MaxConns:    getEnvInt("CREWSYNC_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("CREWSYNC_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("CREWSYNC_POSTGRES_TIMEOUT", 30*time.Second),
		MaxLifetime: getEnvDuration("CREWSYNC_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("CREWSYNC_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenSecret: getEnv("CREWSYNC_TOKEN_SECRET", ""),
		TokenTTL:    getEnvDuration("CREWSYNC_TOKEN_TTL", 12*time.Hour),
	}
}

func loadSyncConfig() SyncConfig {
	return SyncConfig{
		ChunkSize:   getEnvInt("CREWSYNC_CHUNK_SIZE", sync.DefaultChunkSize),
		Parallelism: getEnvInt("CREWSYNC_SYNC_PARALLELISM", sync.DefaultParallelism),
		Retry: sync.RetryConfig{
			MaxAttempts:       getEnvInt("CREWSYNC_RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:      getEnvDuration("CREWSYNC_RETRY_BASE_DELAY", 2*time.Second),
			MaxDelay:          getEnvDuration("CREWSYNC_RETRY_MAX_DELAY", 10*time.Second),
			BackoffMultiplier: getEnvFloat("CREWSYNC_RETRY_MULTIPLIER", 2.0),
		},
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:        parseLogLevel(getEnv("CREWSYNC_LOG_LEVEL", "info")),
		MetricsEnabled:  getEnvBool("CREWSYNC_METRICS_ENABLED", true),
		RefreshSchedule: getEnv("CREWSYNC_REFRESH_SCHEDULE", ""),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.MinConns > c.Storage.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Storage.MinConns, c.Storage.MaxConns)
	}

	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("token secret is required")
	}
	if len(c.Auth.TokenSecret) < identity.MinSecretLength {
		return fmt.Errorf("token secret must be at least %d bytes", identity.MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Sync.ChunkSize <= 0 || c.Sync.ChunkSize > sync.DefaultChunkSize {
		return fmt.Errorf("chunk size must be between 1 and %d", sync.DefaultChunkSize)
	}
	if c.Sync.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry attempts must be positive")
	}
	if c.Sync.Retry.InitialDelay > c.Sync.Retry.MaxDelay {
		return fmt.Errorf("retry base delay exceeds max delay")
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
