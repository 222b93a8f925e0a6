package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Database
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN

	// Authentication. Tokens are minted by the external auth service; the
	// server only verifies them.
	JWTSecret []byte

	// Logging
	LogLevel  string
	LogFormat string // "json" or "console"

	// Versioned saves
	SaveMaxAttempts int
	SaveBackoffBase time.Duration
	SaveDebounce    time.Duration

	// Locks
	LockTTL          time.Duration // generic atomic operations
	MigrationLockTTL time.Duration

	// Migration retries
	MigrationMaxAttempts int
	MigrationBackoffBase time.Duration

	// Migration backup sink (S3). Disabled when the bucket is empty.
	BackupBucket    string
	BackupRegion    string
	BackupEndpoint  string // optional, for S3-compatible stores
	BackupPrefix    string
	BackupAccessKey string // optional static credentials
	BackupSecretKey string

	// Ad generation collaborator
	GenerationURL     string
	GenerationTimeout time.Duration
	PlatformPresets   string // path to the platform presets YAML

	// Events
	EventPollInterval time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 8080)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"})

	// Database
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "sqlite://./adforge.db")
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	// Authentication
	secret := getEnv("JWT_SECRET", "")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	cfg.JWTSecret = []byte(secret)

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	// Versioned saves
	cfg.SaveMaxAttempts = getEnvInt("SAVE_MAX_ATTEMPTS", 3)
	cfg.SaveBackoffBase = getEnvDuration("SAVE_BACKOFF_BASE", 250*time.Millisecond)
	cfg.SaveDebounce = getEnvDuration("SAVE_DEBOUNCE", time.Second)

	// Locks
	cfg.LockTTL = getEnvDuration("LOCK_TTL", 30*time.Second)
	cfg.MigrationLockTTL = getEnvDuration("MIGRATION_LOCK_TTL", 5*time.Minute)

	// Migration retries
	cfg.MigrationMaxAttempts = getEnvInt("MIGRATION_MAX_ATTEMPTS", 3)
	cfg.MigrationBackoffBase = getEnvDuration("MIGRATION_BACKOFF_BASE", 500*time.Millisecond)

	// Backup sink
	cfg.BackupBucket = getEnv("BACKUP_BUCKET", "")
	cfg.BackupRegion = getEnv("BACKUP_REGION", "us-east-1")
	cfg.BackupEndpoint = getEnv("BACKUP_ENDPOINT", "")
	cfg.BackupPrefix = getEnv("BACKUP_PREFIX", "wizard-migrations")
	cfg.BackupAccessKey = getEnv("BACKUP_ACCESS_KEY", "")
	cfg.BackupSecretKey = getEnv("BACKUP_SECRET_KEY", "")

	// Ad generation
	cfg.GenerationURL = getEnv("GENERATION_URL", "http://localhost:9090")
	cfg.GenerationTimeout = getEnvDuration("GENERATION_TIMEOUT", 60*time.Second)
	cfg.PlatformPresets = getEnv("PLATFORM_PRESETS", "./platforms.yaml")

	// Events
	cfg.EventPollInterval = getEnvDuration("EVENT_POLL_INTERVAL", 100*time.Millisecond)

	return cfg, nil
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for the sqlite driver.
// For postgres the prefix is part of the DSN and is kept.
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
