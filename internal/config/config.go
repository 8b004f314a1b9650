// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	DevMode  bool
	LogLevel string

	// Pricing sources
	Currency        string  // Quote currency for spot prices (e.g. "EUR")
	SpotAPIBaseURL  string  // Spot price API base URL
	SpotAPIKey      string  // Spot price API key (optional for some providers)
	SpotSpread      float64 // Buy/sell spread applied to spot quotes (0.05 = 5%)
	RetailerBaseURL string  // Retailer catalog URL to scrape

	// Source call timeouts and sync cadence
	SourceTimeoutSeconds int
	SyncSchedule         string // cron spec for the price sync cycle

	// Off-site backup (S3-compatible storage, optional)
	Backup *BackupConfig
}

// BackupConfig holds off-site backup configuration.
// Backups are disabled unless an endpoint and bucket are configured.
type BackupConfig struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
	Schedule        string // cron spec for scheduled uploads
}

// Enabled reports whether off-site backups are configured.
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.Endpoint != "" && b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Determine data directory, resolve to absolute path, ensure it exists
	dataDir := getEnv("INGOT_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("INGOT_PORT", 8080),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Currency:             getEnv("INGOT_CURRENCY", "EUR"),
		SpotAPIBaseURL:       getEnv("SPOT_API_URL", "https://api.metals.dev/v1"),
		SpotAPIKey:           getEnv("SPOT_API_KEY", ""),
		SpotSpread:           getEnvAsFloat("SPOT_SPREAD", 0.05),
		RetailerBaseURL:      getEnv("RETAILER_URL", ""),
		SourceTimeoutSeconds: getEnvAsInt("SOURCE_TIMEOUT_SECONDS", 15),
		SyncSchedule:         getEnv("SYNC_SCHEDULE", "@every 1h"),
		Backup:               loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.SpotSpread < 0 || c.SpotSpread >= 1 {
		return fmt.Errorf("SPOT_SPREAD must be in [0, 1), got %v", c.SpotSpread)
	}
	if c.SourceTimeoutSeconds <= 0 {
		return fmt.Errorf("SOURCE_TIMEOUT_SECONDS must be positive, got %d", c.SourceTimeoutSeconds)
	}
	return nil
}

// loadBackupConfig loads the optional S3 backup configuration.
// Returns nil when no endpoint is configured.
func loadBackupConfig() *BackupConfig {
	endpoint := getEnv("BACKUP_S3_ENDPOINT", "")
	if endpoint == "" {
		return nil
	}

	return &BackupConfig{
		Endpoint:        endpoint,
		Bucket:          getEnv("BACKUP_S3_BUCKET", "ingot-backups"),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		Schedule:        getEnv("BACKUP_SCHEDULE", "@daily"),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
