package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// PlansFile is an optional YAML plan catalogue. The built-in catalogue
	// is used when empty.
	PlansFile string

	// Ledger Configuration
	LedgerProvider      string // "stripe" or "log"
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)
	LedgerTimeout       time.Duration

	// Overage delivery
	OverageFeature     string
	OverageMaxAttempts int

	// Storage Configuration (billing statements)
	StorageProvider  string // "local" or "r2"
	LocalStoragePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional, e.g. a local MinIO

	// SMTP Configuration (operator alerts)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	AlertEmail   string // Alerts are only logged when empty

	// Worker Configuration
	WorkerEnabled      bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerJobTimeout   time.Duration

	// Scheduler Configuration (cron expressions, UTC)
	SchedulerEnabled      bool
	RenewalSchedule       string
	OverageRetrySchedule  string
	TeamReconcileSchedule string

	// API rate limit per client IP per minute. 0 disables it.
	APIRateLimit int

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		PlansFile: getEnv("PLANS_FILE", ""),

		// Ledger defaults to logging reports for development
		LedgerProvider:      getEnv("LEDGER_PROVIDER", "log"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		LedgerTimeout:       getEnvDuration("LEDGER_TIMEOUT", 10*time.Second),

		OverageFeature:     getEnv("OVERAGE_FEATURE", "repurpose_overage"),
		OverageMaxAttempts: getEnvInt("OVERAGE_MAX_ATTEMPTS", 5),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		// SMTP defaults for Mailhog (development)
		SMTPHost:     getEnv("SMTP_HOST", "localhost"),
		SMTPPort:     getEnvInt("SMTP_PORT", 1025),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "billing@meterline.local"),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Meterline"),
		AlertEmail:   getEnv("ALERT_EMAIL", ""),

		// Worker defaults
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:   getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),

		// Scheduler defaults
		SchedulerEnabled:      getEnvBool("SCHEDULER_ENABLED", true),
		RenewalSchedule:       getEnv("RENEWAL_SCHEDULE", "5 * * * *"),
		OverageRetrySchedule:  getEnv("OVERAGE_RETRY_SCHEDULE", "*/15 * * * *"),
		TeamReconcileSchedule: getEnv("TEAM_RECONCILE_SCHEDULE", "30 3 * * *"),

		APIRateLimit: getEnvInt("API_RATE_LIMIT", 600),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	// Validate ledger configuration
	switch cfg.LedgerProvider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required when LEDGER_PROVIDER is 'stripe'")
		}
	case "log":
	default:
		return fmt.Errorf("LEDGER_PROVIDER must be either 'stripe' or 'log', got: %s", cfg.LedgerProvider)
	}
	if cfg.LedgerTimeout <= 0 {
		return fmt.Errorf("LEDGER_TIMEOUT must be positive, got: %s", cfg.LedgerTimeout)
	}
	if cfg.OverageMaxAttempts < 1 {
		return fmt.Errorf("OVERAGE_MAX_ATTEMPTS must be at least 1, got: %d", cfg.OverageMaxAttempts)
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" && cfg.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	if cfg.APIRateLimit < 0 {
		return fmt.Errorf("API_RATE_LIMIT must not be negative, got: %d", cfg.APIRateLimit)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
