/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses
 * Viper to read settings from environment variables (and an optional .env file) and
 * validator.v2 to reject incomplete configurations at boot.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - gopkg.in/validator.v2: Struct tag validation.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/validator.v2"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config holds all the configuration variables for the ledger-service.
type Config struct {
	ServerPort     string `mapstructure:"SERVER_PORT" validate:"nonzero"`
	StoreDriver    string `mapstructure:"STORE_DRIVER" validate:"regexp=^(postgres|memory)$"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	RunMigrations  bool   `mapstructure:"RUN_MIGRATIONS"`
	MemorySeedPath string `mapstructure:"MEMORY_SEED_PATH"`

	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	EventsExchange        string `mapstructure:"EVENTS_EXCHANGE" validate:"nonzero"`
	ApprovalDecisionQueue string `mapstructure:"APPROVAL_DECISION_QUEUE" validate:"nonzero"`
	OutboxPollIntervalMs  int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS" validate:"min=100"`
	OutboxBatchSize       int    `mapstructure:"OUTBOX_BATCH_SIZE" validate:"min=1"`
	OutboxRetentionHours  int    `mapstructure:"OUTBOX_RETENTION_HOURS" validate:"min=1"`

	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`

	JWTSecret          string `mapstructure:"JWT_SECRET"`
	JWTIssuer          string `mapstructure:"JWT_ISSUER"`
	ClerkJWKSURL       string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey     string `mapstructure:"INTERNAL_API_KEY"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	ReconcileJobSchedule string `mapstructure:"RECONCILE_JOB_SCHEDULE"`
	OutboxPruneSchedule  string `mapstructure:"OUTBOX_PRUNE_SCHEDULE"`
}

// OutboxPollInterval is the dispatcher tick as a duration.
func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMs) * time.Millisecond
}

// OutboxRetention is how long published outbox rows are kept.
func (c Config) OutboxRetention() time.Duration {
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8087")
	viper.SetDefault("STORE_DRIVER", StoreDriverPostgres)
	viper.SetDefault("RUN_MIGRATIONS", true)
	viper.SetDefault("EVENTS_EXCHANGE", "transfa.events")
	viper.SetDefault("APPROVAL_DECISION_QUEUE", "ledger_service.approval_decisions")
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1200)
	viper.SetDefault("OUTBOX_BATCH_SIZE", 50)
	viper.SetDefault("OUTBOX_RETENTION_HOURS", 168)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "transfa:rate_limit")
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "https://*,http://*")
	viper.SetDefault("RECONCILE_JOB_SCHEDULE", "0 2 * * *")  // At 02:00 every day.
	viper.SetDefault("OUTBOX_PRUNE_SCHEDULE", "30 3 * * *") // At 03:30 every day.

	for _, key := range []string{
		"SERVER_PORT", "PORT", "STORE_DRIVER", "DATABASE_URL", "RUN_MIGRATIONS", "MEMORY_SEED_PATH",
		"RABBITMQ_URL", "EVENTS_EXCHANGE", "APPROVAL_DECISION_QUEUE",
		"OUTBOX_POLL_INTERVAL_MS", "OUTBOX_BATCH_SIZE", "OUTBOX_RETENTION_HOURS",
		"REDIS_RATE_LIMIT_PREFIX", "TRANSFER_RATE_LIMIT_PER_MINUTE",
		"JWT_SECRET", "JWT_ISSUER", "CLERK_JWKS_URL", "INTERNAL_API_KEY", "CORS_ALLOWED_ORIGINS",
		"RECONCILE_JOB_SCHEDULE", "OUTBOX_PRUNE_SCHEDULE",
	} {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "transfa:rate_limit"
	}
	if config.TransferRateLimitPerMinute < 0 {
		log.Printf("level=warn component=config msg=\"negative transfer rate limit; disabling\" value=%d", config.TransferRateLimitPerMinute)
		config.TransferRateLimitPerMinute = 0
	}
	config.JWTSecret = strings.TrimSpace(config.JWTSecret)
	config.ClerkJWKSURL = strings.TrimSpace(config.ClerkJWKSURL)
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)

	err = config.Validate()
	return
}

// Validate checks struct tags plus the cross-field rules.
func (c Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseURL == "" {
		return errors.New("invalid configuration: DATABASE_URL is required when STORE_DRIVER=postgres")
	}
	if c.JWTSecret == "" && c.ClerkJWKSURL == "" {
		return errors.New("invalid configuration: one of JWT_SECRET or CLERK_JWKS_URL must be set")
	}
	return nil
}
