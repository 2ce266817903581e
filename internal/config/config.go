package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config holds all configuration for a sync process
type Config struct {
	Environment string

	Provider string `validate:"oneof=google microsoft"`
	User     string `validate:"required"`

	Sync     SyncConfig
	Auth     AuthConfig
	Database DatabaseConfig
	Notify   NotifyConfig
	API      APIConfig

	LogLevel  string
	LogFormat string `validate:"oneof=text json"`
}

// SyncConfig holds the tunables of the incremental sync engine
type SyncConfig struct {
	BatchSize         int `validate:"min=1"`
	PageSize          int `validate:"min=1,max=500"`
	PaginationPauseMs int `validate:"min=0"`
}

// PaginationPause returns the inter-page pause as a duration
func (s SyncConfig) PaginationPause() time.Duration {
	return time.Duration(s.PaginationPauseMs) * time.Millisecond
}

// AuthConfig holds credential configuration
type AuthConfig struct {
	// CredentialSource is a token file path, "file:<path>", "env:<VAR>" or "betterauth:"
	CredentialSource string `validate:"required"`
	ClientSecrets    string
	AuthServerURL    string `validate:"required_if=BetterAuth true"`
	UserJWT          string `validate:"required_if=BetterAuth true"`
	BetterAuth       bool
}

// DatabaseConfig holds storage configuration
type DatabaseConfig struct {
	Driver string `validate:"oneof=sqlite sqlite3 pgx"`
	DSN    string `validate:"required"`
}

// NotifyConfig holds optional notifier configuration
type NotifyConfig struct {
	NATSURL      string `validate:"omitempty,url"`
	AMQPURL      string `validate:"omitempty,url"`
	AMQPExchange string
}

// APIConfig holds operator API configuration
type APIConfig struct {
	Addr    string `validate:"required"`
	JWKSURL string `validate:"omitempty,url"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	env := getEnv("MAILSYNC_ENV", "production")
	if env == "development" {
		if err := godotenv.Load(); err != nil {
			log.Warn("no .env file found, using environment variables")
		}
	}

	source := getEnv("MAILSYNC_CREDENTIAL_SOURCE", "token.json")

	cfg := &Config{
		Environment: env,
		Provider:    strings.ToLower(getEnv("MAILSYNC_PROVIDER", "google")),
		User:        getEnv("MAILSYNC_USER", "me"),
		Sync: SyncConfig{
			BatchSize:         getEnvAsInt("MAILSYNC_BATCH_SIZE", 500),
			PageSize:          getEnvAsInt("MAILSYNC_PAGE_SIZE", 500),
			PaginationPauseMs: getEnvAsInt("MAILSYNC_PAGINATION_PAUSE_MS", 500),
		},
		Auth: AuthConfig{
			CredentialSource: source,
			ClientSecrets:    getEnv("MAILSYNC_CLIENT_SECRETS", "credentials.json"),
			AuthServerURL:    os.Getenv("MAILSYNC_AUTH_SERVER_URL"),
			UserJWT:          os.Getenv("MAILSYNC_USER_JWT"),
			BetterAuth:       strings.HasPrefix(source, "betterauth:"),
		},
		Database: DatabaseConfig{
			Driver: getEnv("MAILSYNC_DB_DRIVER", "sqlite"),
			DSN:    getEnv("MAILSYNC_DB_DSN", "data/emails.db"),
		},
		Notify: NotifyConfig{
			NATSURL:      os.Getenv("MAILSYNC_NATS_URL"),
			AMQPURL:      os.Getenv("MAILSYNC_AMQP_URL"),
			AMQPExchange: getEnv("MAILSYNC_AMQP_EXCHANGE", "mailsync"),
		},
		API: APIConfig{
			Addr:    getEnv("MAILSYNC_API_ADDR", ":8080"),
			JWKSURL: os.Getenv("MAILSYNC_JWKS_URL"),
		},
		LogLevel:  strings.ToLower(getEnv("MAILSYNC_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("MAILSYNC_LOG_FORMAT", "text")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Notify.NATSURL != "" && c.Notify.AMQPURL != "" {
		return fmt.Errorf("invalid configuration: MAILSYNC_NATS_URL and MAILSYNC_AMQP_URL are mutually exclusive")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
