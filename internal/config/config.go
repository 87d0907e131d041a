package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default configuration values
const (
	DefaultMaxBodySize int64 = 2 * 1024 * 1024 // 2MB
)

// ForgeConfig holds the connection details for the source forge.
type ForgeConfig struct {
	Host          string // FORGE_HOST
	AccessToken   string // FORGE_ACCESS_TOKEN
	WebhookSecret string // FORGE_WEBHOOK_SECRET
}

// LLMConfig holds the chat-completion provider's connection details.
type LLMConfig struct {
	Endpoint   string // LLM_ENDPOINT
	APIKey     string // LLM_KEY
	Deployment string // LLM_DEPLOYMENT
	Model      string // LLM_MODEL_NAME
	APIVersion string // LLM_API_VERSION
}

// QueueConfig holds the durable job queue's storage details. The queue
// shares the relational store's DATABASE_URL; Host/Port/TLS are carried for
// forward compatibility with a networked queue backend.
type QueueConfig struct {
	Host string // QUEUE_HOST
	Port int    // QUEUE_PORT
	TLS  bool   // QUEUE_TLS
}

// Config holds the configuration for the reviewbot server.
type Config struct {
	Log struct {
		Level    string // LOG_LEVEL: DEBUG, INFO, WARN, ERROR
		Format   string // LOG_FORMAT: text, json
		Output   string // LOG_OUTPUT: stdout, stderr, /path/to/file, or a comma-separated list
		Rotation struct {
			MaxSize    int  // LOG_ROTATE_MAX_SIZE_MB
			MaxBackups int  // LOG_ROTATE_MAX_BACKUPS
			MaxAge     int  // LOG_ROTATE_MAX_AGE_DAYS
			Compress   bool // LOG_ROTATE_COMPRESS
		}
	}

	Server struct {
		Port             int
		ConcurrencyLimit int64
		ReadTimeout      time.Duration
		WriteTimeout     time.Duration
		MaxBodySize      int64
	}

	Forge ForgeConfig
	LLM   LLMConfig
	Queue QueueConfig

	DatabaseURL string // DATABASE_URL
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from environment variables, applying
// defaults for anything unset.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Log.Level = getEnv("LOG_LEVEL", "INFO")
	cfg.Log.Format = getEnv("LOG_FORMAT", "text")
	cfg.Log.Output = getEnv("LOG_OUTPUT", "stdout")
	cfg.Log.Rotation.MaxSize = getEnvInt("LOG_ROTATE_MAX_SIZE_MB", 100)
	cfg.Log.Rotation.MaxBackups = getEnvInt("LOG_ROTATE_MAX_BACKUPS", 3)
	cfg.Log.Rotation.MaxAge = getEnvInt("LOG_ROTATE_MAX_AGE_DAYS", 28)
	cfg.Log.Rotation.Compress = getEnvBool("LOG_ROTATE_COMPRESS", true)

	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.ConcurrencyLimit = int64(getEnvInt("SERVER_CONCURRENCY_LIMIT", 10))
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.MaxBodySize = DefaultMaxBodySize

	cfg.Forge.Host = getEnv("FORGE_HOST", "")
	cfg.Forge.AccessToken = getEnv("FORGE_ACCESS_TOKEN", "")
	cfg.Forge.WebhookSecret = getEnv("FORGE_WEBHOOK_SECRET", "")

	cfg.LLM.Endpoint = getEnv("LLM_ENDPOINT", "https://api.openai.com/v1")
	cfg.LLM.APIKey = getEnv("LLM_KEY", "")
	cfg.LLM.Deployment = getEnv("LLM_DEPLOYMENT", "")
	cfg.LLM.Model = getEnv("LLM_MODEL_NAME", "gpt-4o")
	cfg.LLM.APIVersion = getEnv("LLM_API_VERSION", "")

	cfg.Queue.Host = getEnv("QUEUE_HOST", "")
	cfg.Queue.Port = getEnvInt("QUEUE_PORT", 0)
	cfg.Queue.TLS = getEnvBool("QUEUE_TLS", false)

	cfg.DatabaseURL = getEnv("DATABASE_URL", "reviewbot.db")

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Forge.Host == "" {
		errs = append(errs, "FORGE_HOST is required")
	}
	if c.Forge.AccessToken == "" {
		errs = append(errs, "FORGE_ACCESS_TOKEN is required")
	}
	if c.Forge.WebhookSecret == "" {
		errs = append(errs, "FORGE_WEBHOOK_SECRET is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	// LLM.APIKey is deliberately not required here: an empty key puts the
	// LLM Client into disabled mode, a valid operating state rather than a
	// misconfiguration.

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// IsLLMEnabled reports whether the LLM Client has credentials to call out.
func (c *Config) IsLLMEnabled() bool {
	return c.LLM.APIKey != ""
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}
