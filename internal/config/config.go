package config

import (
	"context"
	"time"
)

// Package config provides configuration management for soul-ai-bot.
//
// Configuration Sources (priority order, high to low):
//   1. Original deployment variables (OPEN_AI_API_KEY, TELEGRAM_BOT_API_TOKEN, ...)
//   2. Environment variables (SOULAI_* prefix, "." replaced by "_")
//   3. YAML config file (default: /etc/soul-ai-bot/config.yaml, optional)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server    - webhook listener port, timeouts, webhook rate limit
//   2. Telegram  - bot token, username, webhook url/secret, long-poll timeout
//   3. OpenAI    - api key, base url, per-turn timeout, retry budget
//   4. Chat      - defaults for new chats (model, max_tokens, temperature, system message)
//   5. Billing   - admin user id, starting balance, /add_money amount
//   6. Cache     - session cache backend (redis|memory), shadow TTL
//   7. Database  - sqlite path
//   8. Worker    - per-chat queue concurrency
//   9. Logging   - level, format, optional rotated file
//  10. Audit     - billing audit log
//
// Only logging.level is applied on hot reload; everything else needs a restart.

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
		// WebhookRateLimit is requests per minute per client address; 0 disables.
		WebhookRateLimit int
	}

	Telegram struct {
		Token         string
		BotUsername   string
		WebhookURL    string
		WebhookSecret string
		APIBaseURL    string
		PollTimeout   time.Duration
		SendRate      float64
	}

	OpenAI struct {
		APIKey      string
		BaseURL     string
		Timeout     time.Duration
		MaxAttempts int
	}

	Chat struct {
		Model         string
		MaxTokens     int
		Temperature   float64
		SystemMessage string
	}

	Billing struct {
		AdminID              int64
		StartingBalanceCents float64
		TopUpCents           float64
	}

	Cache struct {
		Backend                string // redis|memory
		RedisHost              string
		RedisPort              int
		RedisDB                int
		RedisPassword          string
		ConfigureNotifications bool
		ShadowTTL              time.Duration
	}

	Database struct {
		SQLitePath string
	}

	Worker struct {
		Concurrency int
		QueueSize   int
		IdleTimeout time.Duration
	}

	Logging struct {
		Level      string
		Format     string
		File       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
	}

	Audit struct {
		Enabled bool
		Path    string
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch delivers the configuration each time the file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "/etc/soul-ai-bot/config.yaml"

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}
