package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.WebhookRateLimit < 0 {
		add("server.webhook_rate_limit", "webhook_rate_limit cannot be negative")
	}

	// Telegram
	if strings.TrimSpace(c.Telegram.Token) == "" {
		add("telegram.token", "Telegram bot token is required")
	}
	if strings.TrimSpace(c.Telegram.BotUsername) == "" {
		add("telegram.bot_username", "bot username is required to detect mentions in groups")
	}
	if c.Telegram.WebhookURL != "" {
		u, err := url.Parse(c.Telegram.WebhookURL)
		if err != nil || u.Host == "" {
			add("telegram.webhook_url", "invalid webhook url %q", c.Telegram.WebhookURL)
		} else if u.Scheme != "https" {
			add("telegram.webhook_url", "webhook url must use https")
		}
	}
	if c.Telegram.SendRate <= 0 {
		add("telegram.send_rate", "send_rate must be positive")
	}

	// OpenAI
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		add("openai.api_key", "OpenAI API key is required")
	}
	if c.OpenAI.Timeout <= 0 {
		add("openai.timeout", "timeout must be positive")
	}
	if c.OpenAI.MaxAttempts < 1 {
		add("openai.max_attempts", "max_attempts must be at least 1")
	}

	// Chat
	if !models.IsSupported(models.ModelID(c.Chat.Model)) {
		add("chat.model", "unsupported model %q", c.Chat.Model)
	}
	if c.Chat.MaxTokens <= 0 {
		add("chat.max_tokens", "max_tokens must be positive")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 1 {
		add("chat.temperature", "temperature must be between 0.0 and 1.0")
	}
	if len(c.Chat.SystemMessage) <= models.MinSystemPromptChars {
		add("chat.system_message", "system message must be longer than %d characters", models.MinSystemPromptChars)
	}

	// Billing
	if c.Billing.AdminID < 0 {
		add("billing.admin_id", "admin_id cannot be negative")
	}
	if c.Billing.StartingBalanceCents < 0 {
		add("billing.starting_balance_cents", "starting_balance_cents cannot be negative")
	}
	if c.Billing.TopUpCents <= 0 {
		add("billing.top_up_cents", "top_up_cents must be positive")
	}

	// Cache
	switch c.Cache.Backend {
	case "redis":
		if c.Cache.RedisHost == "" {
			add("cache.redis_host", "redis_host is required when backend is redis")
		}
		if c.Cache.RedisPort < 1 || c.Cache.RedisPort > 65535 {
			add("cache.redis_port", "redis_port must be between 1 and 65535, got %d", c.Cache.RedisPort)
		}
		if c.Cache.RedisDB < 0 {
			add("cache.redis_db", "redis_db cannot be negative")
		}
	case "memory":
	default:
		add("cache.backend", "invalid cache backend %q (expected redis or memory)", c.Cache.Backend)
	}
	if c.Cache.ShadowTTL <= 0 {
		add("cache.shadow_ttl", "shadow_ttl must be positive")
	}

	// Database
	if c.Database.SQLitePath == "" {
		add("database.sqlite_path", "sqlite_path is required")
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		add("worker.concurrency", "concurrency must be at least 1")
	}

	// Logging
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", "invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format", "invalid log format %q", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.Path == "" {
		add("audit.path", "audit path is required when audit is enabled")
	}

	return errs
}
