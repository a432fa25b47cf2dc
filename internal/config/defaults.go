package config

import (
	"time"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 20 * time.Second
	cfg.Server.WebhookRateLimit = 600

	// Telegram defaults
	cfg.Telegram.APIBaseURL = "https://api.telegram.org"
	cfg.Telegram.PollTimeout = 30 * time.Second
	cfg.Telegram.SendRate = 30

	// OpenAI defaults
	cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.OpenAI.Timeout = 10 * time.Second
	cfg.OpenAI.MaxAttempts = 3

	// Chat defaults
	cfg.Chat.Model = string(models.DefaultModel)
	cfg.Chat.MaxTokens = models.DefaultMaxTokens
	cfg.Chat.Temperature = models.DefaultTemperature
	cfg.Chat.SystemMessage = models.DefaultSystemPrompt

	// Billing defaults
	cfg.Billing.AdminID = 0 // nobody can /add_money
	cfg.Billing.StartingBalanceCents = models.DefaultBalanceCents
	cfg.Billing.TopUpCents = 200

	// Cache defaults
	cfg.Cache.Backend = "redis"
	cfg.Cache.RedisHost = "localhost"
	cfg.Cache.RedisPort = 6379
	cfg.Cache.RedisDB = 0
	cfg.Cache.ConfigureNotifications = true
	cfg.Cache.ShadowTTL = 120 * time.Second

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/soul-ai-bot/soul-ai-bot.db"

	// Worker defaults
	cfg.Worker.Concurrency = 16
	cfg.Worker.QueueSize = 16
	cfg.Worker.IdleTimeout = time.Minute

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 30

	// Audit defaults
	cfg.Audit.Enabled = true
	cfg.Audit.Path = "/var/log/soul-ai-bot/audit.log"

	return cfg
}
