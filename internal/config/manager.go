package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("SOULAI")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	if err := m.readFile(); err != nil {
		return err
	}
	return m.refresh()
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.refresh(); err != nil {
			return
		}
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// a pending update has not been consumed yet
		}
	})
	m.viper.WatchConfig()
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readFile(); err != nil {
		return err
	}
	return m.refresh()
}

// readFile reads the YAML file. A missing file is fine: defaults and the
// environment are enough to run.
func (m *viperConfigManager) readFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

func (m *viperConfigManager) refresh() error {
	cfg := m.unmarshalConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.read_timeout", defaults.Server.ReadTimeout)
	m.viper.SetDefault("server.write_timeout", defaults.Server.WriteTimeout)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	m.viper.SetDefault("server.webhook_rate_limit", defaults.Server.WebhookRateLimit)

	// Telegram defaults
	m.viper.SetDefault("telegram.token", defaults.Telegram.Token)
	m.viper.SetDefault("telegram.bot_username", defaults.Telegram.BotUsername)
	m.viper.SetDefault("telegram.webhook_url", defaults.Telegram.WebhookURL)
	m.viper.SetDefault("telegram.webhook_secret", defaults.Telegram.WebhookSecret)
	m.viper.SetDefault("telegram.api_base_url", defaults.Telegram.APIBaseURL)
	m.viper.SetDefault("telegram.poll_timeout", defaults.Telegram.PollTimeout)
	m.viper.SetDefault("telegram.send_rate", defaults.Telegram.SendRate)

	// OpenAI defaults
	m.viper.SetDefault("openai.api_key", defaults.OpenAI.APIKey)
	m.viper.SetDefault("openai.base_url", defaults.OpenAI.BaseURL)
	m.viper.SetDefault("openai.timeout", defaults.OpenAI.Timeout)
	m.viper.SetDefault("openai.max_attempts", defaults.OpenAI.MaxAttempts)

	// Chat defaults
	m.viper.SetDefault("chat.model", defaults.Chat.Model)
	m.viper.SetDefault("chat.max_tokens", defaults.Chat.MaxTokens)
	m.viper.SetDefault("chat.temperature", defaults.Chat.Temperature)
	m.viper.SetDefault("chat.system_message", defaults.Chat.SystemMessage)

	// Billing defaults
	m.viper.SetDefault("billing.admin_id", defaults.Billing.AdminID)
	m.viper.SetDefault("billing.starting_balance_cents", defaults.Billing.StartingBalanceCents)
	m.viper.SetDefault("billing.top_up_cents", defaults.Billing.TopUpCents)

	// Cache defaults
	m.viper.SetDefault("cache.backend", defaults.Cache.Backend)
	m.viper.SetDefault("cache.redis_host", defaults.Cache.RedisHost)
	m.viper.SetDefault("cache.redis_port", defaults.Cache.RedisPort)
	m.viper.SetDefault("cache.redis_db", defaults.Cache.RedisDB)
	m.viper.SetDefault("cache.redis_password", defaults.Cache.RedisPassword)
	m.viper.SetDefault("cache.configure_notifications", defaults.Cache.ConfigureNotifications)
	m.viper.SetDefault("cache.shadow_ttl", defaults.Cache.ShadowTTL)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Worker defaults
	m.viper.SetDefault("worker.concurrency", defaults.Worker.Concurrency)
	m.viper.SetDefault("worker.queue_size", defaults.Worker.QueueSize)
	m.viper.SetDefault("worker.idle_timeout", defaults.Worker.IdleTimeout)

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.file", defaults.Logging.File)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", defaults.Audit.Enabled)
	m.viper.SetDefault("audit.path", defaults.Audit.Path)
}

// unmarshalConfig reads the merged viper state into a Config.
func (m *viperConfigManager) unmarshalConfig() *Config {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.ReadTimeout = m.viper.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = m.viper.GetDuration("server.write_timeout")
	cfg.Server.ShutdownTimeout = m.viper.GetDuration("server.shutdown_timeout")
	cfg.Server.WebhookRateLimit = m.viper.GetInt("server.webhook_rate_limit")

	// Telegram
	cfg.Telegram.Token = m.viper.GetString("telegram.token")
	cfg.Telegram.BotUsername = m.viper.GetString("telegram.bot_username")
	cfg.Telegram.WebhookURL = m.viper.GetString("telegram.webhook_url")
	cfg.Telegram.WebhookSecret = m.viper.GetString("telegram.webhook_secret")
	cfg.Telegram.APIBaseURL = m.viper.GetString("telegram.api_base_url")
	cfg.Telegram.PollTimeout = m.viper.GetDuration("telegram.poll_timeout")
	cfg.Telegram.SendRate = m.viper.GetFloat64("telegram.send_rate")

	// OpenAI
	cfg.OpenAI.APIKey = m.viper.GetString("openai.api_key")
	cfg.OpenAI.BaseURL = m.viper.GetString("openai.base_url")
	cfg.OpenAI.Timeout = m.viper.GetDuration("openai.timeout")
	cfg.OpenAI.MaxAttempts = m.viper.GetInt("openai.max_attempts")

	// Chat
	cfg.Chat.Model = m.viper.GetString("chat.model")
	cfg.Chat.MaxTokens = m.viper.GetInt("chat.max_tokens")
	cfg.Chat.Temperature = m.viper.GetFloat64("chat.temperature")
	cfg.Chat.SystemMessage = m.viper.GetString("chat.system_message")

	// Billing
	cfg.Billing.AdminID = m.viper.GetInt64("billing.admin_id")
	cfg.Billing.StartingBalanceCents = m.viper.GetFloat64("billing.starting_balance_cents")
	cfg.Billing.TopUpCents = m.viper.GetFloat64("billing.top_up_cents")

	// Cache
	cfg.Cache.Backend = m.viper.GetString("cache.backend")
	cfg.Cache.RedisHost = m.viper.GetString("cache.redis_host")
	cfg.Cache.RedisPort = m.viper.GetInt("cache.redis_port")
	cfg.Cache.RedisDB = m.viper.GetInt("cache.redis_db")
	cfg.Cache.RedisPassword = m.viper.GetString("cache.redis_password")
	cfg.Cache.ConfigureNotifications = m.viper.GetBool("cache.configure_notifications")
	cfg.Cache.ShadowTTL = m.viper.GetDuration("cache.shadow_ttl")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Worker
	cfg.Worker.Concurrency = m.viper.GetInt("worker.concurrency")
	cfg.Worker.QueueSize = m.viper.GetInt("worker.queue_size")
	cfg.Worker.IdleTimeout = m.viper.GetDuration("worker.idle_timeout")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.File = m.viper.GetString("logging.file")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.Path = m.viper.GetString("audit.path")

	return cfg
}

// applyEnvOverrides applies the variable names the bot was originally
// deployed with. They win over the file and SOULAI_* values.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("OPEN_AI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_API_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_WEBHOOK_URL"); v != "" {
		cfg.Telegram.WebhookURL = v
	}
	if v := os.Getenv("BOT_USERNAME"); v != "" {
		cfg.Telegram.BotUsername = v
	}
	if v := os.Getenv("MEMORYSTORE_HOST"); v != "" {
		cfg.Cache.RedisHost = v
	}

	ints := []struct {
		name string
		set  func(int64)
	}{
		{"ADMIN_CHAT_ID", func(n int64) { cfg.Billing.AdminID = n }},
		{"MEMORYSTORE_PORT", func(n int64) { cfg.Cache.RedisPort = int(n) }},
		{"MEMORYSTORE_DB", func(n int64) { cfg.Cache.RedisDB = int(n) }},
		{"PORT", func(n int64) { cfg.Server.Port = int(n) }},
	}
	for _, e := range ints {
		raw := os.Getenv(e.name)
		if raw == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", e.name, raw, err)
		}
		e.set(n)
	}
	return nil
}
