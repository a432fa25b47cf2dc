// Package app wires configuration, storage, clients and the bot into a
// running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/UltimateSoul/soul-ai-bot/internal/audit"
	"github.com/UltimateSoul/soul-ai-bot/internal/bot"
	"github.com/UltimateSoul/soul-ai-bot/internal/cache"
	"github.com/UltimateSoul/soul-ai-bot/internal/config"
	"github.com/UltimateSoul/soul-ai-bot/internal/db"
	"github.com/UltimateSoul/soul-ai-bot/internal/ledger"
	"github.com/UltimateSoul/soul-ai-bot/internal/llm/openai"
	"github.com/UltimateSoul/soul-ai-bot/internal/logging"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/pricing"
	"github.com/UltimateSoul/soul-ai-bot/internal/server"
	"github.com/UltimateSoul/soul-ai-bot/internal/session"
	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
	"github.com/UltimateSoul/soul-ai-bot/internal/tokens"
	"github.com/UltimateSoul/soul-ai-bot/internal/worker"
)

// Mode selects how updates reach the bot.
type Mode string

const (
	// ModeWebhook serves the Telegram webhook over HTTP.
	ModeWebhook Mode = "webhook"
	// ModePoll long-polls getUpdates.
	ModePoll Mode = "poll"
)

const flushTimeout = 30 * time.Second

// App owns every long-lived component of the process.
type App struct {
	manager config.ConfigManager
	cfg     *config.Config
	logger  *zap.Logger
	level   zap.AtomicLevel

	audit    audit.Logger
	store    db.Store
	cache    cache.Cache
	sessions *session.Sessions
	flusher  *session.Flusher
	telegram *telegram.Client
	bot      *bot.Bot
}

// New loads configuration from manager and builds the components.
// Close must be called when New succeeds.
func New(ctx context.Context, manager config.ConfigManager) (*App, error) {
	if err := manager.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := manager.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg := manager.Get(ctx)

	logger, level, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &App{manager: manager, cfg: cfg, logger: logger, level: level, audit: audit.NewNop()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	if cfg.Audit.Enabled {
		ac := audit.DefaultConfig()
		if cfg.Audit.Path != "" {
			ac.Path = cfg.Audit.Path
		}
		al, err := audit.NewLogger(ac, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create audit logger: %w", err)
		}
		a.audit = al
	}

	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store

	c, err := newCache(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	a.cache = c

	a.sessions = session.New(c, store, session.Options{
		Defaults: session.Defaults{
			Config: models.ModelConfig{
				Model:       models.ModelID(cfg.Chat.Model),
				MaxTokens:   cfg.Chat.MaxTokens,
				Temperature: cfg.Chat.Temperature,
			},
			SystemPrompt:    cfg.Chat.SystemMessage,
			StartingBalance: ledger.FromCents(cfg.Billing.StartingBalanceCents),
			AdminID:         cfg.Billing.AdminID,
		},
		ShadowTTL: cfg.Cache.ShadowTTL,
	}, a.audit, a.logger)
	a.flusher = session.NewFlusher(a.sessions, c, a.logger)

	oaOpts := []openai.Option{
		openai.WithRetry(cfg.OpenAI.MaxAttempts, 0),
		openai.WithLogger(a.logger),
	}
	if cfg.OpenAI.BaseURL != "" {
		oaOpts = append(oaOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	completer, err := openai.NewClient(cfg.OpenAI.APIKey, oaOpts...)
	if err != nil {
		return fmt.Errorf("failed to create OpenAI client: %w", err)
	}

	tgOpts := []telegram.Option{
		telegram.WithSendRate(cfg.Telegram.SendRate, telegram.DefaultSendBurst),
		telegram.WithLogger(a.logger),
	}
	if cfg.Telegram.APIBaseURL != "" {
		tgOpts = append(tgOpts, telegram.WithBaseURL(cfg.Telegram.APIBaseURL))
	}
	a.telegram, err = telegram.NewClient(cfg.Telegram.Token, tgOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Telegram client: %w", err)
	}

	a.bot, err = bot.New(bot.Config{
		BotUsername:       strings.TrimPrefix(cfg.Telegram.BotUsername, "@"),
		CompletionTimeout: cfg.OpenAI.Timeout,
		TopUp:             ledger.FromCents(cfg.Billing.TopUpCents),
		Worker: worker.Options{
			Concurrency:  cfg.Worker.Concurrency,
			QueueSize:    cfg.Worker.QueueSize,
			IdleTimeout:  cfg.Worker.IdleTimeout,
			DrainTimeout: cfg.Server.ShutdownTimeout,
		},
	}, bot.Deps{
		Messenger: a.telegram,
		Completer: completer,
		Sessions:  a.sessions,
		Counter:   tokens.NewCounter(),
		Prices:    pricing.DefaultTable,
		Ledger:    ledger.New(cfg.Billing.AdminID, a.audit, a.logger),
		Audit:     a.audit,
	}, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return nil
}

func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "memory":
		logger.Warn("using in-memory session cache, unflushed sessions are lost on crash")
		return cache.NewMemory(), nil
	case "redis":
		rc, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:                   net.JoinHostPort(cfg.Cache.RedisHost, strconv.Itoa(cfg.Cache.RedisPort)),
			Password:               cfg.Cache.RedisPassword,
			DB:                     cfg.Cache.RedisDB,
			ConfigureNotifications: cfg.Cache.ConfigureNotifications,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return rc, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run processes updates in mode until ctx is done, then drains queued turns
// and flushes every cached session to the database.
func (a *App) Run(ctx context.Context, mode Mode) error {
	var source func(context.Context) error
	switch mode {
	case ModeWebhook:
		srv, err := a.newServer()
		if err != nil {
			return err
		}
		source = srv.Run
	case ModePoll:
		source = bot.NewPoller(a.telegram, a.bot, a.cfg.Telegram.PollTimeout, a.logger.Named("poller")).Run
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.bot.Start(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return a.flusher.Run(gctx) })
	g.Go(func() error {
		a.watchConfig(gctx)
		return nil
	})
	g.Go(func() error { return source(gctx) })
	if mode == ModeWebhook && a.cfg.Telegram.WebhookURL != "" {
		g.Go(func() error { return a.registerWebhook(gctx) })
	}

	a.logger.Info("soul-ai-bot started", zap.String("mode", string(mode)))
	err := g.Wait()
	cancel()

	a.bot.Wait()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()
	if ferr := a.sessions.FlushAll(flushCtx); ferr != nil {
		a.logger.Error("failed to flush sessions", zap.Error(ferr))
		err = errors.Join(err, ferr)
	}
	a.logger.Info("soul-ai-bot stopped")
	return err
}

func (a *App) newServer() (*server.Server, error) {
	checks := map[string]server.Pinger{"database": a.store}
	if p, ok := a.cache.(server.Pinger); ok {
		checks["cache"] = p
	}
	return server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		ReadTimeout:      a.cfg.Server.ReadTimeout,
		WriteTimeout:     a.cfg.Server.WriteTimeout,
		ShutdownTimeout:  a.cfg.Server.ShutdownTimeout,
		WebhookSecret:    a.cfg.Telegram.WebhookSecret,
		WebhookRateLimit: a.cfg.Server.WebhookRateLimit,
	}, a.bot, checks, a.logger.Named("server"))
}

func (a *App) registerWebhook(ctx context.Context) error {
	url := strings.TrimSuffix(a.cfg.Telegram.WebhookURL, "/") + "/webhook"
	if err := a.telegram.SetWebhook(ctx, url, a.cfg.Telegram.WebhookSecret); err != nil {
		return fmt.Errorf("failed to register webhook: %w", err)
	}
	a.logger.Info("webhook registered", zap.String("url", url))
	return nil
}

// watchConfig applies logging.level from reloaded config files.
func (a *App) watchConfig(ctx context.Context) {
	updates := a.manager.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if err := logging.SetLevel(a.level, cfg.Logging.Level); err != nil {
				a.logger.Warn("ignoring reloaded log level", zap.Error(err))
				continue
			}
			a.logger.Info("log level reloaded", zap.String("level", cfg.Logging.Level))
		}
	}
}

// Close releases storage and flushes the logs.
func (a *App) Close() error {
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	errs = append(errs, a.audit.Close())
	a.logger.Sync()
	return errors.Join(errs...)
}
