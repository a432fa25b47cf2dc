package bot

// Package bot turns Telegram updates into dialogue turns and commands.
//
// Design:
//   - Updates are queued per chat on a worker pool, so turns of one chat run
//     strictly in order while different chats proceed concurrently
//   - A dialogue turn is load, trim, admit, complete, settle; ask is the only
//     place that maps failures to user-facing text
//   - Settlement re-reads the account under a per-user lock because one user
//     may be talking in several chats at once

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/admission"
	"github.com/UltimateSoul/soul-ai-bot/internal/audit"
	"github.com/UltimateSoul/soul-ai-bot/internal/conversation"
	"github.com/UltimateSoul/soul-ai-bot/internal/ledger"
	"github.com/UltimateSoul/soul-ai-bot/internal/llm/openai"
	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/pricing"
	"github.com/UltimateSoul/soul-ai-bot/internal/session"
	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
	"github.com/UltimateSoul/soul-ai-bot/internal/tokens"
	"github.com/UltimateSoul/soul-ai-bot/internal/usage"
	"github.com/UltimateSoul/soul-ai-bot/internal/worker"
)

// DefaultCompletionTimeout bounds a single completion, retries included.
const DefaultCompletionTimeout = 10 * time.Second

// ErrNotStarted is returned by Dispatch before Start.
var ErrNotStarted = errors.New("bot not started")

// Messenger sends replies to Telegram.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	SendMarkdownV2(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

// Completer produces chat completions.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error)
}

// Config holds the bot's behavior settings.
type Config struct {
	BotUsername       string
	CompletionTimeout time.Duration
	TopUp             models.Amount
	Worker            worker.Options
}

// Deps are the collaborators a Bot needs.
type Deps struct {
	Messenger Messenger
	Completer Completer
	Sessions  *session.Sessions
	Counter   tokens.Counter
	Prices    pricing.Table
	Ledger    *ledger.Ledger
	Audit     audit.Logger
}

// Bot handles Telegram updates.
type Bot struct {
	cfg       Config
	messenger Messenger
	completer Completer
	sessions  *session.Sessions
	convs     *conversation.Manager
	admission *admission.Controller
	counter   tokens.Counter
	prices    pricing.Table
	ledger    *ledger.Ledger
	audit     audit.Logger
	logger    *zap.Logger

	userLocks *worker.KeyedMutex[int64]

	mu   sync.RWMutex
	pool *worker.Pool[int64, telegram.Update]
}

// New creates a Bot.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Bot, error) {
	if deps.Messenger == nil || deps.Completer == nil || deps.Sessions == nil || deps.Counter == nil {
		return nil, fmt.Errorf("bot: messenger, completer, sessions and counter are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Prices == nil {
		deps.Prices = pricing.DefaultTable
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNop()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New(0, deps.Audit, logger)
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}

	return &Bot{
		cfg:       cfg,
		messenger: deps.Messenger,
		completer: deps.Completer,
		sessions:  deps.Sessions,
		convs:     conversation.NewManager(deps.Sessions, deps.Counter, logger),
		admission: admission.NewController(deps.Counter, deps.Prices),
		counter:   deps.Counter,
		prices:    deps.Prices,
		ledger:    deps.Ledger,
		audit:     deps.Audit,
		logger:    logger,
		userLocks: worker.NewKeyedMutex[int64](),
	}, nil
}

// Start creates the per-chat worker pool. Workers stop when ctx is done.
func (b *Bot) Start(ctx context.Context) {
	opts := b.cfg.Worker
	opts.OnWorkerChange = func(delta int) { metrics.WorkerQueueDepth.Add(float64(delta)) }

	b.mu.Lock()
	b.pool = worker.NewPool[int64, telegram.Update](ctx, opts, b.HandleUpdate)
	b.mu.Unlock()
}

// Dispatch queues u behind earlier updates of the same chat.
func (b *Bot) Dispatch(ctx context.Context, u telegram.Update) error {
	b.mu.RLock()
	pool := b.pool
	b.mu.RUnlock()
	if pool == nil {
		return ErrNotStarted
	}
	return pool.Enqueue(ctx, u.ChatID(), u)
}

// Wait blocks until all workers have exited.
func (b *Bot) Wait() {
	b.mu.RLock()
	pool := b.pool
	b.mu.RUnlock()
	if pool != nil {
		pool.Wait()
	}
}

// HandleUpdate processes one update synchronously.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) {
	ctx = audit.WithCorrelationID(ctx, uuid.NewString())
	defer func() {
		if r := recover(); r != nil {
			metrics.TurnsTotal.WithLabelValues("panic").Inc()
			b.logger.Error("panic while handling update",
				zap.Int64("update_id", u.UpdateID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, m *telegram.Message) {
	if m.Chat == nil || m.From == nil || m.From.IsBot {
		return
	}
	if name, args, ok := m.Command(b.cfg.BotUsername); ok && b.runCommand(ctx, request{
		chatID: m.Chat.ID,
		from:   m.From,
		args:   args,
		msg:    m,
	}, name) {
		return
	}
	if m.Text == "" {
		return
	}

	switch {
	case m.Chat.Type == telegram.ChatPrivate:
	case m.Chat.IsGroup() && telegram.Mentions(m.Text, b.cfg.BotUsername):
	default:
		return
	}
	b.ask(ctx, m.Chat.ID, senderOf(m.From), m.Text)
}

func senderOf(u *telegram.User) conversation.Sender {
	return conversation.Sender{
		UserID:    u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}

// ─── Dialogue ────────────────────────────────────────────────────────────────

// ask runs one dialogue turn and sends exactly one reply.
func (b *Bot) ask(ctx context.Context, chatID int64, sender conversation.Sender, text string) {
	start := time.Now()
	reply, outcome := b.turn(ctx, chatID, sender, text)
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())
	b.send(ctx, chatID, reply)
}

// turn runs one dialogue turn and maps its failure, whichever step it came
// from, to the text the user sees.
func (b *Bot) turn(ctx context.Context, chatID int64, sender conversation.Sender, text string) (reply, outcome string) {
	logger := b.logger.With(
		zap.Int64("chat_id", chatID),
		zap.Int64("user_id", sender.UserID),
		zap.String("correlation_id", audit.GetCorrelationID(ctx)),
	)

	reply, outcome, err := b.converse(ctx, logger, chatID, sender, text)
	if err == nil {
		return reply, outcome
	}
	var tooMany *models.TooManyTokensError
	if errors.As(err, &tooMany) {
		logger.Warn("turn exceeds the token limit",
			zap.Int("tokens", tooMany.Tokens), zap.Int("limit", tooMany.Limit), zap.Error(err))
		return MsgTooManyTokens, "too_many_tokens"
	}
	logger.Error("turn failed", zap.Error(err))
	return MsgBrainProblems, "error"
}

func (b *Bot) converse(ctx context.Context, logger *zap.Logger, chatID int64, sender conversation.Sender, text string) (string, string, error) {
	conv, err := b.convs.Load(ctx, chatID, sender, text)
	if err != nil {
		return "", "", fmt.Errorf("load conversation: %w", err)
	}
	inbound := conv.History[len(conv.History)-1]

	prompt, promptTokens, err := b.convs.Normalize(ctx, conv)
	if err != nil {
		return "", "", fmt.Errorf("normalize conversation: %w", err)
	}
	if len(conv.History) == 0 {
		// the new message alone does not fit next to the system message
		n, err := b.counter.Count([]models.Message{conv.SystemMessage, inbound}, conv.Config.Model)
		if err != nil {
			return "", "", err
		}
		return "", "", &models.TooManyTokensError{Tokens: n, Limit: conv.Config.MaxTokens}
	}

	acct, _, err := b.sessions.Account(ctx, sender.UserID, sender.Username)
	if err != nil {
		return "", "", fmt.Errorf("load account: %w", err)
	}
	decision, err := b.admission.CanAfford(acct, conv)
	if err != nil {
		return "", "", fmt.Errorf("admission: %w", err)
	}
	if !decision.Allowed {
		metrics.AdmissionDenied.Inc()
		if err := b.audit.LogAdmissionDenied(ctx, chatID, sender.UserID, decision.Balance.Cents(), decision.Price.Cents()); err != nil {
			logger.Warn("audit admission denial failed", zap.Error(err))
		}
		logger.Info("turn refused for low balance",
			zap.String("balance_cents", decision.Balance.String()),
			zap.String("price_cents", decision.Price.String()),
		)
		return decision.LowBalanceMessage(), "low_balance", nil
	}

	b.typing(ctx, chatID)

	logger.Debug("requesting completion",
		zap.String("model", string(conv.Config.Model)),
		zap.Int("prompt_tokens", promptTokens),
		zap.Int("messages", len(prompt)),
	)
	callCtx, cancel := context.WithTimeout(ctx, b.cfg.CompletionTimeout)
	resp, err := b.completer.CreateChatCompletion(callCtx, openai.ChatRequest{
		Model:       conv.Config.Model,
		Messages:    prompt,
		MaxTokens:   conv.Config.MaxTokens,
		Temperature: conv.Config.Temperature,
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			b.rollback(ctx, conv, sender.UserID, logger)
			return MsgTimeout, "timeout", nil
		}
		return "", "", fmt.Errorf("completion: %w", err)
	}

	if err := b.settle(ctx, conv, sender, resp); err != nil {
		return "", "", fmt.Errorf("settle: %w", err)
	}
	return resp.Content, "ok", nil
}

func (b *Bot) rollback(ctx context.Context, conv *models.Conversation, userID int64, logger *zap.Logger) {
	logger.Warn("completion timed out", zap.Duration("timeout", b.cfg.CompletionTimeout))
	if b.convs.RollbackLastUser(conv) {
		if err := b.convs.Save(ctx, conv); err != nil {
			logger.Error("failed to persist rollback", zap.Error(err))
		}
	}
	if err := b.audit.LogTurnTimeout(ctx, conv.ChatID, userID); err != nil {
		logger.Warn("audit timeout failed", zap.Error(err))
	}
}

// settle charges the actual usage and records the reply.
func (b *Bot) settle(ctx context.Context, conv *models.Conversation, sender conversation.Sender, resp *openai.ChatResponse) error {
	model := conv.Config.Model
	delta, err := usage.Delta(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	if err != nil {
		return err
	}
	cost, err := b.prices.Price(model, delta)
	if err != nil {
		return err
	}

	unlock := b.userLocks.Lock(sender.UserID)
	defer unlock()

	acct, _, err := b.sessions.Account(ctx, sender.UserID, sender.Username)
	if err != nil {
		return fmt.Errorf("reload account: %w", err)
	}
	if err := usage.Record(acct, model, delta); err != nil {
		return err
	}
	b.ledger.Debit(ctx, acct, model, ledger.FromDollars(cost))
	b.convs.AppendReply(conv, resp.Content)

	if err := b.convs.Save(ctx, conv); err != nil {
		return err
	}
	if err := b.sessions.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("save account %d: %w", acct.UserID, err)
	}
	metrics.CostUSD.WithLabelValues(string(model)).Add(cost)
	return nil
}

// ─── Replies ─────────────────────────────────────────────────────────────────

func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	b.sendWith(ctx, chatID, text, nil)
}

func (b *Bot) sendWith(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if err := b.messenger.SendMessage(ctx, chatID, text, markup); err != nil {
		b.logger.Error("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) sendMarkdown(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	if err := b.messenger.SendMarkdownV2(ctx, chatID, text, markup); err != nil {
		b.logger.Error("failed to send markdown message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) typing(ctx context.Context, chatID int64) {
	if err := b.messenger.SendChatAction(ctx, chatID, telegram.ActionTyping); err != nil {
		b.logger.Debug("failed to send chat action", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
