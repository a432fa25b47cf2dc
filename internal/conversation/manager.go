package conversation

// Package conversation owns a chat's rolling message window.
//
// Design:
//   - A conversation is the system message plus a FIFO history
//   - Before every completion the window is trimmed oldest-first until the
//     prompt fits Config.MaxTokens; the system message is never evicted
//   - A system message that alone exceeds the budget is a terminal
//     configuration error, detected before trimming starts
//   - Every persisted mutation goes through the Repository (the session layer)

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/tokens"
)

// Repository loads and stores conversations.
type Repository interface {
	// Chat returns the conversation for chatID, creating a default one when
	// none exists. created reports whether it was created by this call.
	Chat(ctx context.Context, chatID int64) (conv *models.Conversation, created bool, err error)

	// SaveChat writes the conversation through to the cache.
	SaveChat(ctx context.Context, conv *models.Conversation) error
}

// State is the lifecycle state of a conversation.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateOverBudget
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateOverBudget:
		return "over_budget"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MinReplyTokens is the headroom SetMaxTokens requires above the system message.
const MinReplyTokens = 100

var (
	ErrTemperatureRange      = errors.New("temperature must be between 0.0 and 1.0")
	ErrSystemMessageTooShort = fmt.Errorf("system message must be longer than %d characters", models.MinSystemPromptChars)
)

// MaxTokensTooSmallError is returned by SetMaxTokens when the budget leaves
// less than MinReplyTokens beside the system message.
type MaxTokensTooSmallError struct {
	SystemTokens int
	Minimum      int
}

func (e *MaxTokensTooSmallError) Error() string {
	return fmt.Sprintf("max tokens must be at least %d (system message has %d tokens)", e.Minimum, e.SystemTokens)
}

// Sender identifies the author of an inbound message.
type Sender struct {
	UserID    int64
	FirstName string
	LastName  string
	Username  string
}

// DisplayName returns "First Last", falling back to @username.
func (s Sender) DisplayName() string {
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if name != "" {
		return name
	}
	if s.Username != "" {
		return "@" + strings.TrimPrefix(s.Username, "@")
	}
	return "Someone"
}

// UserMessage formats an inbound text the way it is stored in history.
func UserMessage(sender Sender, text string) models.Message {
	return models.Message{
		Role:    models.RoleUser,
		Content: sender.DisplayName() + " says:" + text,
	}
}

// Manager applies window operations to conversations.
type Manager struct {
	repo    Repository
	counter tokens.Counter
	logger  *zap.Logger
}

// NewManager creates a Manager.
func NewManager(repo Repository, counter tokens.Counter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: repo, counter: counter, logger: logger}
}

// Get returns the chat's conversation without modifying it.
func (m *Manager) Get(ctx context.Context, chatID int64) (*models.Conversation, error) {
	conv, created, err := m.repo.Chat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load chat %d: %w", chatID, err)
	}
	if created {
		m.logger.Info("conversation created", zap.Int64("chat_id", chatID))
	}
	return conv, nil
}

// Load returns the chat's conversation with the inbound message appended and
// written through.
func (m *Manager) Load(ctx context.Context, chatID int64, sender Sender, text string) (*models.Conversation, error) {
	conv, err := m.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	conv.History = append(conv.History, UserMessage(sender, text))
	if err := m.Save(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// State reports conv's lifecycle state.
func (m *Manager) State(conv *models.Conversation) (State, error) {
	if conv == nil {
		return StateUninitialized, nil
	}
	sys, err := m.SystemTokens(conv)
	if err != nil {
		return StateUninitialized, err
	}
	if sys > conv.Config.MaxTokens {
		return StateOverBudget, nil
	}
	return StateReady, nil
}

// SystemTokens counts the system message alone.
func (m *Manager) SystemTokens(conv *models.Conversation) (int, error) {
	return m.counter.Count([]models.Message{conv.SystemMessage}, conv.Config.Model)
}

// Trim pops history[0] until the prompt fits conv.Config.MaxTokens. It returns
// the number of popped messages and the final prompt token count. Nothing is
// persisted.
func (m *Manager) Trim(conv *models.Conversation) (popped, total int, err error) {
	budget := conv.Config.MaxTokens
	model := conv.Config.Model

	sys, err := m.SystemTokens(conv)
	if err != nil {
		return 0, 0, err
	}
	if sys > budget {
		return 0, 0, &models.TooManyTokensError{Tokens: sys, Limit: budget}
	}

	total, err = m.counter.Count(conv.Prompt(), model)
	if err != nil {
		return 0, 0, err
	}
	for total > budget && len(conv.History) > 0 {
		conv.History = conv.History[1:]
		popped++
		if total, err = m.counter.Count(conv.Prompt(), model); err != nil {
			return popped, 0, err
		}
	}
	return popped, total, nil
}

// Normalize trims conv to its budget and returns the prompt to send with its
// token count. The conversation is persisted once if anything was popped.
func (m *Manager) Normalize(ctx context.Context, conv *models.Conversation) ([]models.Message, int, error) {
	popped, total, err := m.Trim(conv)
	if popped > 0 {
		metrics.HistoryTrimmed.Add(float64(popped))
		m.logger.Debug("history trimmed",
			zap.Int64("chat_id", conv.ChatID),
			zap.Int("popped", popped),
			zap.Int("remaining", len(conv.History)),
		)
		if saveErr := m.Save(ctx, conv); saveErr != nil && err == nil {
			err = saveErr
		}
	}
	if err != nil {
		return nil, 0, err
	}
	return conv.Prompt(), total, nil
}

// AppendReply appends the assistant reply. The window is not re-trimmed; the
// next user turn brings it back under budget.
func (m *Manager) AppendReply(conv *models.Conversation, text string) {
	conv.History = append(conv.History, models.Message{Role: models.RoleAssistant, Content: text})
}

// RollbackLastUser removes the trailing user message, if there is one.
func (m *Manager) RollbackLastUser(conv *models.Conversation) bool {
	n := len(conv.History)
	if n == 0 || conv.History[n-1].Role != models.RoleUser {
		return false
	}
	conv.History = conv.History[:n-1]
	return true
}

// ─── Configuration ───────────────────────────────────────────────────────────

// SetMaxTokens changes the prompt budget. The budget must leave MinReplyTokens
// beside the system message.
func (m *Manager) SetMaxTokens(ctx context.Context, conv *models.Conversation, maxTokens int) error {
	sys, err := m.SystemTokens(conv)
	if err != nil {
		return err
	}
	if maxTokens < sys+MinReplyTokens {
		return &MaxTokensTooSmallError{SystemTokens: sys, Minimum: sys + MinReplyTokens}
	}
	conv.Config.MaxTokens = maxTokens
	return m.Save(ctx, conv)
}

// SetTemperature changes the sampling temperature.
func (m *Manager) SetTemperature(ctx context.Context, conv *models.Conversation, temperature float64) error {
	if temperature < 0 || temperature > 1 {
		return ErrTemperatureRange
	}
	conv.Config.Temperature = temperature
	return m.Save(ctx, conv)
}

// SetModel switches the chat to a supported model.
func (m *Manager) SetModel(ctx context.Context, conv *models.Conversation, model models.ModelID) error {
	if !models.IsSupported(model) {
		return &models.UnsupportedModelError{Model: model}
	}
	conv.Config.Model = model
	return m.Save(ctx, conv)
}

// SetSystemMessage replaces the system message.
func (m *Manager) SetSystemMessage(ctx context.Context, conv *models.Conversation, content string) error {
	if len(content) <= models.MinSystemPromptChars {
		return ErrSystemMessageTooShort
	}
	conv.SystemMessage = models.Message{Role: models.RoleSystem, Content: content}
	return m.Save(ctx, conv)
}

// Clear drops the whole history.
func (m *Manager) Clear(ctx context.Context, conv *models.Conversation) error {
	conv.History = []models.Message{}
	return m.Save(ctx, conv)
}

// Save writes conv through the repository.
func (m *Manager) Save(ctx context.Context, conv *models.Conversation) error {
	if err := m.repo.SaveChat(ctx, conv); err != nil {
		return fmt.Errorf("save chat %d: %w", conv.ChatID, err)
	}
	return nil
}
