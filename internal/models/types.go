package models

// Package models defines the value types shared by the bot's billing and
// conversation packages.
//
// These types are serialized as-is into the session cache and the store, so
// their JSON shape is part of the persisted format.

import "strings"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message. Messages are never mutated in place.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ModelID identifies a completion model or a pricing tier of one.
type ModelID string

const (
	GPT35Turbo     ModelID = "gpt-3.5-turbo"
	GPT35Turbo0301 ModelID = "gpt-3.5-turbo-0301"
	GPT4           ModelID = "gpt-4"
	GPT40314       ModelID = "gpt-4-0314"

	// Pricing tiers of the gpt-4 family; not selectable as chat models.
	GPT4Tier8K  ModelID = "gpt-4-8k"
	GPT4Tier32K ModelID = "gpt-4-32k"
)

// SupportedModels lists the models a chat can switch to.
var SupportedModels = []ModelID{GPT35Turbo0301, GPT35Turbo, GPT4}

// IsSupported reports whether id can be used as a chat model.
func IsSupported(id ModelID) bool {
	for _, m := range SupportedModels {
		if m == id {
			return true
		}
	}
	return false
}

const (
	DefaultModel         = GPT35Turbo0301
	DefaultMaxTokens     = 500
	DefaultTemperature   = 0.7
	DefaultSystemPrompt  = "You are consultant. You can use any language you want."
	DefaultBalanceCents  = 200
	MinSystemPromptChars = 20
)

// ModelConfig is the per-chat completion configuration.
type ModelConfig struct {
	Model       ModelID `json:"current_model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// DefaultModelConfig returns the configuration new chats start with.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Model:       DefaultModel,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// Conversation is a chat's rolling message log plus its fixed system message.
//
// tokens(SystemMessage) + tokens(History) <= Config.MaxTokens holds after every
// trim that is persisted. The assistant reply appended after a completion may
// push the total over budget until the next user turn trims again.
type Conversation struct {
	ChatID        int64       `json:"chat_id"`
	Config        ModelConfig `json:"open_ai_config"`
	SystemMessage Message     `json:"system_message"`
	History       []Message   `json:"messages"`
}

// NewConversation creates a conversation with the given configuration and
// system prompt and an empty history.
func NewConversation(chatID int64, cfg ModelConfig, systemPrompt string) *Conversation {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Conversation{
		ChatID:        chatID,
		Config:        cfg,
		SystemMessage: Message{Role: RoleSystem, Content: systemPrompt},
		History:       []Message{},
	}
}

// Prompt returns the system message followed by the history.
func (c *Conversation) Prompt() []Message {
	out := make([]Message, 0, len(c.History)+1)
	out = append(out, c.SystemMessage)
	return append(out, c.History...)
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.History = append([]Message(nil), c.History...)
	return &cp
}

// ModelUsage counts tokens consumed on one model family. Flat-rate families
// only ever populate TotalTokens.
type ModelUsage struct {
	PromptTokens     int64 `json:"prompt_tokens,omitempty"`
	CompletionTokens int64 `json:"completion_tokens,omitempty"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Add returns the field-wise sum of u and other.
func (u ModelUsage) Add(other ModelUsage) ModelUsage {
	return ModelUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// UsageBook holds one usage bucket per model family.
type UsageBook struct {
	GPT35Turbo     ModelUsage `json:"gpt_3_5_turbo"`
	GPT35Turbo0301 ModelUsage `json:"gpt_3_5_turbo_0301"`
	GPT4           ModelUsage `json:"gpt_4"`
}

// UserAccount is a user's prepaid balance and cumulative usage.
type UserAccount struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	IsAdmin  bool      `json:"is_admin"`
	Balance  Amount    `json:"current_balance"`
	Usage    UsageBook `json:"model_token_usage"`
}

// NewUserAccount creates an account holding the starting balance.
func NewUserAccount(userID int64, username string, balance Amount) *UserAccount {
	return &UserAccount{
		UserID:   userID,
		Username: strings.TrimPrefix(username, "@"),
		Balance:  balance,
	}
}
