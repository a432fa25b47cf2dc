package db

import (
	"context"
	"errors"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// ErrNotFound is returned when a chat or account has no stored record.
var ErrNotFound = errors.New("record not found")

// Store is the durable record of chats and accounts. The session cache is
// reconciled into it, never the reverse.
type Store interface {
	ChatStore
	AccountStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Chat store ──────────────────────────────────────────────────────────────

// ChatStore persists conversations keyed by chat id.
type ChatStore interface {
	// GetChat returns ErrNotFound when the chat was never saved.
	GetChat(ctx context.Context, chatID int64) (*models.Conversation, error)

	// SaveChat inserts or replaces the chat.
	SaveChat(ctx context.Context, conv *models.Conversation) error
}

// ─── Account store ───────────────────────────────────────────────────────────

// AccountStore persists user accounts keyed by user id.
type AccountStore interface {
	// GetAccount returns ErrNotFound when the user was never saved.
	GetAccount(ctx context.Context, userID int64) (*models.UserAccount, error)

	// GetAccountByUsername looks an account up by Telegram username, with or
	// without the leading @.
	GetAccountByUsername(ctx context.Context, username string) (*models.UserAccount, error)

	// SaveAccount inserts or replaces the account.
	SaveAccount(ctx context.Context, acct *models.UserAccount) error
}
