package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

// migrations are applied in order; applied versions are tracked in schema_versions.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS chats (
    chat_id         INTEGER PRIMARY KEY,
    model           TEXT NOT NULL,
    max_tokens      INTEGER NOT NULL,
    temperature     REAL NOT NULL,
    system_message  TEXT NOT NULL,
    history         TEXT NOT NULL DEFAULT '[]',
    updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS user_accounts (
    user_id     INTEGER PRIMARY KEY,
    username    TEXT NOT NULL DEFAULT '',
    is_admin    INTEGER NOT NULL DEFAULT 0,
    balance     INTEGER NOT NULL DEFAULT 0, -- 1/100000 cent units
    usage       TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL
);
`,
	},
	// Migration 2: username lookups for admin top-ups
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_user_accounts_username ON user_accounts(username COLLATE NOCASE);
`,
	},
}

// sqliteStore implements Store using SQLite.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies migrations.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

// ─── Chats ───────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveChat(ctx context.Context, conv *models.Conversation) error {
	system, err := json.Marshal(conv.SystemMessage)
	if err != nil {
		return fmt.Errorf("encode system message: %w", err)
	}
	history := conv.History
	if history == nil {
		history = []models.Message{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO chats (chat_id, model, max_tokens, temperature, system_message, history, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET
    model          = excluded.model,
    max_tokens     = excluded.max_tokens,
    temperature    = excluded.temperature,
    system_message = excluded.system_message,
    history        = excluded.history,
    updated_at     = excluded.updated_at`,
		conv.ChatID, string(conv.Config.Model), conv.Config.MaxTokens, conv.Config.Temperature,
		string(system), string(historyJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save chat %d: %w", conv.ChatID, err)
	}
	return nil
}

func (s *sqliteStore) GetChat(ctx context.Context, chatID int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT chat_id, model, max_tokens, temperature, system_message, history
FROM chats WHERE chat_id = ?`, chatID)

	conv, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat %d: %w", chatID, err)
	}
	return conv, nil
}

func scanChat(row rowScanner) (*models.Conversation, error) {
	var (
		conv    models.Conversation
		model   string
		system  string
		history string
	)
	if err := row.Scan(&conv.ChatID, &model, &conv.Config.MaxTokens, &conv.Config.Temperature, &system, &history); err != nil {
		return nil, err
	}
	conv.Config.Model = models.ModelID(model)
	if err := json.Unmarshal([]byte(system), &conv.SystemMessage); err != nil {
		return nil, fmt.Errorf("decode system message: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &conv.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if conv.History == nil {
		conv.History = []models.Message{}
	}
	return &conv, nil
}

// ─── Accounts ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveAccount(ctx context.Context, acct *models.UserAccount) error {
	usage, err := json.Marshal(acct.Usage)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO user_accounts (user_id, username, is_admin, balance, usage, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    username   = excluded.username,
    is_admin   = excluded.is_admin,
    balance    = excluded.balance,
    usage      = excluded.usage,
    updated_at = excluded.updated_at`,
		acct.UserID, strings.TrimPrefix(acct.Username, "@"), boolToInt(acct.IsAdmin),
		int64(acct.Balance), string(usage), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save account %d: %w", acct.UserID, err)
	}
	return nil
}

func (s *sqliteStore) GetAccount(ctx context.Context, userID int64) (*models.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, username, is_admin, balance, usage
FROM user_accounts WHERE user_id = ?`, userID)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", userID, err)
	}
	return acct, nil
}

func (s *sqliteStore) GetAccountByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, username, is_admin, balance, usage
FROM user_accounts WHERE username = ? COLLATE NOCASE
LIMIT 1`, username)

	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by username %q: %w", username, err)
	}
	return acct, nil
}

func scanAccount(row rowScanner) (*models.UserAccount, error) {
	var (
		acct    models.UserAccount
		isAdmin int
		balance int64
		usage   string
	)
	if err := row.Scan(&acct.UserID, &acct.Username, &isAdmin, &balance, &usage); err != nil {
		return nil, err
	}
	acct.IsAdmin = isAdmin != 0
	acct.Balance = models.Amount(balance)
	if err := json.Unmarshal([]byte(usage), &acct.Usage); err != nil {
		return nil, fmt.Errorf("decode usage: %w", err)
	}
	return &acct, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
