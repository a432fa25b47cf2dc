package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/audit"
	"github.com/UltimateSoul/soul-ai-bot/internal/cache"
	"github.com/UltimateSoul/soul-ai-bot/internal/db"
	"github.com/UltimateSoul/soul-ai-bot/internal/metrics"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/worker"
)

// Key layout. A session lives under <prefix>:<id> without a TTL; its
// companion shadow:<prefix>:<id> carries the TTL and only exists to expire.
const (
	ChatPrefix   = "chat_session"
	UserPrefix   = "user_session"
	ShadowPrefix = "shadow:"

	DefaultShadowTTL = 120 * time.Second
)

// ChatKey returns the cache key of a chat session.
func ChatKey(chatID int64) string { return fmt.Sprintf("%s:%d", ChatPrefix, chatID) }

// UserKey returns the cache key of a user session.
func UserKey(userID int64) string { return fmt.Sprintf("%s:%d", UserPrefix, userID) }

// ShadowKey returns the expiry trigger for key.
func ShadowKey(key string) string { return ShadowPrefix + key }

// ParseKey splits a session key into its prefix and id.
func ParseKey(key string) (prefix string, id int64, err error) {
	prefix, raw, ok := strings.Cut(key, ":")
	if !ok || (prefix != ChatPrefix && prefix != UserPrefix) {
		return "", 0, fmt.Errorf("not a session key: %q", key)
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad session id in %q: %w", key, err)
	}
	return prefix, id, nil
}

// Defaults seed records created on first sight.
type Defaults struct {
	Config          models.ModelConfig
	SystemPrompt    string
	StartingBalance models.Amount
	AdminID         int64
}

// Options configures Sessions.
type Options struct {
	Defaults  Defaults
	ShadowTTL time.Duration
}

// Sessions is the write-through session cache in front of the store.
// Writes land in the cache only; the Flusher reconciles them into the store
// when the shadow key expires.
type Sessions struct {
	cache     cache.Cache
	store     db.Store
	defaults  Defaults
	shadowTTL time.Duration
	locks     *worker.KeyedMutex[string]
	audit     audit.Logger
	logger    *zap.Logger
}

// New creates Sessions.
func New(c cache.Cache, store db.Store, opts Options, auditLog audit.Logger, logger *zap.Logger) *Sessions {
	if opts.ShadowTTL <= 0 {
		opts.ShadowTTL = DefaultShadowTTL
	}
	if auditLog == nil {
		auditLog = audit.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions{
		cache:     c,
		store:     store,
		defaults:  opts.Defaults,
		shadowTTL: opts.ShadowTTL,
		locks:     worker.NewKeyedMutex[string](),
		audit:     auditLog,
		logger:    logger.Named("session"),
	}
}

// ─── Chats ───────────────────────────────────────────────────────────────────

// Chat returns the chat's conversation: cache, then store, then a new default.
// A store hit or a created default is put in the cache.
func (s *Sessions) Chat(ctx context.Context, chatID int64) (*models.Conversation, bool, error) {
	key := ChatKey(chatID)
	var conv models.Conversation
	if found, err := s.fromCache(ctx, key, "chat", &conv); err != nil {
		return nil, false, err
	} else if found {
		return &conv, false, nil
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	// the session may have been written while we waited
	if found, err := s.fromCache(ctx, key, "chat", &conv); err != nil {
		return nil, false, err
	} else if found {
		return &conv, false, nil
	}

	created := false
	stored, err := s.store.GetChat(ctx, chatID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		stored = models.NewConversation(chatID, s.defaults.Config, s.defaults.SystemPrompt)
		if err := s.store.SaveChat(ctx, stored); err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, err
	}

	if err := s.write(ctx, key, stored); err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// SaveChat writes the conversation to the cache and re-arms its shadow.
func (s *Sessions) SaveChat(ctx context.Context, conv *models.Conversation) error {
	key := ChatKey(conv.ChatID)
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.write(ctx, key, conv)
}

// ─── Accounts ────────────────────────────────────────────────────────────────

// Account returns the user's account: cache, then store, then a new account
// with the starting balance.
func (s *Sessions) Account(ctx context.Context, userID int64, username string) (*models.UserAccount, bool, error) {
	key := UserKey(userID)
	var acct models.UserAccount
	if found, err := s.fromCache(ctx, key, "account", &acct); err != nil {
		return nil, false, err
	} else if found {
		return &acct, false, nil
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	if found, err := s.fromCache(ctx, key, "account", &acct); err != nil {
		return nil, false, err
	} else if found {
		return &acct, false, nil
	}

	created := false
	stored, err := s.store.GetAccount(ctx, userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		stored = models.NewUserAccount(userID, username, s.defaults.StartingBalance)
		stored.IsAdmin = s.defaults.AdminID != 0 && userID == s.defaults.AdminID
		if err := s.store.SaveAccount(ctx, stored); err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, err
	}

	if err := s.write(ctx, key, stored); err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// AccountByUsername finds a known account by username. Returns db.ErrNotFound
// for users the bot has never seen.
func (s *Sessions) AccountByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	stored, err := s.store.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	acct, _, err := s.Account(ctx, stored.UserID, stored.Username)
	return acct, err
}

// SaveAccount writes the account to the cache and re-arms its shadow.
func (s *Sessions) SaveAccount(ctx context.Context, acct *models.UserAccount) error {
	key := UserKey(acct.UserID)
	unlock := s.locks.Lock(key)
	defer unlock()
	return s.write(ctx, key, acct)
}

// ─── Write-back ──────────────────────────────────────────────────────────────

// Flush persists the session under key to the store and drops it from the
// cache. A key that is no longer cached is a no-op.
func (s *Sessions) Flush(ctx context.Context, key string) error {
	prefix, _, err := ParseKey(key)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	kind := "chat"
	switch prefix {
	case ChatPrefix:
		var conv models.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		err = s.store.SaveChat(ctx, &conv)
	case UserPrefix:
		kind = "account"
		var acct models.UserAccount
		if err := json.Unmarshal(data, &acct); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		err = s.store.SaveAccount(ctx, &acct)
	}
	if err != nil {
		metrics.SessionFlushes.WithLabelValues(kind, "error").Inc()
		return err
	}

	if err := s.cache.Delete(ctx, key, ShadowKey(key)); err != nil {
		return err
	}
	metrics.SessionFlushes.WithLabelValues(kind, "ok").Inc()
	_ = s.audit.LogSessionFlushed(ctx, key)
	s.logger.Debug("session flushed", zap.String("key", key))
	return nil
}

// FlushAll persists every cached session. Used on shutdown.
func (s *Sessions) FlushAll(ctx context.Context) error {
	var errs []error
	for _, prefix := range []string{ChatPrefix, UserPrefix} {
		keys, err := s.cache.Keys(ctx, prefix+":*")
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, key := range keys {
			if err := s.Flush(ctx, key); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (s *Sessions) fromCache(ctx context.Context, key, kind string, v any) (bool, error) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !found {
		metrics.CacheLookups.WithLabelValues(kind, "miss").Inc()
		return false, nil
	}
	metrics.CacheLookups.WithLabelValues(kind, "hit").Inc()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// write sets the main key without TTL, then the shadow with it. Caller holds
// the key's lock.
func (s *Sessions) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.cache.Set(ctx, key, data, 0); err != nil {
		return err
	}
	return s.cache.Set(ctx, ShadowKey(key), []byte{}, s.shadowTTL)
}
