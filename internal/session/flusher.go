package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/cache"
)

// Flusher writes sessions back to the store when their shadow keys expire.
type Flusher struct {
	sessions *Sessions
	cache    cache.Cache
	logger   *zap.Logger
}

// NewFlusher creates a Flusher listening on c's expirations.
func NewFlusher(sessions *Sessions, c cache.Cache, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{sessions: sessions, cache: c, logger: logger.Named("flusher")}
}

// Run consumes expiration events until ctx is done.
func (f *Flusher) Run(ctx context.Context) error {
	events, err := f.cache.Expirations(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("listening for session expirations")
	return f.Consume(ctx, events)
}

// Consume handles expired keys from events until ctx is done or events closes.
func (f *Flusher) Consume(ctx context.Context, events <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-events:
			if !ok {
				return nil
			}
			f.handle(ctx, key)
		}
	}
}

func (f *Flusher) handle(ctx context.Context, expired string) {
	if !strings.HasPrefix(expired, ShadowPrefix) {
		return
	}
	key := strings.TrimPrefix(expired, ShadowPrefix)
	if _, _, err := ParseKey(key); err != nil {
		f.logger.Debug("ignoring expiration", zap.String("key", expired))
		return
	}
	if err := f.sessions.Flush(ctx, key); err != nil {
		f.logger.Error("session flush failed", zap.String("key", key), zap.Error(err))
	}
}
