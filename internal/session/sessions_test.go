package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UltimateSoul/soul-ai-bot/internal/cache"
	"github.com/UltimateSoul/soul-ai-bot/internal/db"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	cache    *cache.MemoryCache
	store    db.Store
	sessions *Sessions
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := cache.NewMemory(cache.WithClock(clk.Now), cache.WithSweepInterval(0))
	t.Cleanup(func() { _ = c.Close() })

	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	s := New(c, store, Options{Defaults: Defaults{
		Config:          models.DefaultModelConfig(),
		SystemPrompt:    models.DefaultSystemPrompt,
		StartingBalance: models.Amount(models.DefaultBalanceCents * models.AmountScale),
		AdminID:         1,
	}}, nil, nil)
	return &fixture{cache: c, store: store, sessions: s, clock: clk}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "chat_session:-100", ChatKey(-100))
	assert.Equal(t, "user_session:7", UserKey(7))
	assert.Equal(t, "shadow:user_session:7", ShadowKey(UserKey(7)))

	prefix, id, err := ParseKey("chat_session:-100")
	require.NoError(t, err)
	assert.Equal(t, ChatPrefix, prefix)
	assert.Equal(t, int64(-100), id)

	for _, bad := range []string{"session:1", "chat_session", "user_session:abc"} {
		_, _, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestChatCreatedOnFirstSight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, created, err := f.sessions.Chat(ctx, 42)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.DefaultSystemPrompt, conv.SystemMessage.Content)
	assert.Empty(t, conv.History)

	// persisted to the store and cached with a shadow
	_, err = f.store.GetChat(ctx, 42)
	require.NoError(t, err)
	_, found, _ := f.cache.Get(ctx, ChatKey(42))
	assert.True(t, found)
	_, found, _ = f.cache.Get(ctx, ShadowKey(ChatKey(42)))
	assert.True(t, found)

	_, created, err = f.sessions.Chat(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestSaveChatIsCacheOnlyUntilFlush(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _, err := f.sessions.Chat(ctx, 42)
	require.NoError(t, err)
	conv.History = append(conv.History, models.Message{Role: models.RoleUser, Content: "hi"})
	require.NoError(t, f.sessions.SaveChat(ctx, conv))

	stored, err := f.store.GetChat(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, stored.History, "write-back must be deferred")

	cached, _, err := f.sessions.Chat(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, cached.History, 1)

	require.NoError(t, f.sessions.Flush(ctx, ChatKey(42)))
	stored, err = f.store.GetChat(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, stored.History, 1)

	_, found, _ := f.cache.Get(ctx, ChatKey(42))
	assert.False(t, found, "flushed session must leave the cache")

	// next read falls back to the store
	reloaded, created, err := f.sessions.Chat(ctx, 42)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, reloaded.History, 1)
}

func TestAccountDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, created, err := f.sessions.Account(ctx, 5, "@bob")
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, acct.IsAdmin)
	assert.Equal(t, "bob", acct.Username)
	assert.Equal(t, 200.0, acct.Balance.Cents())

	admin, _, err := f.sessions.Account(ctx, 1, "root")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
}

func TestAccountByUsernamePrefersCachedState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, _, err := f.sessions.Account(ctx, 5, "bob")
	require.NoError(t, err)
	acct.Balance += 100
	require.NoError(t, f.sessions.SaveAccount(ctx, acct))

	got, err := f.sessions.AccountByUsername(ctx, "@bob")
	require.NoError(t, err)
	assert.Equal(t, acct.Balance, got.Balance)

	_, err = f.sessions.AccountByUsername(ctx, "@ghost")
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestFlusherWritesBackOnShadowExpiry(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acct, _, err := f.sessions.Account(ctx, 9, "eve")
	require.NoError(t, err)
	acct.Balance = 12345
	require.NoError(t, f.sessions.SaveAccount(ctx, acct))

	flusher := NewFlusher(f.sessions, f.cache, nil)
	events, err := f.cache.Expirations(ctx)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- flusher.Consume(ctx, events) }()

	f.clock.Advance(DefaultShadowTTL + time.Second)
	require.Eventually(t, func() bool {
		f.cache.Sweep()
		stored, err := f.store.GetAccount(context.Background(), 9)
		return err == nil && stored.Balance == 12345
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, found, _ := f.cache.Get(context.Background(), UserKey(9))
		return !found
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestFlusherIgnoresForeignKeys(t *testing.T) {
	f := newFixture(t)
	flusher := NewFlusher(f.sessions, f.cache, nil)
	ctx := context.Background()

	require.NoError(t, f.cache.Set(ctx, "other:1", []byte("x"), 0))
	flusher.handle(ctx, "other:1")
	flusher.handle(ctx, "shadow:other:1")

	_, found, _ := f.cache.Get(ctx, "other:1")
	assert.True(t, found)
}

func TestFlushAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		conv, _, err := f.sessions.Chat(ctx, id)
		require.NoError(t, err)
		conv.Config.Temperature = 0.1
		require.NoError(t, f.sessions.SaveChat(ctx, conv))
	}
	acct, _, err := f.sessions.Account(ctx, 4, "dan")
	require.NoError(t, err)
	acct.Balance = 1
	require.NoError(t, f.sessions.SaveAccount(ctx, acct))

	require.NoError(t, f.sessions.FlushAll(ctx))

	for _, id := range []int64{1, 2, 3} {
		stored, err := f.store.GetChat(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0.1, stored.Config.Temperature)
	}
	stored, err := f.store.GetAccount(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, models.Amount(1), stored.Balance)

	keys, err := f.cache.Keys(ctx, "*_session:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
