package cache

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	value    []byte
	deadline time.Time // zero: no expiry
}

type subscriber struct {
	ch  chan string
	ctx context.Context
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) { m.now = now }
}

// WithSweepInterval sets how often expired keys are collected. Zero disables
// the background sweeper; call Sweep directly.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(m *MemoryCache) { m.sweepInterval = d }
}

// MemoryCache implements Cache in process memory.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryEntry

	deliverMu sync.Mutex
	subs      []*subscriber

	now           func() time.Time
	sweepInterval time.Duration
	stopCh        chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// NewMemory creates a MemoryCache. The sweeper runs every second unless
// configured otherwise.
func NewMemory(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{
		items:         make(map[string]memoryEntry),
		now:           time.Now,
		sweepInterval: time.Second,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m
}

func (m *MemoryCache) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *MemoryCache) expired(e memoryEntry, now time.Time) bool {
	return !e.deadline.IsZero() && !now.Before(e.deadline)
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok || m.expired(e, m.now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.deadline = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Keys matches with path.Match, which covers the glob subset session keys use.
func (m *MemoryCache) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var keys []string
	for k, e := range m.items {
		if m.expired(e, now) {
			continue
		}
		ok, err := path.Match(pattern, k)
		if err != nil {
			return nil, err
		}
		if ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryCache) Expirations(ctx context.Context) (<-chan string, error) {
	sub := &subscriber{ch: make(chan string, 64), ctx: ctx}

	m.deliverMu.Lock()
	m.subs = append(m.subs, sub)
	m.deliverMu.Unlock()

	go func() {
		<-ctx.Done()
		m.deliverMu.Lock()
		defer m.deliverMu.Unlock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()
	return sub.ch, nil
}

// Sweep removes expired keys and publishes their names to subscribers.
func (m *MemoryCache) Sweep() {
	m.mu.Lock()
	now := m.now()
	var expired []string
	for k, e := range m.items {
		if m.expired(e, now) {
			expired = append(expired, k)
			delete(m.items, k)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	sort.Strings(expired)

	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	for _, key := range expired {
		for _, sub := range m.subs {
			select {
			case sub.ch <- key:
			case <-sub.ctx.Done():
			}
		}
	}
}

func (m *MemoryCache) Close() error {
	m.closeOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	return nil
}
