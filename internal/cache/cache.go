package cache

import (
	"context"
	"time"
)

// Package cache is the fast key-value tier in front of the persistent store.
//
// Responsibilities:
//   - Hold serialized chat and account sessions on the hot path
//   - Expire keys by TTL
//   - Announce expirations so a background task can write sessions back
//
// Backends:
//
//   1. Redis (production)
//      - go-redis client, SCAN for key listing
//      - Expirations come from keyspace notifications on
//        __keyevent@<db>__:expired (requires notify-keyspace-events Ex)
//
//   2. Memory (tests, single-process runs)
//      - Map with per-key deadlines, swept on an interval
//      - Expired keys are published to every subscriber
//
// Key layout is owned by the session package; the cache treats keys and
// values as opaque.

// Cache defines the interface for caching operations.
type Cache interface {
	// Get retrieves a cached value by key.
	// Returns: value, found (bool), error
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with given key and TTL.
	// ttl: time to live (0 = never expire)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys from cache.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists keys matching a glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Expirations streams the names of keys removed by TTL until ctx is done.
	Expirations(ctx context.Context) (<-chan string, error)

	// Close releases backend resources.
	Close() error
}
