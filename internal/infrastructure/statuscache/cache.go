// Package statuscache implements the read-through leaderboard/status cache.
// Reads go to the cache first; on a miss the configured fetch function loads
// from the collaborator and the result is stored with a TTL. Write paths that
// change the underlying data must invalidate the affected keys.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/guildhaven/guild-haven-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrUnknown is returned when a key misses the cache and the underlying
	// fetch also fails: the value is neither stale nor zero, it is unknown,
	// and the caller decides the fallback.
	ErrUnknown = errors.New("statuscache: value unknown")

	// ErrKeyEmpty is returned when an empty key is provided.
	ErrKeyEmpty = errors.New("statuscache: key cannot be empty")
)

// ══════════════════════════════════════════════════════════════════════════════
// TTLs AND KEYS
// ══════════════════════════════════════════════════════════════════════════════

// Default TTL values for the two classes of cached data.
const (
	// TTLVolatileStatus is for per-member status flags (block state,
	// grant presence) that go stale quickly.
	TTLVolatileStatus = 60 * time.Second

	// TTLAggregate is for aggregate reads such as leaderboards.
	TTLAggregate = 300 * time.Second
)

// Key builds the composite cache key for a guild-scoped subtype,
// e.g. Key(guild, "leaderboard", "xp") → "status:1001:leaderboard:xp".
func Key(guildID shared.GuildID, subtype ...string) string {
	key := "status:" + guildID.String()
	for _, part := range subtype {
		key += ":" + part
	}
	return key
}

// scopePrefix is the key prefix shared by every key of a guild.
func scopePrefix(guildID shared.GuildID) string {
	return "status:" + guildID.String() + ":"
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store is the backing storage for cache entries. The in-memory store serves
// tests and single-instance deployments; the Redis store serves everything
// else. Concurrent fetches for the same key may race on a miss; last write
// wins, which is acceptable because the store is not the system of record.
type Store interface {
	// Get returns the stored bytes for a key, with found=false on a miss
	// (including TTL expiry).
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores bytes under a key with a TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeletePrefix removes all keys sharing a prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE
// ══════════════════════════════════════════════════════════════════════════════

// FetchFunc loads the authoritative value for a key on a cache miss.
type FetchFunc func(ctx context.Context) (interface{}, error)

// Cache is the read-through cache over a Store.
type Cache struct {
	store      Store
	logger     *slog.Logger
	defaultTTL time.Duration
}

// Config configures a Cache.
type Config struct {
	// DefaultTTL applies when Get is used instead of GetWithTTL.
	DefaultTTL time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// New creates a Cache over the given store.
func New(store Store, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = TTLVolatileStatus
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		store:      store,
		logger:     cfg.Logger.With("component", "statuscache"),
		defaultTTL: cfg.DefaultTTL,
	}
}

// Get reads a key through the cache with the default TTL.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}, fetch FetchFunc) error {
	return c.GetWithTTL(ctx, key, dest, c.defaultTTL, fetch)
}

// GetWithTTL reads a key through the cache. On a hit the cached value is
// decoded into dest. On a miss the fetch function loads the value, which is
// stored with the TTL and decoded into dest. A miss whose fetch also fails
// returns ErrUnknown wrapping the fetch error.
func (c *Cache) GetWithTTL(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetch FetchFunc) error {
	if key == "" {
		return ErrKeyEmpty
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		// A broken store degrades to a plain fetch.
		c.logger.Warn("cache store read failed", "key", key, "error", err)
	}
	if found {
		if err := json.Unmarshal(data, dest); err == nil {
			return nil
		}
		// Undecodable entry: drop it and fall through to the fetch.
		_ = c.store.Delete(ctx, key)
	}

	value, err := fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknown, err)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("statuscache: encode %s: %w", key, err)
	}

	if err := c.store.Set(ctx, key, encoded, ttl); err != nil {
		// Failing to populate the cache is not failing the read.
		c.logger.Warn("cache store write failed", "key", key, "error", err)
	}

	return json.Unmarshal(encoded, dest)
}

// Invalidate eagerly deletes the given keys. Every write path that changes
// the underlying data calls this (e.g. after a batch flush mutates rows).
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

// InvalidateScope eagerly deletes every cached key of a guild.
func (c *Cache) InvalidateScope(ctx context.Context, guildID shared.GuildID) error {
	return c.store.DeletePrefix(ctx, scopePrefix(guildID))
}
