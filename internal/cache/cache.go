// ABOUTME: Cache-aside result cache for tool call payloads with a central TTL
// ABOUTME: Advisory only: store outages degrade to always-miss, writes are fire-and-forget

package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/2389/marketmind/internal/store"
)

// Cache stores tool result payloads keyed by call fingerprint. A fingerprint
// never maps to two different payloads within its TTL window: entries are
// immutable once written, and a re-fetch after expiry overwrites.
type Cache struct {
	kv     store.KV
	ttl    time.Duration
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a result cache with the given TTL. TTL is a cache property,
// not a tool property; all entries share it.
func New(kv store.KV, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		kv:     kv,
		ttl:    ttl,
		logger: logger.With("component", "cache"),
	}
}

// Get returns the cached payload for fingerprint, or false on a miss.
// Store failures count as misses; the caller falls through to a live call.
func (c *Cache) Get(ctx context.Context, fingerprint string) ([]byte, bool) {
	payload, err := c.kv.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("cache read failed, treating as miss", "key", fingerprint, "error", err)
		}
		c.misses.Add(1)
		c.logger.Debug("cache miss", "key", fingerprint)
		return nil, false
	}

	c.hits.Add(1)
	c.logger.Debug("cache hit", "key", fingerprint)
	return payload, true
}

// Put stores a payload under fingerprint. Writes are fire-and-forget: a
// failed write is logged and never fails the tool call that produced the
// value.
func (c *Cache) Put(ctx context.Context, fingerprint string, payload []byte) {
	if err := c.kv.Set(ctx, fingerprint, payload, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", fingerprint, "error", err)
		return
	}
	c.logger.Debug("cache set", "key", fingerprint, "ttl", c.ttl)
}

// Stats returns the cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
