// ABOUTME: KV interface and sentinel errors for marketmind persistence
// ABOUTME: Backs the session store, result cache, and rate limit buckets

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist or has expired
var ErrNotFound = errors.New("not found")

// KV is the minimal durable store contract shared by the session store,
// the result cache, and the rate limiter. Any implementation must treat a
// key whose TTL has fully elapsed as absent: an entry at exactly TTL
// elapsed is expired.
//
// Callers must tolerate KV unavailability: the cache degrades to
// always-miss and the rate limiter to open admission, never to a hard
// error surfaced to the end user.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically adds delta to the integer counter at key and returns
	// the new value. A missing key counts as zero.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Expire resets the TTL on an existing key. Returns ErrNotFound if the
	// key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}
