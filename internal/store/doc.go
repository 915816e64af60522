// ABOUTME: Package store provides the durable key/value layer for marketmind.
// ABOUTME: SQLite-backed in production, in-memory for degraded mode and tests.

// Package store defines the minimal KV contract backing the session store,
// the result cache, and the rate limit buckets, plus its SQLite and
// in-memory implementations.
//
// The contract is deliberately small (get/set-with-ttl/incr/expire/delete)
// so that any durable key/value store can satisfy it.
package store
