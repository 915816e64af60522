// ABOUTME: Package ratelimit gates inbound requests with token buckets.
// ABOUTME: Buckets are keyed by (client, endpoint) and persisted in the KV store.

// Package ratelimit implements the admission controller: a classic token
// bucket per (client key, endpoint) pair, with named presets so different
// endpoints carry independently configured limits. Store outages degrade
// to open or closed admission per configuration and never crash a caller.
package ratelimit
