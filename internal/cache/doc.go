// ABOUTME: Package cache deduplicates identical external tool calls.
// ABOUTME: Cache-aside over the KV store, keyed by canonical call fingerprints.

// Package cache implements the result cache sitting between the tool
// invocation gateway and the tool transport. The cache is advisory: its
// unavailability degrades every read to a miss and never to a hard error.
package cache
