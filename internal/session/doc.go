// ABOUTME: Package session holds the conversation model and its durable store.
// ABOUTME: History is the source of truth; messages are append-only.

// Package session defines the conversation data model (sessions, messages,
// tool calls) and persists sessions as JSON blobs in the shared KV store.
// It also provides the per-session keyed mutex that guarantees concurrent
// turns for the same session are serialized.
package session
