// ABOUTME: Package documentation for the reasoning engine client
// ABOUTME: Describes the Client interface and OpenAI-compatible implementation

// Package engine talks to the reasoning engine behind the orchestrator.
//
// The Client interface covers both batch generation and streaming; the
// OpenAIClient implementation works against any OpenAI-compatible chat
// completions endpoint. Trimmer bounds history by token count before a
// request goes out.
package engine
