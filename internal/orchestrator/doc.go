// ABOUTME: Package documentation for the conversation orchestrator
// ABOUTME: Describes the turn loop, round limit, and streaming surface

// Package orchestrator drives one conversation turn at a time: it loads
// the session, submits the history to the reasoning engine, dispatches any
// requested tool calls through the gateway as a batch, and loops until the
// engine produces a final answer or the round limit is reached.
//
// Turns on the same session are serialized with a per-session lock; turns
// on different sessions run independently. The session is persisted only
// when a turn completes, so an aborted or cancelled turn leaves the stored
// history untouched.
package orchestrator
