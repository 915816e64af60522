// ABOUTME: Package documentation for the HTTP API layer
// ABOUTME: Describes routes, middleware ordering, and the SSE stream shape

// Package server exposes the conversation surface over HTTP.
//
// POST /query runs a full turn and returns the answer as JSON; POST
// /stream runs the same turn over server-sent events (session, fragment,
// tool, done, error). Every request passes identity resolution; the two
// conversation endpoints additionally pass admission control, keyed by
// the resolved identity and the endpoint name.
package server
