// ABOUTME: Package tools routes reasoning-engine tool calls to the tool server.
// ABOUTME: Cache-aside gateway over interchangeable HTTP and stdio transports.

// Package tools holds the tool catalog, the transport abstraction over the
// external tool server, and the invocation gateway that checks the result
// cache before dispatching a live call.
package tools
