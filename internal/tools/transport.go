// ABOUTME: Transport abstraction over how tool calls reach the tool server
// ABOUTME: HTTP and stdio subprocess modes are interchangeable by configuration

package tools

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrToolNotFound is returned when the transport's server does not know
// the requested tool.
var ErrToolNotFound = errors.New("tool not found")

// Transport delivers a named tool call to the external tool server and
// returns its structured result. The concrete wire (long-lived network
// connection or a spawned subprocess pipe) is invisible to callers.
type Transport interface {
	// Call invokes a tool by name. The returned payload is the tool's raw
	// JSON result. Errors are transport or tool failures; they are never
	// cached by the gateway.
	Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

	// Close releases the underlying connection or subprocess.
	Close() error
}
