// ABOUTME: Reasoning engine client interface and completion types
// ABOUTME: The engine is a black box: history plus tool catalog in, text or tool calls out

package engine

import (
	"context"

	"github.com/2389/marketmind/internal/session"
	"github.com/2389/marketmind/internal/tools"
)

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Completion is the engine's full response to one reasoning step: either
// free-form text, one or more requested tool calls, or both.
type Completion struct {
	Text      string
	ToolCalls []session.ToolCall
	Usage     Usage
}

// Event is one element of a streamed reasoning step. Content fragments
// arrive in order; exactly one final event carries the assembled
// Completion or an Err, after which the channel closes.
type Event struct {
	Content    string
	Completion *Completion
	Err        error
}

// Client is the interface to the reasoning engine.
type Client interface {
	// Generate submits the full message history and tool catalog and
	// returns the complete response.
	Generate(ctx context.Context, messages []session.Message, defs []tools.Definition) (*Completion, error)

	// Stream is Generate with incremental delivery: content fragments are
	// emitted as they become available, preserving order.
	Stream(ctx context.Context, messages []session.Message, defs []tools.Definition) (<-chan Event, error)
}
