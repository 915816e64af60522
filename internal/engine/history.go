// ABOUTME: Token-budget trimming for conversation history
// ABOUTME: Keeps the system prompt and the newest messages within budget

package engine

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/2389/marketmind/internal/session"
)

// perMessageOverhead approximates the framing tokens the chat format adds
// around each message.
const perMessageOverhead = 4

// Trimmer bounds conversation history by token count before it reaches
// the engine.
type Trimmer struct {
	encoding *tiktoken.Tiktoken
	budget   int
}

// NewTrimmer creates a trimmer for the given model's encoding. Unknown
// models fall back to cl100k_base. A budget of zero disables trimming.
func NewTrimmer(model string, budget int) (*Trimmer, error) {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	return &Trimmer{encoding: encoding, budget: budget}, nil
}

// Trim drops the oldest non-system messages until the history fits the
// budget. The system prompt and the newest message always survive.
func (t *Trimmer) Trim(messages []session.Message) []session.Message {
	if t.budget <= 0 || len(messages) == 0 {
		return messages
	}

	var system []session.Message
	rest := messages
	if messages[0].Role == session.RoleSystem {
		system = messages[:1]
		rest = messages[1:]
	}

	budget := t.budget
	for _, msg := range system {
		budget -= t.count(msg)
	}

	// Walk backward from the newest message, keeping what fits. The
	// newest message survives even when it alone exceeds the budget.
	keep := len(rest)
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := t.count(rest[i])
		if used+cost > budget && keep != len(rest) {
			break
		}
		used += cost
		keep = i
	}

	kept := rest[keep:]

	// A tool result without its originating assistant tool call confuses
	// the engine; drop orphaned leading tool messages.
	for len(kept) > 0 && kept[0].Role == session.RoleTool {
		kept = kept[1:]
	}

	if len(system) == 0 {
		return kept
	}
	out := make([]session.Message, 0, len(system)+len(kept))
	out = append(out, system...)
	out = append(out, kept...)
	return out
}

// count approximates the token cost of one message.
func (t *Trimmer) count(msg session.Message) int {
	n := perMessageOverhead + len(t.encoding.Encode(msg.Content, nil, nil))
	for _, call := range msg.ToolCalls {
		n += len(t.encoding.Encode(call.Name, nil, nil))
		n += len(t.encoding.Encode(string(call.Arguments), nil, nil))
	}
	return n
}
