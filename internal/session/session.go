// ABOUTME: Session and message model for multi-turn conversations
// ABOUTME: Messages are append-only; a session is the durable unit of history

package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool invocation requested by the reasoning engine.
// The ID is unique within one orchestration turn and links the call to
// its result message.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single entry in a session's history. Messages are immutable
// once appended; ordering within a session is append-only and total.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-role messages
	ToolName   string     `json:"tool_name,omitempty"`    // set on tool-role messages
	CreatedAt  time.Time  `json:"created_at"`
}

// Session is an ordered conversation history addressed by an opaque id.
type Session struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session with a generated identifier.
func New() *Session {
	return &Session{
		ID:        uuid.New().String(),
		UpdatedAt: time.Now(),
	}
}

// Append adds a message to the session and bumps the activity timestamp.
func (s *Session) Append(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = msg.CreatedAt
}

// UserMessage builds a user-role message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, CreatedAt: time.Now()}
}

// AssistantMessage builds an assistant-role message, optionally carrying
// requested tool calls.
func AssistantMessage(text string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls, CreatedAt: time.Now()}
}

// ToolMessage builds a tool-role message carrying one tool result payload.
func ToolMessage(callID, toolName, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		ToolName:   toolName,
		CreatedAt:  time.Now(),
	}
}
