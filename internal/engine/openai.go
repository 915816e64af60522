// ABOUTME: OpenAI-compatible chat completions client for the reasoning engine
// ABOUTME: Handles request formatting, tool call mapping, and SSE stream assembly

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/marketmind/internal/session"
	"github.com/2389/marketmind/internal/tools"
)

// Config holds reasoning engine connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAIClient implements Client against any OpenAI-compatible chat
// completions API (Groq, OpenAI, local inference servers).
type OpenAIClient struct {
	config     Config
	httpClient *http.Client
}

// NewOpenAIClient creates a client for the configured endpoint.
func NewOpenAIClient(config Config) *OpenAIClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// chatRequest is the chat completions request body.
type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []requestMessage `json:"messages"`
	Tools       []requestTool    `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float32         `json:"temperature,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// requestMessage is the wire message format.
type requestMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// wireToolCall is the OpenAI tool call shape; arguments travel as a JSON
// string, not an object.
type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type requestTool struct {
	Type     string           `json:"type"`
	Function requestToolInner `json:"function"`
}

type requestToolInner struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// chatResponse is the non-streaming response body.
type chatResponse struct {
	Choices []choice      `json:"choices"`
	Usage   responseUsage `json:"usage"`
}

type choice struct {
	Message responseMessage `json:"message"`
}

type responseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type responseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// streamChunk is one SSE data payload in a streaming response.
type streamChunk struct {
	Choices []streamChoice `json:"choices"`
	Usage   *responseUsage `json:"usage,omitempty"`
}

type streamChoice struct {
	Delta        streamDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type streamDelta struct {
	Content   string               `json:"content"`
	ToolCalls []streamToolCallPart `json:"tool_calls,omitempty"`
}

// streamToolCallPart is a tool call fragment; the id and name arrive on the
// first part for an index, argument text accumulates across parts.
type streamToolCallPart struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

// Generate submits the history and returns the complete response.
func (c *OpenAIClient) Generate(ctx context.Context, messages []session.Message, defs []tools.Definition) (*Completion, error) {
	body, err := json.Marshal(c.buildRequest(messages, defs, false))
	if err != nil {
		return nil, fmt.Errorf("encoding engine request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading engine response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var cr chatResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("decoding engine response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("engine returned no choices")
	}

	msg := cr.Choices[0].Message
	return &Completion{
		Text:      msg.Content,
		ToolCalls: fromWireCalls(msg.ToolCalls),
		Usage: Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
			TotalTokens:  cr.Usage.TotalTokens,
		},
	}, nil
}

// Stream submits the history and emits content fragments as they arrive.
// The final event carries the assembled Completion.
func (c *OpenAIClient) Stream(ctx context.Context, messages []session.Message, defs []tools.Definition) (<-chan Event, error) {
	body, err := json.Marshal(c.buildRequest(messages, defs, true))
	if err != nil {
		return nil, fmt.Errorf("encoding engine request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("engine returned %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	events := make(chan Event, 16)
	go c.readStream(ctx, resp.Body, events)
	return events, nil
}

// send delivers one event unless the context is cancelled. A consumer that
// walks away mid-stream cancels its context, so a blocked send must not pin
// this goroutine and its response body forever.
func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// readStream parses SSE lines, forwarding content deltas and assembling
// tool call fragments into complete calls.
func (c *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer close(events)
	defer body.Close()

	var text strings.Builder
	var usage Usage
	partial := make(map[int]*wireToolCall)
	maxIndex := -1

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(ctx, events, Event{Err: fmt.Errorf("decoding stream chunk: %w", err)})
			return
		}

		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			if !send(ctx, events, Event{Content: delta.Content}) {
				return
			}
		}

		for _, part := range delta.ToolCalls {
			call, ok := partial[part.Index]
			if !ok {
				call = &wireToolCall{Type: "function"}
				partial[part.Index] = call
				if part.Index > maxIndex {
					maxIndex = part.Index
				}
			}
			if part.ID != "" {
				call.ID = part.ID
			}
			if part.Function.Name != "" {
				call.Function.Name = part.Function.Name
			}
			call.Function.Arguments += part.Function.Arguments
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, events, Event{Err: fmt.Errorf("reading engine stream: %w", err)})
		return
	}

	assembled := make([]wireToolCall, 0, len(partial))
	for i := 0; i <= maxIndex; i++ {
		if call, ok := partial[i]; ok {
			assembled = append(assembled, *call)
		}
	}

	send(ctx, events, Event{Completion: &Completion{
		Text:      text.String(),
		ToolCalls: fromWireCalls(assembled),
		Usage:     usage,
	}})
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling engine: %w", err)
	}
	return resp, nil
}

func (c *OpenAIClient) buildRequest(messages []session.Message, defs []tools.Definition, stream bool) chatRequest {
	reqMessages := make([]requestMessage, 0, len(messages))
	for _, msg := range messages {
		rm := requestMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolCalls:  toWireCalls(msg.ToolCalls),
		}
		reqMessages = append(reqMessages, rm)
	}

	reqTools := make([]requestTool, 0, len(defs))
	for _, def := range defs {
		reqTools = append(reqTools, requestTool{
			Type: "function",
			Function: requestToolInner{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}

	var temp *float32
	if c.config.Temperature != 0 {
		t := c.config.Temperature
		temp = &t
	}

	return chatRequest{
		Model:       c.config.Model,
		Messages:    reqMessages,
		Tools:       reqTools,
		MaxTokens:   c.config.MaxTokens,
		Temperature: temp,
		Stream:      stream,
	}
}

// toWireCalls converts session tool calls (arguments as raw JSON) to the
// wire shape (arguments as a JSON string).
func toWireCalls(calls []session.ToolCall) []wireToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]wireToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, wireToolCall{
			ID:   call.ID,
			Type: "function",
			Function: wireFunction{
				Name:      call.Name,
				Arguments: string(call.Arguments),
			},
		})
	}
	return out
}

// fromWireCalls converts wire tool calls back to session tool calls.
func fromWireCalls(calls []wireToolCall) []session.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCall, 0, len(calls))
	for _, call := range calls {
		args := call.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out = append(out, session.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
