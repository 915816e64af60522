// ABOUTME: HTTP transport for the remote tool server
// ABOUTME: Long-lived client connection, JSON request/response per call

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPTransport speaks JSON-over-HTTP to a remote tool server. The
// underlying http.Client keeps connections alive across calls.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the tool server at baseURL.
// Per-call deadlines come from the caller's context, so no client-level
// timeout is set here.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// callRequest is the wire format for POST /call.
type callRequest struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// callResponse is the tool server's reply.
type callResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Call invokes a tool on the remote server.
func (t *HTTPTransport) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(callRequest{Tool: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encoding tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tool server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tool response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server returned %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var cr callResponse
	if err := json.Unmarshal(respBody, &cr); err != nil {
		return nil, fmt.Errorf("decoding tool response: %w", err)
	}
	if cr.Error != "" {
		return nil, fmt.Errorf("tool %s failed: %s", name, cr.Error)
	}
	return cr.Result, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.httpClient.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
