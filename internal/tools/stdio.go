// ABOUTME: Stdio transport speaking newline-delimited JSON with a spawned tool server
// ABOUTME: Requests carry ids so replies can arrive out of order

package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/google/uuid"
)

// stdioRequest is one request frame written to the subprocess.
type stdioRequest struct {
	ID        string          `json:"id"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// stdioResponse is one reply frame read from the subprocess.
type stdioResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// StdioTransport runs the tool server as a locally spawned subprocess and
// exchanges newline-delimited JSON frames over its stdin/stdout pipes.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan stdioResponse
	closed  bool
}

// NewStdioTransport spawns argv and starts the reply reader. The subprocess
// lives for the transport's lifetime.
func NewStdioTransport(argv []string, logger *slog.Logger) (*StdioTransport, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("stdio transport requires a command")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting tool server %q: %w", argv[0], err)
	}

	t := &StdioTransport{
		cmd:     cmd,
		stdin:   stdin,
		logger:  logger.With("component", "tools.stdio"),
		pending: make(map[string]chan stdioResponse),
	}

	go t.readLoop(stdout)

	t.logger.Info("tool server spawned", "command", argv[0], "pid", cmd.Process.Pid)
	return t, nil
}

// Call writes one request frame and waits for the matching reply or the
// context deadline.
func (t *StdioTransport) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	id := uuid.New().String()
	reply := make(chan stdioResponse, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("stdio transport closed")
	}
	t.pending[id] = reply
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	frame, err := json.Marshal(stdioRequest{ID: id, Tool: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encoding tool request: %w", err)
	}
	frame = append(frame, '\n')

	t.writeMu.Lock()
	_, err = t.stdin.Write(frame)
	t.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("writing to tool server: %w", err)
	}

	select {
	case resp := <-reply:
		if resp.Error != "" {
			return nil, fmt.Errorf("tool %s failed: %s", name, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for tool server: %w", ctx.Err())
	}
}

// readLoop dispatches reply frames to their waiting callers. It exits when
// the subprocess closes stdout.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp stdioResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			t.logger.Warn("discarding malformed frame from tool server", "error", err)
			continue
		}

		t.mu.Lock()
		reply, ok := t.pending[resp.ID]
		t.mu.Unlock()
		if !ok {
			// Reply for a call that already timed out
			t.logger.Debug("dropping reply for abandoned call", "id", resp.ID)
			continue
		}
		reply <- resp
	}

	if err := scanner.Err(); err != nil {
		t.logger.Warn("tool server stdout closed with error", "error", err)
	}
}

// Close terminates the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.stdin.Close()
	if t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}
