// ABOUTME: Tool invocation gateway: cache-aside dispatch of tool calls
// ABOUTME: Batch calls fan out concurrently; failures are isolated per call

package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/marketmind/internal/cache"
	"github.com/2389/marketmind/internal/session"
)

// Source records where a tool result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
)

// Result is the outcome of one tool invocation. A failed call carries Err
// and an empty payload; the orchestrator relays it as a degraded tool
// message rather than aborting the turn.
type Result struct {
	CallID  string
	Name    string
	Payload json.RawMessage
	Err     string
	Source  Source
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == ""
}

// Content renders the result as tool-message content for the reasoning
// engine: the raw payload on success, a structured error object on failure.
func (r Result) Content() string {
	if r.OK() {
		return string(r.Payload)
	}
	out, _ := json.Marshal(map[string]string{"error": r.Err, "tool": r.Name})
	return string(out)
}

// Gateway resolves tool calls to a cache hit or a live transport dispatch.
type Gateway struct {
	registry      *Registry
	transport     Transport
	cache         *cache.Cache
	callTimeout   time.Duration
	maxConcurrent int
	logger        *slog.Logger
}

// NewGateway wires the registry, transport, and result cache together.
func NewGateway(registry *Registry, transport Transport, resultCache *cache.Cache, callTimeout time.Duration, maxConcurrent int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Gateway{
		registry:      registry,
		transport:     transport,
		cache:         resultCache,
		callTimeout:   callTimeout,
		maxConcurrent: maxConcurrent,
		logger:        logger.With("component", "gateway"),
	}
}

// Invoke executes a single tool call through the cache-aside path.
func (g *Gateway) Invoke(ctx context.Context, call session.ToolCall) Result {
	if _, ok := g.registry.Get(call.Name); !ok {
		g.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return Result{CallID: call.ID, Name: call.Name, Err: "unknown tool: " + call.Name, Source: SourceLive}
	}

	fingerprint := cache.Fingerprint(call.Name, call.Arguments)

	if payload, ok := g.cache.Get(ctx, fingerprint); ok {
		return Result{CallID: call.ID, Name: call.Name, Payload: payload, Source: SourceCache}
	}

	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
	}

	start := time.Now()
	payload, err := g.transport.Call(callCtx, call.Name, call.Arguments)
	if err != nil {
		// Failures are never cached
		g.logger.Warn("tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"elapsed", time.Since(start),
			"error", err)
		return Result{CallID: call.ID, Name: call.Name, Err: err.Error(), Source: SourceLive}
	}

	g.logger.Debug("tool call succeeded",
		"tool", call.Name,
		"call_id", call.ID,
		"elapsed", time.Since(start))

	g.cache.Put(ctx, fingerprint, payload)
	return Result{CallID: call.ID, Name: call.Name, Payload: payload, Source: SourceLive}
}

// InvokeBatch executes independent calls concurrently and reassembles the
// results in the calls' original order. One failed call never fails its
// siblings; every slot in the returned slice is populated.
func (g *Gateway) InvokeBatch(ctx context.Context, calls []session.ToolCall) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(g.maxConcurrent)

	for i, call := range calls {
		i, call := i, call
		grp.Go(func() error {
			results[i] = g.Invoke(grpCtx, call)
			return nil
		})
	}

	// Goroutines only record results, they never return errors
	_ = grp.Wait()
	return results
}
