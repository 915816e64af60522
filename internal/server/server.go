// ABOUTME: HTTP API surface: query, stream, health, and service metadata
// ABOUTME: Wires identity resolution and admission control around the orchestrator

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/marketmind/internal/auth"
	"github.com/2389/marketmind/internal/cache"
	"github.com/2389/marketmind/internal/orchestrator"
	"github.com/2389/marketmind/internal/ratelimit"
	"github.com/2389/marketmind/internal/store"
)

const version = "0.3.0"

// Options bundles the server's collaborators.
type Options struct {
	Orchestrator *orchestrator.Orchestrator
	Limiter      *ratelimit.Limiter
	Verifier     auth.TokenVerifier
	Cache        *cache.Cache
	KV           store.KV
	Logger       *slog.Logger
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	orch    *orchestrator.Orchestrator
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	kv      store.KV
	logger  *slog.Logger
	router  chi.Router
}

// New builds the router: identity resolution on every request, admission
// control on the two conversation endpoints.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orch:    opts.Orchestrator,
		limiter: opts.Limiter,
		cache:   opts.Cache,
		kv:      opts.KV,
		logger:  logger.With("component", "server"),
	}

	r := chi.NewRouter()
	r.Use(s.requestLogger)
	r.Use(auth.Middleware(opts.Verifier, logger))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.With(s.admit("query")).Post("/query", s.handleQuery)
	r.With(s.admit("stream")).Post("/stream", s.handleStream)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs one line per completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed", time.Since(start))
	})
}

// queryRequest is the body for /query and /stream.
type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// errorResponse is the uniform error body. Kind is stable and machine
// readable; RetryAfter is set only for admission rejections.
type errorResponse struct {
	Kind       string  `json:"kind"`
	Error      string  `json:"error"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	result, err := s.orch.SubmitTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		s.writeTurnError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Kind: "internal", Error: "streaming unsupported"})
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for ev := range s.orch.StreamTurn(r.Context(), req.SessionID, req.Message) {
		switch ev.Kind {
		case orchestrator.EventSession:
			s.writeSSEEvent(w, "session", map[string]string{"session_id": ev.SessionID})
		case orchestrator.EventFragment:
			s.writeSSEEvent(w, "fragment", map[string]string{"text": ev.Content})
		case orchestrator.EventTool:
			s.writeSSEEvent(w, "tool", ev.Tool)
		case orchestrator.EventDone:
			s.writeSSEEvent(w, "done", ev.Result)
		case orchestrator.EventError:
			s.writeSSEEvent(w, "error", errorResponse{Kind: turnErrorKind(ev.Err), Error: ev.Err.Error()})
		}
		flusher.Flush()
	}
}

// healthResponse reports store reachability and cache counters.
type healthResponse struct {
	Status      string `json:"status"`
	Store       string `json:"store"`
	CacheHits   int64  `json:"cache_hits"`
	CacheMisses int64  `json:"cache_misses"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Store: "ok"}
	if s.cache != nil {
		resp.CacheHits, resp.CacheMisses = s.cache.Stats()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.kv.Get(ctx, "health:probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "marketmind",
		"version": version,
		"endpoints": []string{
			"POST /query",
			"POST /stream",
			"GET /health",
		},
	})
}

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Error: "malformed request body"})
		return req, false
	}
	if req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "bad_request", Error: "message is required"})
		return req, false
	}
	return req, true
}

func turnErrorKind(err error) string {
	if errors.Is(err, orchestrator.ErrNoAnswer) {
		return "no_answer"
	}
	return "engine_error"
}

func (s *Server) writeTurnError(w http.ResponseWriter, err error) {
	s.logger.Error("turn failed", "error", err)
	s.writeJSON(w, http.StatusBadGateway, errorResponse{Kind: turnErrorKind(err), Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
