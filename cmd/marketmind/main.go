// ABOUTME: Entry point for the marketmind conversation server
// ABOUTME: Wires config, store, engine, tools, and the HTTP surface together

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/marketmind/internal/auth"
	"github.com/2389/marketmind/internal/cache"
	"github.com/2389/marketmind/internal/config"
	"github.com/2389/marketmind/internal/engine"
	"github.com/2389/marketmind/internal/orchestrator"
	"github.com/2389/marketmind/internal/ratelimit"
	"github.com/2389/marketmind/internal/server"
	"github.com/2389/marketmind/internal/session"
	"github.com/2389/marketmind/internal/store"
	"github.com/2389/marketmind/internal/tools"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                      _        _            _           _
 _ __ ___   __ _ _ __| | _____| |_ _ __ ___ (_)_ __   __| |
| '_ ' _ \ / _' | '__| |/ / _ \ __| '_ ' _ \| | '_ \ / _' |
| | | | | | (_| | |  |   <  __/ |_| | | | | | | | | | (_| |
|_| |_| |_|\__,_|_|  |_|\_\___|\__|_| |_| |_|_|_| |_|\__,_|
`

// getConfigPath returns the path to the config file.
// Priority: MARKETMIND_CONFIG env var > XDG_CONFIG_HOME/marketmind/config.yaml > ~/.config/marketmind/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("MARKETMIND_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "marketmind.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "marketmind", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: marketmind <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                 Start the conversation server")
		fmt.Println("  health                Check server health")
		fmt.Println("  token --sub SUBJECT   Mint a client token")
		os.Exit(1)
	}

	// Local overrides for API keys and secrets; absence is fine
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Engine:    %s (%s)\n", cfg.Engine.BaseURL, cfg.Engine.Model)
	green.Print("    ▶ ")
	fmt.Printf("Tools:     %s\n", cfg.Tools.Transport)
	fmt.Println()

	logger.Info("starting marketmind",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"model", cfg.Engine.Model,
	)

	kv, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer kv.Close()

	transport, err := openTransport(cfg, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	registry := tools.MarketCatalog()
	resultCache := cache.New(kv, cfg.Cache.TTL, logger)
	gateway := tools.NewGateway(registry, transport, resultCache, cfg.Tools.CallTimeout, cfg.Tools.MaxConcurrent, logger)
	sessions := session.NewStore(kv, cfg.Sessions.TTL, logger)

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(kv, limiterPresets(cfg), cfg.RateLimit.Endpoints, cfg.RateLimit.FailOpen, logger)
	}

	trimmer, err := engine.NewTrimmer(cfg.Engine.Model, cfg.Engine.HistoryTokenBudget)
	if err != nil {
		return fmt.Errorf("initializing history trimmer: %w", err)
	}

	orch := orchestrator.New(orchestrator.Options{
		Engine: engine.NewOpenAIClient(engine.Config{
			BaseURL:     cfg.Engine.BaseURL,
			APIKey:      cfg.Engine.APIKey,
			Model:       cfg.Engine.Model,
			MaxTokens:   cfg.Engine.MaxTokens,
			Temperature: cfg.Engine.Temperature,
			Timeout:     cfg.Engine.Timeout,
		}),
		Gateway:      gateway,
		Sessions:     sessions,
		Registry:     registry,
		Trimmer:      trimmer,
		MaxRounds:    cfg.Engine.MaxRounds,
		SystemPrompt: cfg.Engine.SystemPrompt,
		Logger:       logger,
	})

	srv := server.New(server.Options{
		Orchestrator: orch,
		Limiter:      limiter,
		Verifier:     auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)),
		Cache:        resultCache,
		KV:           kv,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: srv,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// openStore picks SQLite when a path is configured, in-memory otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (store.KV, error) {
	if cfg.Database.Path == "" {
		logger.Warn("no database path configured, sessions will not survive restarts")
		return store.NewMemoryStore(), nil
	}
	kv, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return kv, nil
}

func openTransport(cfg *config.Config, logger *slog.Logger) (tools.Transport, error) {
	switch cfg.Tools.Transport {
	case "stdio":
		transport, err := tools.NewStdioTransport(cfg.Tools.Command, logger)
		if err != nil {
			return nil, fmt.Errorf("starting tool server: %w", err)
		}
		return transport, nil
	default:
		return tools.NewHTTPTransport(cfg.Tools.ServerURL), nil
	}
}

func limiterPresets(cfg *config.Config) map[string]ratelimit.Preset {
	presets := make(map[string]ratelimit.Preset, len(cfg.RateLimit.Presets))
	for name, p := range cfg.RateLimit.Presets {
		presets[name] = ratelimit.Preset{
			RequestsPerMinute: p.RequestsPerMinute,
			Burst:             p.Burst,
		}
	}
	return presets
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints a client JWT signed with the configured secret.
// Supports both "--sub value" and "--sub=value" formats.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			parsed, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
			i++
		case strings.HasPrefix(arg, "--ttl="):
			parsed, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = parsed
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
			out:   os.Stdout,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Open groups qualify attribute keys as "group.key".
type colorHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs); these were already
	// qualified with the groups open at the time they were attached
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs under the currently open groups
	prefix := h.groupPrefix()
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(h.out, buf.String())
	return nil
}

func (h *colorHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := h.groupPrefix()
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		newAttrs = append(newAttrs, a)
	}
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
