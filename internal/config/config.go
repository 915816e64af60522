// ABOUTME: Configuration loading and parsing for marketmind
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete marketmind configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Engine    EngineConfig    `yaml:"engine"`
	Tools     ToolsConfig     `yaml:"tools"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the SQLite database configuration.
// If Path is empty the server runs on an in-memory store: nothing survives
// a restart, and cache/rate-limit state is process-local.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds client-identity token configuration.
// When JWTSecret is empty, clients are identified by remote address only.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// EngineConfig holds reasoning engine (LLM) configuration
type EngineConfig struct {
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float32 `yaml:"temperature"`
	MaxRounds          int     `yaml:"max_rounds"`
	HistoryTokenBudget int     `yaml:"history_token_budget"`
	SystemPrompt       string  `yaml:"system_prompt"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// ToolsConfig holds tool transport configuration.
// Transport selects how tool calls reach the tool server: "http" keeps a
// long-lived connection to a remote server, "stdio" spawns Command and
// speaks newline-delimited JSON over its pipes.
type ToolsConfig struct {
	Transport string   `yaml:"transport"`
	ServerURL string   `yaml:"server_url"`
	Command   []string `yaml:"command"`

	CallTimeout    time.Duration `yaml:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout"`

	MaxConcurrent int `yaml:"max_concurrent"`
}

// CacheConfig holds result cache configuration.
// TTL is a cache property, not a tool property: every tool result expires
// after the same centrally configured window.
type CacheConfig struct {
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// RateLimitConfig holds admission control configuration.
// Presets are named bucket shapes; Endpoints maps an endpoint name to the
// preset that governs it. FailOpen controls behavior when the backing store
// is unavailable: true admits (with a logged degradation), false rejects.
type RateLimitConfig struct {
	Enabled   bool              `yaml:"enabled"`
	FailOpen  bool              `yaml:"fail_open"`
	Presets   map[string]Preset `yaml:"presets"`
	Endpoints map[string]string `yaml:"endpoints"`
}

// Preset defines a token bucket shape. The steady refill rate is
// RequestsPerMinute/60 tokens per second; capacity is RequestsPerMinute+Burst.
type Preset struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// SessionsConfig holds session persistence configuration
type SessionsConfig struct {
	TTL    time.Duration `yaml:"-"`
	TTLRaw string        `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default rate limit presets, used when the config file does not define any.
// "standard" governs the synchronous query endpoint, "streaming" the SSE
// endpoint, "generous" is available for trusted clients.
var defaultPresets = map[string]Preset{
	"standard":  {RequestsPerMinute: 10, Burst: 5},
	"streaming": {RequestsPerMinute: 5, Burst: 2},
	"generous":  {RequestsPerMinute: 30, Burst: 10},
}

var defaultEndpoints = map[string]string{
	"query":  "standard",
	"stream": "streaming",
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the config file may omit
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Engine.Model == "" {
		c.Engine.Model = "gpt-4o-mini"
	}
	if c.Engine.MaxTokens == 0 {
		c.Engine.MaxTokens = 2048
	}
	if c.Engine.MaxRounds == 0 {
		c.Engine.MaxRounds = 5
	}
	if c.Engine.HistoryTokenBudget == 0 {
		c.Engine.HistoryTokenBudget = 8192
	}
	if c.Engine.TimeoutRaw == "" {
		c.Engine.TimeoutRaw = "60s"
	}
	if c.Tools.Transport == "" {
		c.Tools.Transport = "http"
	}
	if c.Tools.MaxConcurrent == 0 {
		c.Tools.MaxConcurrent = 4
	}
	if c.Tools.CallTimeoutRaw == "" {
		c.Tools.CallTimeoutRaw = "20s"
	}
	if c.Cache.TTLRaw == "" {
		c.Cache.TTLRaw = "5m"
	}
	if c.Sessions.TTLRaw == "" {
		c.Sessions.TTLRaw = "24h"
	}
	if len(c.RateLimit.Presets) == 0 {
		c.RateLimit.Presets = defaultPresets
	}
	if len(c.RateLimit.Endpoints) == 0 {
		c.RateLimit.Endpoints = defaultEndpoints
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}

	switch c.Tools.Transport {
	case "http":
		if c.Tools.ServerURL == "" {
			return fmt.Errorf("tools.server_url is required for http transport")
		}
	case "stdio":
		if len(c.Tools.Command) == 0 {
			return fmt.Errorf("tools.command is required for stdio transport")
		}
	default:
		return fmt.Errorf("tools.transport must be \"http\" or \"stdio\", got %q", c.Tools.Transport)
	}

	for endpoint, presetName := range c.RateLimit.Endpoints {
		if _, ok := c.RateLimit.Presets[presetName]; !ok {
			return fmt.Errorf("rate_limit.endpoints: endpoint %q references unknown preset %q", endpoint, presetName)
		}
	}

	for name, p := range c.RateLimit.Presets {
		if p.RequestsPerMinute < 0 || p.Burst < 0 {
			return fmt.Errorf("rate_limit.presets.%s: negative values are not allowed", name)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	parse := func(raw, field string, dst *time.Duration) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", field, raw, err)
		}
		*dst = d
		return nil
	}

	if err := parse(cfg.Cache.TTLRaw, "cache.ttl", &cfg.Cache.TTL); err != nil {
		return err
	}
	if err := parse(cfg.Sessions.TTLRaw, "sessions.ttl", &cfg.Sessions.TTL); err != nil {
		return err
	}
	if err := parse(cfg.Engine.TimeoutRaw, "engine.timeout", &cfg.Engine.Timeout); err != nil {
		return err
	}
	if err := parse(cfg.Tools.CallTimeoutRaw, "tools.call_timeout", &cfg.Tools.CallTimeout); err != nil {
		return err
	}

	return nil
}
