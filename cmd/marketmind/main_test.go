// ABOUTME: Tests for the text log handler
// ABOUTME: Covers level filtering and group-qualified attribute keys

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func newTestLogger(level slog.Level) (*slog.Logger, *bytes.Buffer) {
	color.NoColor = true
	var buf bytes.Buffer
	return slog.New(&colorHandler{level: level, out: &buf}), &buf
}

func TestColorHandlerLevelFilter(t *testing.T) {
	logger, buf := newTestLogger(slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestColorHandlerAttrs(t *testing.T) {
	logger, buf := newTestLogger(slog.LevelDebug)

	logger.With("component", "gateway").Info("tool call", "tool", "get_stock_price")

	out := buf.String()
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "tool=get_stock_price")
}

func TestColorHandlerGroupsQualifyKeys(t *testing.T) {
	logger, buf := newTestLogger(slog.LevelDebug)

	logger.WithGroup("request").Info("handled", "path", "/query")
	logger.WithGroup("request").With("id", "abc").Info("done")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Contains(t, lines[0], "request.path=/query")
	assert.Contains(t, lines[1], "request.id=abc")
}
