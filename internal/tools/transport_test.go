// ABOUTME: Tests for the HTTP and stdio tool transports.
// ABOUTME: HTTP tests use httptest; stdio tests exercise frame correlation with cat.

package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/call", r.URL.Path)

		var req callRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "get_stock_price", req.Tool)

		json.NewEncoder(w).Encode(callResponse{Result: json.RawMessage(`{"price":190.5}`)})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	result, err := tr.Call(context.Background(), "get_stock_price", json.RawMessage(`{"symbol":"AAPL"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":190.5}`, string(result))
}

func TestHTTPTransport_ToolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(callResponse{Error: "symbol not found"})
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	_, err := tr.Call(context.Background(), "get_stock_price", json.RawMessage(`{"symbol":"ZZZZ"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol not found")
}

func TestHTTPTransport_UnknownTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	_, err := tr.Call(context.Background(), "no_such_tool", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestHTTPTransport_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	_, err := tr.Call(context.Background(), "get_stock_price", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPTransport_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := NewHTTPTransport(srv.URL)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tr.Call(ctx, "get_stock_price", nil)
	assert.Error(t, err)
}

// cat echoes request frames verbatim; an echoed frame decodes as a reply
// with the same id, which exercises write framing and reply correlation.
func TestStdioTransport_FrameCorrelation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires cat")
	}

	tr, err := NewStdioTransport([]string{"cat"}, nil)
	require.NoError(t, err)
	defer tr.Close()

	result, err := tr.Call(context.Background(), "get_stock_price", json.RawMessage(`{"symbol":"AAPL"}`))
	require.NoError(t, err)
	assert.Nil(t, result) // echoed request has no "result" field
}

func TestStdioTransport_ContextTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sleep")
	}

	// A subprocess that never replies
	tr, err := NewStdioTransport([]string{"sleep", "10"}, nil)
	require.NoError(t, err)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = tr.Call(ctx, "get_stock_price", nil)
	assert.Error(t, err)
}

func TestStdioTransport_MissingCommand(t *testing.T) {
	_, err := NewStdioTransport(nil, nil)
	assert.Error(t, err)
}
