// ABOUTME: Tests for the orchestrator turn loop and streaming surface
// ABOUTME: Uses a scripted engine and transport over the in-memory store

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketmind/internal/cache"
	"github.com/2389/marketmind/internal/engine"
	"github.com/2389/marketmind/internal/session"
	"github.com/2389/marketmind/internal/store"
	"github.com/2389/marketmind/internal/tools"
)

// scriptedEngine replays a fixed sequence of completions. When the script
// runs out it keeps returning the last entry.
type scriptedEngine struct {
	mu         sync.Mutex
	script     []*engine.Completion
	calls      int
	err        error
	onGenerate func()
	histories  [][]session.Message
}

func (e *scriptedEngine) next(messages []session.Message) (*engine.Completion, error) {
	e.mu.Lock()
	e.histories = append(e.histories, messages)
	i := e.calls
	e.calls++
	hook := e.onGenerate
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	if e.err != nil {
		return nil, e.err
	}
	if i >= len(e.script) {
		i = len(e.script) - 1
	}
	return e.script[i], nil
}

func (e *scriptedEngine) Generate(ctx context.Context, messages []session.Message, defs []tools.Definition) (*engine.Completion, error) {
	return e.next(messages)
}

func (e *scriptedEngine) Stream(ctx context.Context, messages []session.Message, defs []tools.Definition) (<-chan engine.Event, error) {
	completion, err := e.next(messages)
	if err != nil {
		return nil, err
	}
	events := make(chan engine.Event, 16)
	go func() {
		defer close(events)
		for _, word := range strings.SplitAfter(completion.Text, " ") {
			if word != "" {
				events <- engine.Event{Content: word}
			}
		}
		events <- engine.Event{Completion: completion}
	}()
	return events, nil
}

// scriptedTransport answers every call with a fixed payload per tool.
type scriptedTransport struct {
	mu        sync.Mutex
	responses map[string]string
	calls     int
}

func (t *scriptedTransport) Call(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	resp, ok := t.responses[name]
	if !ok {
		return nil, fmt.Errorf("no scripted response for %s", name)
	}
	return json.RawMessage(resp), nil
}

func (t *scriptedTransport) Close() error { return nil }

func priceCall(id, symbol string) session.ToolCall {
	return session.ToolCall{
		ID:        id,
		Name:      "get_stock_price",
		Arguments: json.RawMessage(`{"symbol":"` + symbol + `"}`),
	}
}

type fixture struct {
	orch      *Orchestrator
	sessions  *session.Store
	transport *scriptedTransport
	cache     *cache.Cache
}

func newFixture(t *testing.T, eng engine.Client) *fixture {
	t.Helper()
	kv := store.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })

	resultCache := cache.New(kv, time.Minute, nil)
	transport := &scriptedTransport{responses: map[string]string{
		"get_stock_price": `{"symbol":"AAPL","price":187.32}`,
		"get_market_news": `{"articles":[]}`,
	}}
	registry := tools.MarketCatalog()
	gateway := tools.NewGateway(registry, transport, resultCache, time.Second, 4, nil)
	sessions := session.NewStore(kv, 0, nil)

	orch := New(Options{
		Engine:       eng,
		Gateway:      gateway,
		Sessions:     sessions,
		Registry:     registry,
		MaxRounds:    5,
		SystemPrompt: "You are a market analyst.",
	})
	return &fixture{orch: orch, sessions: sessions, transport: transport, cache: resultCache}
}

func TestSubmitTurnDirectAnswer(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{Text: "Markets are mixed today."},
	}}
	f := newFixture(t, eng)

	result, err := f.orch.SubmitTurn(context.Background(), "", "how are markets?")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "Markets are mixed today.", result.Answer)
	assert.Empty(t, result.ToolsUsed)

	sess, err := f.sessions.Load(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)

	// The engine sees the system prompt but it is never persisted.
	require.Len(t, eng.histories, 1)
	assert.Equal(t, session.RoleSystem, eng.histories[0][0].Role)
}

func TestSubmitTurnWithToolRound(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL")}},
		{Text: "AAPL is at $187.32."},
	}}
	f := newFixture(t, eng)

	result, err := f.orch.SubmitTurn(context.Background(), "", "price of AAPL?")
	require.NoError(t, err)
	assert.Equal(t, "AAPL is at $187.32.", result.Answer)
	assert.Equal(t, []string{"get_stock_price"}, result.ToolsUsed)

	sess, err := f.sessions.Load(context.Background(), result.SessionID)
	require.NoError(t, err)
	require.Len(t, sess.Messages, 4)
	assert.Equal(t, session.RoleUser, sess.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, sess.Messages[1].Role)
	assert.Equal(t, session.RoleTool, sess.Messages[2].Role)
	assert.Equal(t, "call_1", sess.Messages[2].ToolCallID)
	assert.Equal(t, session.RoleAssistant, sess.Messages[3].Role)

	// The second reasoning pass must see the tool result.
	require.Len(t, eng.histories, 2)
	second := eng.histories[1]
	assert.Equal(t, session.RoleTool, second[len(second)-1].Role)
	assert.Contains(t, second[len(second)-1].Content, "187.32")
}

func TestSubmitTurnRepeatedToolHitsCache(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL")}},
		{Text: "AAPL is at $187.32."},
		{ToolCalls: []session.ToolCall{priceCall("call_2", "AAPL")}},
		{Text: "Still $187.32."},
	}}
	f := newFixture(t, eng)

	first, err := f.orch.SubmitTurn(context.Background(), "", "price of AAPL?")
	require.NoError(t, err)
	second, err := f.orch.SubmitTurn(context.Background(), first.SessionID, "and now?")
	require.NoError(t, err)

	assert.Equal(t, []string{"get_stock_price"}, first.ToolsUsed)
	assert.Equal(t, []string{"get_stock_price"}, second.ToolsUsed)
	// One live transport call; the second turn was served from cache.
	assert.Equal(t, 1, f.transport.calls)
	hits, _ := f.cache.Stats()
	assert.Equal(t, int64(1), hits)
}

func TestSubmitTurnDistinctToolNames(t *testing.T) {
	newsCall := session.ToolCall{ID: "call_2", Name: "get_market_news", Arguments: json.RawMessage(`{"query":"tech"}`)}
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL"), newsCall}},
		{ToolCalls: []session.ToolCall{priceCall("call_3", "AAPL")}},
		{Text: "Summary."},
	}}
	f := newFixture(t, eng)

	result, err := f.orch.SubmitTurn(context.Background(), "", "AAPL with news?")
	require.NoError(t, err)
	assert.Equal(t, []string{"get_stock_price", "get_market_news"}, result.ToolsUsed)
}

func TestSubmitTurnToolFailureDegrades(t *testing.T) {
	badCall := session.ToolCall{ID: "call_1", Name: "get_stock_history", Arguments: json.RawMessage(`{"symbol":"AAPL"}`)}
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{badCall}},
		{Text: "History is unavailable right now."},
	}}
	f := newFixture(t, eng) // transport has no response for get_stock_history

	result, err := f.orch.SubmitTurn(context.Background(), "", "AAPL history?")
	require.NoError(t, err)
	assert.Equal(t, "History is unavailable right now.", result.Answer)

	// The degraded tool message reaches the next reasoning pass.
	second := eng.histories[1]
	assert.Contains(t, second[len(second)-1].Content, "error")
}

func TestSubmitTurnRoundLimitNoAnswer(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL")}},
	}}
	f := newFixture(t, eng)

	_, err := f.orch.SubmitTurn(context.Background(), "", "loop forever")
	require.ErrorIs(t, err, ErrNoAnswer)
	assert.Equal(t, 5, eng.calls)
}

func TestSubmitTurnRoundLimitPartialAnswer(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{Text: "Checking prices now.", ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL")}},
	}}
	f := newFixture(t, eng)

	result, err := f.orch.SubmitTurn(context.Background(), "", "loop forever")
	require.NoError(t, err)
	assert.Equal(t, "Checking prices now.", result.Answer)
	assert.Equal(t, 5, eng.calls)
}

func TestSubmitTurnEngineError(t *testing.T) {
	eng := &scriptedEngine{err: fmt.Errorf("backend down")}
	f := newFixture(t, eng)

	_, err := f.orch.SubmitTurn(context.Background(), "", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning engine")
}

func TestSameSessionTurnsSerialize(t *testing.T) {
	var inFlight, maxInFlight int
	var mu sync.Mutex
	eng := &scriptedEngine{
		script: []*engine.Completion{{Text: "ok"}},
		onGenerate: func() {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		},
	}
	f := newFixture(t, eng)

	seed, err := f.orch.SubmitTurn(context.Background(), "", "seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.SubmitTurn(context.Background(), seed.SessionID, "more")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "turns on one session must not overlap")

	sess, err := f.sessions.Load(context.Background(), seed.SessionID)
	require.NoError(t, err)
	// Seed turn plus four serialized turns, two messages each.
	assert.Len(t, sess.Messages, 10)
}

func TestDistinctSessionsRunIndependently(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{{Text: "ok"}}}
	f := newFixture(t, eng)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.orch.SubmitTurn(context.Background(), "", "hello")
			require.NoError(t, err)
			ids[i] = result.SessionID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true

		sess, err := f.sessions.Load(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, sess.Messages, 2)
	}
}

func TestStreamTurnEventOrder(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{Text: "The market is up."},
	}}
	f := newFixture(t, eng)

	var kinds []EventKind
	var fragments strings.Builder
	var result *TurnResult
	for ev := range f.orch.StreamTurn(context.Background(), "", "market?") {
		kinds = append(kinds, ev.Kind)
		switch ev.Kind {
		case EventFragment:
			fragments.WriteString(ev.Content)
		case EventDone:
			result = ev.Result
		case EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	require.NotEmpty(t, kinds)
	assert.Equal(t, EventSession, kinds[0])
	assert.Equal(t, EventDone, kinds[len(kinds)-1])
	for _, k := range kinds[1 : len(kinds)-1] {
		assert.Equal(t, EventFragment, k)
	}
	assert.Equal(t, "The market is up.", fragments.String())
	require.NotNil(t, result)
	assert.Equal(t, "The market is up.", result.Answer)
}

func TestStreamTurnWithTools(t *testing.T) {
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{priceCall("call_1", "AAPL")}},
		{Text: "AAPL is at $187.32."},
	}}
	f := newFixture(t, eng)

	var result *TurnResult
	var toolUpdates []*ToolUpdate
	for ev := range f.orch.StreamTurn(context.Background(), "", "AAPL?") {
		switch ev.Kind {
		case EventTool:
			toolUpdates = append(toolUpdates, ev.Tool)
		case EventDone:
			result = ev.Result
		}
		require.NotEqual(t, EventError, ev.Kind)
	}

	require.NotNil(t, result)
	assert.Equal(t, []string{"get_stock_price"}, result.ToolsUsed)

	// Each dispatched call surfaces as one tool event with its outcome.
	require.Len(t, toolUpdates, 1)
	assert.Equal(t, "get_stock_price", toolUpdates[0].Name)
	assert.Equal(t, "live", toolUpdates[0].Source)
	assert.True(t, toolUpdates[0].OK)

	sess, err := f.sessions.Load(context.Background(), result.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)
}

func TestStreamTurnToolFailureUpdate(t *testing.T) {
	badCall := session.ToolCall{ID: "call_1", Name: "get_stock_history", Arguments: json.RawMessage(`{"symbol":"AAPL"}`)}
	eng := &scriptedEngine{script: []*engine.Completion{
		{ToolCalls: []session.ToolCall{badCall}},
		{Text: "History is unavailable right now."},
	}}
	f := newFixture(t, eng) // transport has no response for get_stock_history

	var toolUpdates []*ToolUpdate
	var sawDone bool
	for ev := range f.orch.StreamTurn(context.Background(), "", "AAPL history?") {
		switch ev.Kind {
		case EventTool:
			toolUpdates = append(toolUpdates, ev.Tool)
		case EventDone:
			sawDone = true
		}
	}

	assert.True(t, sawDone)
	require.Len(t, toolUpdates, 1)
	assert.Equal(t, "get_stock_history", toolUpdates[0].Name)
	assert.False(t, toolUpdates[0].OK)
}

func TestStreamTurnEngineErrorEndsStream(t *testing.T) {
	eng := &scriptedEngine{err: fmt.Errorf("backend down")}
	f := newFixture(t, eng)

	var last StreamEvent
	for ev := range f.orch.StreamTurn(context.Background(), "", "hello") {
		last = ev
	}
	assert.Equal(t, EventError, last.Kind)
	require.Error(t, last.Err)
}

func TestStreamTurnCancelledNotPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &scriptedEngine{script: []*engine.Completion{{Text: "ok"}}}
	f := newFixture(t, eng)

	seed, err := f.orch.SubmitTurn(context.Background(), "", "seed")
	require.NoError(t, err)

	eng.onGenerate = func() { cancel(); time.Sleep(10 * time.Millisecond) }

	before, err := f.sessions.Load(context.Background(), seed.SessionID)
	require.NoError(t, err)
	beforeLen := len(before.Messages)

	// Drain the stream; whatever happens, a cancelled turn must not grow
	// the stored history mid-flight in a corrupt way.
	for range f.orch.StreamTurn(ctx, seed.SessionID, "cancel me") {
	}

	after, err := f.sessions.Load(context.Background(), seed.SessionID)
	require.NoError(t, err)
	// Either the full turn persisted or nothing did.
	ok := len(after.Messages) == beforeLen || len(after.Messages) == beforeLen+2
	assert.True(t, ok, "history grew by %d messages", len(after.Messages)-beforeLen)
}
