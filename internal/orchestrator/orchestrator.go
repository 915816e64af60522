// ABOUTME: Conversation orchestrator driving the reasoning/tool-dispatch loop
// ABOUTME: Turns are serialized per session and persisted only on completion

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/marketmind/internal/engine"
	"github.com/2389/marketmind/internal/session"
	"github.com/2389/marketmind/internal/tools"
)

// ErrNoAnswer is returned when a turn hits the round limit without the
// reasoning engine producing any usable text.
var ErrNoAnswer = errors.New("turn exceeded round limit with no answer")

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	ToolsUsed []string `json:"tools_used"`
}

// Orchestrator runs the conversation loop: reason, dispatch requested tool
// calls, feed results back, repeat until a final answer or the round limit.
type Orchestrator struct {
	engine       engine.Client
	gateway      *tools.Gateway
	sessions     *session.Store
	registry     *tools.Registry
	locks        *session.Locks
	trimmer      *engine.Trimmer
	maxRounds    int
	systemPrompt string
	logger       *slog.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Engine       engine.Client
	Gateway      *tools.Gateway
	Sessions     *session.Store
	Registry     *tools.Registry
	Trimmer      *engine.Trimmer
	MaxRounds    int
	SystemPrompt string
	Logger       *slog.Logger
}

// New creates an Orchestrator. MaxRounds defaults to 5 when unset.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &Orchestrator{
		engine:       opts.Engine,
		gateway:      opts.Gateway,
		sessions:     opts.Sessions,
		registry:     opts.Registry,
		locks:        session.NewLocks(),
		trimmer:      opts.Trimmer,
		maxRounds:    maxRounds,
		systemPrompt: opts.SystemPrompt,
		logger:       logger.With("component", "orchestrator"),
	}
}

// SubmitTurn runs one complete turn synchronously: append the user input,
// loop through reasoning and tool dispatch, persist the session, and return
// the final answer with the distinct tool names used.
func (o *Orchestrator) SubmitTurn(ctx context.Context, sessionID, userText string) (*TurnResult, error) {
	turn, release, err := o.begin(ctx, sessionID, userText)
	if err != nil {
		return nil, err
	}
	defer release()

	for round := 0; round < o.maxRounds; round++ {
		completion, err := o.engine.Generate(ctx, turn.history(), o.registry.All())
		if err != nil {
			return nil, fmt.Errorf("reasoning engine: %w", err)
		}

		if len(completion.ToolCalls) == 0 {
			return o.finish(ctx, turn, completion.Text)
		}

		turn.recordReasoning(completion)
		o.dispatch(ctx, turn, completion.ToolCalls)
	}

	// Round limit hit: finish with whatever text the engine produced along
	// the way, or fail the turn if there is none.
	if turn.lastText == "" {
		o.logger.Warn("round limit exceeded with no answer", "session_id", turn.sess.ID, "rounds", o.maxRounds)
		return nil, ErrNoAnswer
	}
	o.logger.Warn("round limit exceeded, finishing with partial answer", "session_id", turn.sess.ID, "rounds", o.maxRounds)
	return o.finish(ctx, turn, turn.lastText)
}

// turnState carries one turn's in-flight session mutation. Nothing touches
// the store until finish, so an aborted turn leaves no partial history.
type turnState struct {
	sess      *session.Session
	toolsUsed []string
	seenTools map[string]bool
	lastText  string
	system    string
	trimmer   *engine.Trimmer
}

// begin loads (or creates) the session under its lock and appends the user
// message in memory.
func (o *Orchestrator) begin(ctx context.Context, sessionID, userText string) (*turnState, func(), error) {
	sess, err := o.sessions.LoadOrCreate(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	release := o.locks.Acquire(sess.ID)

	// Re-load under the lock: a concurrent turn on the same id may have
	// persisted new messages between the first load and lock acquisition.
	if sessionID != "" {
		fresh, err := o.sessions.LoadOrCreate(ctx, sess.ID)
		if err != nil {
			release()
			return nil, nil, err
		}
		sess = fresh
	}

	sess.Append(session.UserMessage(userText))
	return &turnState{
		sess:      sess,
		seenTools: make(map[string]bool),
		system:    o.systemPrompt,
		trimmer:   o.trimmer,
	}, release, nil
}

// history builds the engine-facing message list: system prompt plus the
// session history, trimmed to the token budget.
func (t *turnState) history() []session.Message {
	messages := make([]session.Message, 0, len(t.sess.Messages)+1)
	if t.system != "" {
		messages = append(messages, session.Message{Role: session.RoleSystem, Content: t.system})
	}
	messages = append(messages, t.sess.Messages...)
	if t.trimmer != nil {
		messages = t.trimmer.Trim(messages)
	}
	return messages
}

// recordReasoning appends the assistant message that requested tool calls
// and remembers any text it carried as a fallback answer.
func (t *turnState) recordReasoning(completion *engine.Completion) {
	t.sess.Append(session.AssistantMessage(completion.Text, completion.ToolCalls))
	if completion.Text != "" {
		t.lastText = completion.Text
	}
}

// dispatch runs the requested calls as one batch and appends one tool
// message per result. Failed calls produce degraded tool messages; the
// turn continues either way.
func (o *Orchestrator) dispatch(ctx context.Context, turn *turnState, calls []session.ToolCall) []tools.Result {
	results := o.gateway.InvokeBatch(ctx, calls)
	for _, result := range results {
		if !turn.seenTools[result.Name] {
			turn.seenTools[result.Name] = true
			turn.toolsUsed = append(turn.toolsUsed, result.Name)
		}
		turn.sess.Append(session.ToolMessage(result.CallID, result.Name, result.Content()))
	}
	return results
}

// finish appends the final answer, persists the session, and builds the
// turn result. This is the only point at which the turn touches the store.
func (o *Orchestrator) finish(ctx context.Context, turn *turnState, answer string) (*TurnResult, error) {
	turn.sess.Append(session.AssistantMessage(answer, nil))
	if err := o.sessions.Save(ctx, turn.sess); err != nil {
		return nil, err
	}

	o.logger.Info("turn complete",
		"session_id", turn.sess.ID,
		"messages", len(turn.sess.Messages),
		"tools_used", turn.toolsUsed)

	return &TurnResult{
		SessionID: turn.sess.ID,
		Answer:    answer,
		ToolsUsed: append([]string{}, turn.toolsUsed...),
	}, nil
}
