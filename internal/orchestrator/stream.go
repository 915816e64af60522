// ABOUTME: Streaming variant of the orchestrator turn loop
// ABOUTME: Emits session, fragment, tool, done, and error events in strict order

package orchestrator

import (
	"context"
	"fmt"

	"github.com/2389/marketmind/internal/engine"
)

// EventKind identifies a stream event.
type EventKind string

const (
	// EventSession carries the session id; exactly one opens every stream.
	EventSession EventKind = "session"
	// EventFragment carries an incremental piece of answer text.
	EventFragment EventKind = "fragment"
	// EventTool reports one dispatched tool call and its outcome.
	EventTool EventKind = "tool"
	// EventDone carries the completed TurnResult and terminates the stream.
	EventDone EventKind = "done"
	// EventError terminates the stream with a turn-level failure.
	EventError EventKind = "error"
)

// ToolUpdate describes one tool call's outcome for stream consumers.
type ToolUpdate struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	OK     bool   `json:"ok"`
}

// StreamEvent is one element of a streamed turn.
type StreamEvent struct {
	Kind      EventKind
	SessionID string
	Content   string
	Tool      *ToolUpdate
	Result    *TurnResult
	Err       error
}

// StreamTurn runs one turn, emitting events as content becomes available.
// The channel always opens with a session event and closes after exactly
// one done or error event; each dispatched tool call surfaces as a tool
// event between reasoning passes. Cancelling ctx stops the turn; a cancelled turn
// is never persisted.
func (o *Orchestrator) StreamTurn(ctx context.Context, sessionID, userText string) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)
	go func() {
		defer close(events)

		turn, release, err := o.begin(ctx, sessionID, userText)
		if err != nil {
			events <- StreamEvent{Kind: EventError, Err: err}
			return
		}
		defer release()

		events <- StreamEvent{Kind: EventSession, SessionID: turn.sess.ID}

		for round := 0; round < o.maxRounds; round++ {
			completion, err := o.streamRound(ctx, turn, events)
			if err != nil {
				events <- StreamEvent{Kind: EventError, SessionID: turn.sess.ID, Err: err}
				return
			}

			if len(completion.ToolCalls) == 0 {
				o.streamFinish(ctx, turn, completion.Text, events)
				return
			}

			turn.recordReasoning(completion)
			for _, result := range o.dispatch(ctx, turn, completion.ToolCalls) {
				update := StreamEvent{
					Kind:      EventTool,
					SessionID: turn.sess.ID,
					Tool: &ToolUpdate{
						Name:   result.Name,
						Source: string(result.Source),
						OK:     result.OK(),
					},
				}
				select {
				case events <- update:
				case <-ctx.Done():
					return
				}
			}
		}

		if turn.lastText == "" {
			o.logger.Warn("round limit exceeded with no answer", "session_id", turn.sess.ID, "rounds", o.maxRounds)
			events <- StreamEvent{Kind: EventError, SessionID: turn.sess.ID, Err: ErrNoAnswer}
			return
		}
		o.logger.Warn("round limit exceeded, finishing with partial answer", "session_id", turn.sess.ID, "rounds", o.maxRounds)
		// The partial answer was already emitted as fragments when the
		// engine produced it; finish without re-emitting.
		o.streamFinish(ctx, turn, turn.lastText, events)
	}()
	return events
}

// streamRound runs one reasoning pass over the engine's streaming surface,
// forwarding content fragments as they arrive and returning the assembled
// completion.
func (o *Orchestrator) streamRound(ctx context.Context, turn *turnState, events chan<- StreamEvent) (*engine.Completion, error) {
	engineEvents, err := o.engine.Stream(ctx, turn.history(), o.registry.All())
	if err != nil {
		return nil, fmt.Errorf("reasoning engine: %w", err)
	}

	var completion *engine.Completion
	for ev := range engineEvents {
		switch {
		case ev.Err != nil:
			return nil, fmt.Errorf("reasoning engine: %w", ev.Err)
		case ev.Completion != nil:
			completion = ev.Completion
		case ev.Content != "":
			select {
			case events <- StreamEvent{Kind: EventFragment, SessionID: turn.sess.ID, Content: ev.Content}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if completion == nil {
		return nil, fmt.Errorf("reasoning engine: stream ended without completion")
	}
	return completion, nil
}

// streamFinish persists the turn and emits the terminal event.
func (o *Orchestrator) streamFinish(ctx context.Context, turn *turnState, answer string, events chan<- StreamEvent) {
	result, err := o.finish(ctx, turn, answer)
	if err != nil {
		events <- StreamEvent{Kind: EventError, SessionID: turn.sess.ID, Err: err}
		return
	}
	events <- StreamEvent{Kind: EventDone, SessionID: turn.sess.ID, Result: result}
}
