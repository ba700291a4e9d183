package testutil

import (
	"time"

	"github.com/hupe1980/sessionmesh/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder().Author("agent").Invocation("inv-1").AssistantText("hello").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	author        string
	invocationID  string
	id            string
	role          string
	timestamp     time.Time
	textParts     []string
	funcCalls     []core.FunctionCall
	funcResponses []core.FunctionResponse
	partial       bool
	turnComplete  bool
	delta         map[string]any
	errCode       string
	errMessage    string
}

// NewEventBuilder creates a builder with default author "agent".
func NewEventBuilder() *EventBuilder { return &EventBuilder{author: "agent"} }

// Author sets the author name for the event (chainable).
func (b *EventBuilder) Author(a string) *EventBuilder { b.author = a; return b }

// Invocation sets the invocation ID associated with the event (chainable).
func (b *EventBuilder) Invocation(id string) *EventBuilder { b.invocationID = id; return b }

// ID overrides the auto-generated event ID (chainable). Use mainly in tests where determinism matters.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// At sets the event timestamp (chainable).
func (b *EventBuilder) At(ts time.Time) *EventBuilder { b.timestamp = ts; return b }

// Partial marks the event as a streaming / partial chunk (chainable).
func (b *EventBuilder) Partial() *EventBuilder { b.partial = true; return b }

// TurnComplete marks the event as completing the model turn (chainable).
func (b *EventBuilder) TurnComplete() *EventBuilder { b.turnComplete = true; return b }

// UserText appends a user role text part and sets role to user (chainable).
func (b *EventBuilder) UserText(t string) *EventBuilder {
	b.role = "user"
	b.textParts = append(b.textParts, t)
	return b
}

// AssistantText appends an assistant role text part and sets role to assistant (chainable).
func (b *EventBuilder) AssistantText(t string) *EventBuilder {
	b.role = "assistant"
	b.textParts = append(b.textParts, t)
	return b
}

// FunctionCall adds a function call part with the provided id, name and JSON argument string (chainable).
func (b *EventBuilder) FunctionCall(id, name, args string) *EventBuilder {
	b.funcCalls = append(b.funcCalls, core.FunctionCall{ID: id, Name: name, Arguments: args})
	return b
}

// FunctionResponse adds a function response part representing tool execution output (chainable).
// result must be convertible with core.FromAny.
func (b *EventBuilder) FunctionResponse(id, name string, result any, err error) *EventBuilder {
	b.role = "tool"
	fr := core.FunctionResponse{ID: id, Name: name, Response: core.MustFromAny(result)}
	if err != nil {
		fr.Error = err.Error()
	}
	b.funcResponses = append(b.funcResponses, fr)
	return b
}

// Delta adds one state delta entry (chainable).
func (b *EventBuilder) Delta(key string, val any) *EventBuilder {
	if b.delta == nil {
		b.delta = map[string]any{}
	}
	b.delta[key] = val
	return b
}

// Error sets the error code and message of the event (chainable).
func (b *EventBuilder) Error(code, msg string) *EventBuilder {
	b.errCode, b.errMessage = code, msg
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.invocationID, b.author)
	if b.id != "" {
		ev.ID = b.id
	}
	if !b.timestamp.IsZero() {
		ev.Timestamp = b.timestamp.UTC()
	}
	ev.Partial = b.partial
	ev.TurnComplete = b.turnComplete
	ev.ErrorCode, ev.ErrorMessage = b.errCode, b.errMessage
	if b.delta != nil {
		ev.Actions.StateDelta = core.MustState(b.delta)
	}

	parts := make([]core.Part, 0, len(b.textParts)+len(b.funcCalls)+len(b.funcResponses))
	for _, t := range b.textParts {
		parts = append(parts, core.TextPart(t))
	}
	for _, fc := range b.funcCalls {
		parts = append(parts, core.FunctionCallPart(fc))
	}
	for _, fr := range b.funcResponses {
		parts = append(parts, core.FunctionResponsePart(fr))
	}
	if len(parts) > 0 {
		role := b.role
		if role == "" {
			role = "assistant"
		}
		ev.Content = &core.Content{Role: role, Parts: parts}
	}
	return ev
}
