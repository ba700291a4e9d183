package core

import (
	"time"

	"github.com/google/uuid"
)

// EventActions encodes side-effects attached to an Event. StateDelta is the
// partial StateMap merged into the session state when the event is
// appended. Temp keys inside it are kept on the event itself but never reach
// the persisted session state.
type EventActions struct {
	StateDelta StateMap `json:"state_delta,omitempty"`
}

// Event is an immutable record of one turn's effects. It captures:
//   - Correlation (ID, InvocationID, Author)
//   - Conversational content (optional role-based Parts)
//   - State changes (Actions.StateDelta)
//   - Streaming and error metadata
//   - A UTC timestamp, the ordering key of the event log
//
// ID is unique within a session. Ties between equal timestamps are broken by
// append order.
type Event struct {
	ID           string       `json:"id"`
	InvocationID string       `json:"invocation_id,omitempty"`
	Author       string       `json:"author,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	Content      *Content     `json:"content,omitempty"`
	Actions      EventActions `json:"actions"`
	Partial      bool         `json:"partial,omitempty"`
	TurnComplete bool         `json:"turn_complete,omitempty"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to an invocation.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewMessageEvent creates an assistant message event with a single text part.
func NewMessageEvent(invocationID, author, message string) Event {
	e := NewEvent(invocationID, author)
	e.Content = &Content{Role: "assistant", Parts: []Part{TextPart(message)}}
	return e
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(invocationID, message string) Event {
	e := NewEvent(invocationID, "user")
	e.Content = &Content{Role: "user", Parts: []Part{TextPart(message)}}
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(invocationID string, content *Content) Event {
	e := NewEvent(invocationID, "user")
	if content != nil {
		c := content.Clone()
		e.Content = &c
	}
	return e
}

// NewID generates a new unique identifier for sessions and events.
func NewID() string { return uuid.NewString() }

// WithStateDelta returns a copy of e carrying delta.
func (e Event) WithStateDelta(delta StateMap) Event {
	e = e.Clone()
	e.Actions.StateDelta = delta.Clone()
	return e
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	if e.Content != nil {
		c := e.Content.Clone()
		e.Content = &c
	}
	if e.Actions.StateDelta != nil {
		e.Actions.StateDelta = e.Actions.StateDelta.Clone()
	}
	return e
}

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, *p.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within the
// event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if p.FunctionResponse != nil {
			responses = append(responses, *p.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse reports whether the event completes an assistant turn:
// not partial and without pending tool calls or responses.
func (e Event) IsFinalResponse() bool {
	return !e.Partial && len(e.GetFunctionCalls()) == 0 && len(e.GetFunctionResponses()) == 0
}

// PrepareEvent normalizes an event before append: a missing id is generated,
// a zero timestamp is replaced with now, and the timestamp is converted to
// UTC so every backend reports identical values. The result is a deep copy.
func PrepareEvent(e Event, now time.Time) Event {
	e = e.Clone()
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	e.Timestamp = e.Timestamp.UTC()
	return e
}
