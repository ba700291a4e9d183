package core

import (
	"testing"
	"time"
)

// Event constructor & helper method tests
func TestEvent_ConstructorsAndMethods(t *testing.T) {
	e := NewEvent("inv-123", "authorA")
	if e.Author != "authorA" || e.InvocationID != "inv-123" || e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("NewEvent did not initialize fields correctly: %+v", e)
	}

	msg := NewMessageEvent("inv-1", "agent1", "hello world")
	if msg.Content == nil || msg.Content.Role != "assistant" || len(msg.Content.Parts) != 1 {
		t.Fatalf("NewMessageEvent malformed: %+v", msg)
	}

	user := NewUserMessageEvent("inv-1", "hi")
	if user.Content == nil || user.Content.Role != "user" || user.Content.Text() != "hi" {
		t.Fatalf("NewUserMessageEvent malformed: %+v", user)
	}
}

func TestEvent_FunctionPartsAndFinal(t *testing.T) {
	e := NewEvent("inv", "agent")
	if !e.IsFinalResponse() {
		t.Error("expected bare event to be final")
	}

	e.Content = &Content{Role: "assistant", Parts: []Part{
		FunctionCallPart(FunctionCall{ID: "c1", Name: "lookup", Arguments: `{"q":"x"}`}),
	}}
	calls := e.GetFunctionCalls()
	if len(calls) != 1 || calls[0].Name != "lookup" {
		t.Fatalf("GetFunctionCalls extraction failed: %+v", calls)
	}
	if e.IsFinalResponse() {
		t.Error("event with pending tool call must not be final")
	}

	r := NewEvent("inv", "tool")
	r.Content = &Content{Role: "tool", Parts: []Part{
		FunctionResponsePart(FunctionResponse{ID: "c1", Name: "lookup", Response: Int(42)}),
	}}
	resps := r.GetFunctionResponses()
	if len(resps) != 1 || !resps[0].Response.Equal(Int(42)) {
		t.Fatalf("GetFunctionResponses extraction failed: %+v", resps)
	}

	p := NewMessageEvent("inv", "agent", "chunk")
	p.Partial = true
	if p.IsFinalResponse() {
		t.Error("partial event must not be final")
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	e := NewMessageEvent("inv", "agent", "hello").WithStateDelta(MustState(map[string]any{"k": "v"}))
	c := e.Clone()
	c.Content.Parts[0].Text = "changed"
	c.Actions.StateDelta["k"] = String("changed")

	if e.Content.Parts[0].Text != "hello" {
		t.Error("clone shares content parts")
	}
	if v, _ := e.Actions.StateDelta.Get("k"); !v.Equal(String("v")) {
		t.Error("clone shares state delta")
	}
}

func TestPrepareEvent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e := PrepareEvent(Event{Author: "agent"}, now)
	if e.ID == "" {
		t.Error("expected generated id")
	}
	if !e.Timestamp.Equal(now) {
		t.Errorf("expected timestamp %v, got %v", now, e.Timestamp)
	}

	loc := time.FixedZone("UTC+2", 2*60*60)
	local := time.Date(2025, 3, 1, 14, 0, 0, 0, loc)
	e = PrepareEvent(Event{ID: "fixed", Timestamp: local}, now)
	if e.ID != "fixed" {
		t.Errorf("expected caller id to be kept, got %q", e.ID)
	}
	if e.Timestamp.Location() != time.UTC || !e.Timestamp.Equal(local) {
		t.Errorf("expected UTC timestamp equal to input, got %v", e.Timestamp)
	}
}
