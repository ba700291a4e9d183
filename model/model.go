package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/sessionmesh/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input built from a session's
// conversation history.
type Request struct {
	Instructions string           `json:"instructions"` // System instructions for the model
	Contents     []core.Content   `json:"contents"`     // Prior turns, oldest first
	Tools        []ToolDefinition `json:"tools,omitempty"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "local", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the runner to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// FunctionResponseText renders a function response as the plain text
// providers expect for tool results: the string itself for string
// responses, JSON otherwise, or the error message on failure.
func FunctionResponseText(fr core.FunctionResponse) string {
	if fr.Error != "" {
		return "error: " + fr.Error
	}
	if s, ok := fr.Response.AsString(); ok {
		return s
	}
	return fr.Response.String()
}

// MockModel answers with canned text keyed by the last content's text and
// records every request it receives. Safe for concurrent use.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	requests  []Request
}

// Compile-time interface check.
var _ Model = (*MockModel)(nil)

// NewMockModel returns a mock reporting name and provider in Info.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider, SupportsTools: true},
		responses: map[string]string{},
	}
}

// AddResponse registers the reply for an input text.
func (m *MockModel) AddResponse(input, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[input] = reply
}

// Requests returns a copy of the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

func (m *MockModel) reply(req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(req.Contents) == 0 {
		return "", fmt.Errorf("no contents provided")
	}
	input := req.Contents[len(req.Contents)-1].Text()
	if r, ok := m.responses[input]; ok {
		return r, nil
	}
	return "Mock response to: " + input, nil
}

// Generate implements Model. With Stream set the reply is first emitted one
// rune per partial response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		text, err := m.reply(req)
		if err != nil {
			errCh <- err
			return
		}

		assistant := func(s string) core.Content {
			return core.Content{Role: "assistant", Parts: []core.Part{core.TextPart(s)}}
		}
		if req.Stream {
			for _, r := range text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- Response{Partial: true, Content: assistant(string(r))}:
				}
			}
		}
		out <- Response{Content: assistant(text), FinishReason: "stop"}
	}()

	return out, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
