package openai

import (
	"github.com/openai/openai-go"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/model"
)

// transcript replays session history as chat messages.
type transcript struct {
	req model.Request
	// results maps a tool call id to its result text; pending keeps the
	// first-seen order of results not yet placed.
	results map[string]string
	pending []string
}

func newTranscript(req model.Request) *transcript {
	t := &transcript{req: req, results: map[string]string{}}
	for _, c := range req.Contents {
		if c.Role != "tool" {
			continue
		}
		for _, p := range c.Parts {
			fr := p.FunctionResponse
			if fr == nil || fr.ID == "" {
				continue
			}
			if _, seen := t.results[fr.ID]; seen {
				continue
			}
			t.results[fr.ID] = model.FunctionResponseText(*fr)
			t.pending = append(t.pending, fr.ID)
		}
	}
	return t
}

// take removes and returns the result for id.
func (t *transcript) take(id string) (string, bool) {
	text, ok := t.results[id]
	if ok {
		delete(t.results, id)
	}
	return text, ok
}

func (t *transcript) messages() []openai.ChatCompletionMessageParamUnion {
	var msgs []openai.ChatCompletionMessageParamUnion
	if t.req.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(t.req.Instructions))
	}

	for _, c := range t.req.Contents {
		switch c.Role {
		case "tool":
		case "system":
			msgs = append(msgs, openai.SystemMessage(c.Text()))
		case "assistant":
			msgs = append(msgs, t.assistant(c)...)
		default:
			if text := c.Text(); text != "" || c.Role == "user" {
				msgs = append(msgs, openai.UserMessage(text))
			}
		}
	}

	// Results whose call is not in the window still reach the model.
	for _, id := range t.pending {
		if text, ok := t.take(id); ok {
			msgs = append(msgs, openai.ToolMessage(text, id))
		}
	}
	return msgs
}

// assistant converts one assistant turn; tool calls are followed by their
// results.
func (t *transcript) assistant(c core.Content) []openai.ChatCompletionMessageParamUnion {
	calls := toolCalls(c)
	if len(calls) == 0 {
		return []openai.ChatCompletionMessageParamUnion{openai.AssistantMessage(c.Text())}
	}

	msgs := []openai.ChatCompletionMessageParamUnion{{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Role:      "assistant",
			ToolCalls: calls,
		},
	}}
	for _, call := range calls {
		if text, ok := t.take(call.ID); ok {
			msgs = append(msgs, openai.ToolMessage(text, call.ID))
		}
	}
	return msgs
}

func toolCalls(c core.Content) []openai.ChatCompletionMessageToolCallParam {
	var calls []openai.ChatCompletionMessageToolCallParam
	for _, p := range c.Parts {
		if p.FunctionCall == nil {
			continue
		}
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID:   p.FunctionCall.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      p.FunctionCall.Name,
				Arguments: p.FunctionCall.Arguments,
			},
		})
	}
	return calls
}
