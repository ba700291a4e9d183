package openai

import (
	"slices"
	"strings"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/model"
)

// accumulator rebuilds a complete assistant message from stream deltas.
// Tool call fragments are keyed by their stream index.
type accumulator struct {
	text  strings.Builder
	calls map[int64]*core.FunctionCall
}

func newAccumulator() *accumulator {
	return &accumulator{calls: map[int64]*core.FunctionCall{}}
}

func (a *accumulator) addText(delta string) model.Response {
	a.text.WriteString(delta)
	return partial(core.TextPart(delta))
}

// addToolCall merges a fragment and returns the call as known so far.
func (a *accumulator) addToolCall(index int64, id, name, args string) model.Response {
	call, ok := a.calls[index]
	if !ok {
		call = &core.FunctionCall{}
		a.calls[index] = call
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	call.Arguments += args
	return partial(core.FunctionCallPart(*call))
}

// final returns the aggregated message, tool calls in stream index order.
func (a *accumulator) final(finishReason string) model.Response {
	var parts []core.Part
	if a.text.Len() > 0 {
		parts = append(parts, core.TextPart(a.text.String()))
	}
	indexes := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	for _, idx := range indexes {
		parts = append(parts, core.FunctionCallPart(*a.calls[idx]))
	}
	return model.Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: finishReason,
	}
}

func partial(p core.Part) model.Response {
	return model.Response{
		Partial: true,
		Content: core.Content{Role: "assistant", Parts: []core.Part{p}},
	}
}
