package openai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/model"
)

func history() []core.Content {
	return []core.Content{
		{Role: "user", Parts: []core.Part{core.TextPart("weather in Paris?")}},
		{Role: "assistant", Parts: []core.Part{core.FunctionCallPart(core.FunctionCall{
			ID: "call-1", Name: "get_weather", Arguments: `{"city":"Paris"}`,
		})}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart(core.FunctionResponse{
			ID: "call-1", Name: "get_weather", Response: core.MustFromAny(map[string]any{"temp": 21}),
		})}},
		{Role: "assistant", Parts: []core.Part{core.TextPart("It is 21 degrees.")}},
	}
}

func roles(t *testing.T, v any) []map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestTranscript_IndexesToolResults(t *testing.T) {
	req := model.Request{Contents: history()}
	req.Contents = append(req.Contents, core.Content{Role: "tool", Parts: []core.Part{
		core.FunctionResponsePart(core.FunctionResponse{ID: "call-1", Response: core.String("dup")}),
		core.FunctionResponsePart(core.FunctionResponse{ID: "call-2", Error: "timeout"}),
	}})

	tr := newTranscript(req)
	assert.Equal(t, []string{"call-1", "call-2"}, tr.pending)
	assert.Equal(t, `{"temp":21}`, tr.results["call-1"])
	assert.Equal(t, "error: timeout", tr.results["call-2"])

	text, ok := tr.take("call-1")
	assert.True(t, ok)
	assert.Equal(t, `{"temp":21}`, text)
	_, ok = tr.take("call-1")
	assert.False(t, ok)
}

func TestBuildMessages_AttachesToolResults(t *testing.T) {
	req := model.Request{Instructions: "be brief", Contents: history()}
	messages := newTranscript(req).messages()

	got := roles(t, messages)
	require.Len(t, got, 5)
	assert.Equal(t, "system", got[0]["role"])
	assert.Equal(t, "be brief", got[0]["content"])
	assert.Equal(t, "user", got[1]["role"])
	assert.Equal(t, "assistant", got[2]["role"])
	assert.Equal(t, "tool", got[3]["role"])
	assert.Equal(t, "call-1", got[3]["tool_call_id"])
	assert.Equal(t, "assistant", got[4]["role"])

	require.NotNil(t, messages[2].OfAssistant)
	require.Len(t, messages[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call-1", messages[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, "get_weather", messages[2].OfAssistant.ToolCalls[0].Function.Name)
}

func TestBuildMessages_OrphanToolResponsesAppended(t *testing.T) {
	req := model.Request{Contents: []core.Content{
		{Role: "user", Parts: []core.Part{core.TextPart("hi")}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart(core.FunctionResponse{
			ID: "call-9", Response: core.String("late"),
		})}},
	}}
	got := roles(t, newTranscript(req).messages())
	require.Len(t, got, 2)
	assert.Equal(t, "tool", got[1]["role"])
	assert.Equal(t, "call-9", got[1]["tool_call_id"])
}

func TestBuildParams_Tools(t *testing.T) {
	m := NewModelFromClient(nil, WithModelName("gpt-test"))
	params := m.buildParams(model.Request{Tools: []model.ToolDefinition{{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        "get_weather",
			Description: "Look up the weather",
			Parameters:  map[string]any{"type": "object"},
		},
	}}}, nil)

	assert.EqualValues(t, "gpt-test", params.Model)
	require.Len(t, params.Tools, 1)
	assert.Equal(t, "get_weather", params.Tools[0].Function.Name)
}

func TestInfo(t *testing.T) {
	m := NewModelFromClient(nil)
	info := m.Info()
	assert.Equal(t, "openai", info.Provider)
	assert.Equal(t, defaultOptions().Model, info.Name)
	assert.True(t, info.SupportsTools)
}

func TestAccumulator(t *testing.T) {
	acc := newAccumulator()

	p := acc.addText("Hel")
	assert.True(t, p.Partial)
	assert.Equal(t, "Hel", p.Content.Text())
	acc.addText("lo")

	acc.addToolCall(1, "c2", "second", `{}`)
	acc.addToolCall(0, "c1", "first", `{"a":`)
	p = acc.addToolCall(0, "", "", `1}`)
	require.NotNil(t, p.Content.Parts[0].FunctionCall)
	assert.Equal(t, `{"a":1}`, p.Content.Parts[0].FunctionCall.Arguments)

	final := acc.final("tool_calls")
	assert.False(t, final.Partial)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.Content.Parts, 3)
	assert.Equal(t, "Hello", final.Content.Parts[0].Text)
	assert.Equal(t, core.FunctionCall{ID: "c1", Name: "first", Arguments: `{"a":1}`}, *final.Content.Parts[1].FunctionCall)
	assert.Equal(t, "c2", final.Content.Parts[2].FunctionCall.ID)
}
