package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
	"github.com/hupe1980/sessionmesh/model"
)

func toJSON(t *testing.T, v any) []map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func blockTypes(msg map[string]any) []string {
	var types []string
	blocks, _ := msg["content"].([]any)
	for _, b := range blocks {
		if m, ok := b.(map[string]any); ok {
			types = append(types, m["type"].(string))
		}
	}
	return types
}

func TestBuildMessages_ToolResultsFollowCalls(t *testing.T) {
	contents := []core.Content{
		{Role: "system", Parts: []core.Part{core.TextPart("ignored here")}},
		{Role: "user", Parts: []core.Part{core.TextPart("weather in Paris?")}},
		{Role: "assistant", Parts: []core.Part{
			core.TextPart("checking"),
			core.FunctionCallPart(core.FunctionCall{ID: "call-1", Name: "get_weather", Arguments: `{"city":"Paris"}`}),
		}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart(core.FunctionResponse{
			ID: "call-1", Name: "get_weather", Response: core.String("sunny"),
		})}},
		{Role: "assistant", Parts: []core.Part{core.TextPart("It is sunny.")}},
	}

	got := toJSON(t, buildMessages(contents))
	require.Len(t, got, 4)
	assert.Equal(t, "user", got[0]["role"])
	assert.Equal(t, "assistant", got[1]["role"])
	assert.Equal(t, []string{"text", "tool_use"}, blockTypes(got[1]))
	assert.Equal(t, "user", got[2]["role"])
	assert.Equal(t, []string{"tool_result"}, blockTypes(got[2]))
	result := got[2]["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "call-1", result["tool_use_id"])
	assert.Equal(t, "assistant", got[3]["role"])
}

func TestBuildMessages_OrphanResultsAppended(t *testing.T) {
	contents := []core.Content{
		{Role: "user", Parts: []core.Part{core.TextPart("hi")}},
		{Role: "tool", Parts: []core.Part{core.FunctionResponsePart(core.FunctionResponse{
			ID: "call-7", Error: "boom",
		})}},
	}
	got := toJSON(t, buildMessages(contents))
	require.Len(t, got, 2)
	assert.Equal(t, []string{"tool_result"}, blockTypes(got[1]))
}

func TestExtractSystemMessage(t *testing.T) {
	blocks := extractSystemMessage(model.Request{
		Instructions: "be brief",
		Contents: []core.Content{
			{Role: "system", Parts: []core.Part{core.TextPart("answer in French")}},
			{Role: "user", Parts: []core.Part{core.TextPart("hello")}},
		},
	})
	require.Len(t, blocks, 2)
	assert.Equal(t, "be brief", blocks[0].Text)
	assert.Equal(t, "answer in French", blocks[1].Text)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredFields([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, requiredFields([]any{"a", 1, "b"}))
	assert.Nil(t, requiredFields(nil))
}

func TestBuildParams(t *testing.T) {
	m := NewModelFromClient(nil, WithModelName("claude-test"))
	params := m.buildParams(model.Request{
		Instructions: "be brief",
		Contents:     []core.Content{{Role: "user", Parts: []core.Part{core.TextPart("hello")}}},
		Tools: []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{
			Name:       "get_weather",
			Parameters: map[string]any{"properties": map[string]any{}, "required": []any{"city"}},
		}}},
	})
	assert.EqualValues(t, "claude-test", params.Model)
	assert.Len(t, params.Messages, 1)
	assert.Len(t, params.System, 1)
	assert.Len(t, params.Tools, 1)
	assert.Equal(t, "claude-test", m.Info().Name)
}
