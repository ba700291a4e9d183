package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/sessionmesh/core"
)

func drain(t *testing.T, out <-chan Response, errs <-chan error) []Response {
	t.Helper()
	var got []Response
	for r := range out {
		got = append(got, r)
	}
	for err := range errs {
		require.NoError(t, err)
	}
	return got
}

func TestMockModel_CannedAndDefault(t *testing.T) {
	m := NewMockModel("mock", "local")
	m.AddResponse("ping", "pong")

	user := func(text string) []core.Content {
		return []core.Content{{Role: "user", Parts: []core.Part{core.TextPart(text)}}}
	}

	out, errs := m.Generate(context.Background(), Request{Contents: user("ping")})
	got := drain(t, out, errs)
	require.Len(t, got, 1)
	assert.Equal(t, "pong", got[0].Content.Text())
	assert.Equal(t, "stop", got[0].FinishReason)

	out, errs = m.Generate(context.Background(), Request{Contents: user("other")})
	got = drain(t, out, errs)
	assert.Equal(t, "Mock response to: other", got[0].Content.Text())
	assert.Len(t, m.Requests(), 2)
}

func TestMockModel_Streaming(t *testing.T) {
	m := NewMockModel("mock", "local")
	m.AddResponse("hi", "abc")
	out, errs := m.Generate(context.Background(), Request{
		Stream:   true,
		Contents: []core.Content{{Role: "user", Parts: []core.Part{core.TextPart("hi")}}},
	})
	got := drain(t, out, errs)
	require.Len(t, got, 4)
	for _, r := range got[:3] {
		assert.True(t, r.Partial)
	}
	assert.False(t, got[3].Partial)
	assert.Equal(t, "abc", got[3].Content.Text())
}

func TestMockModel_NoContents(t *testing.T) {
	m := NewMockModel("mock", "local")
	out, errs := m.Generate(context.Background(), Request{})
	for range out {
	}
	assert.Error(t, <-errs)
}

func TestFunctionResponseText(t *testing.T) {
	assert.Equal(t, "plain", FunctionResponseText(core.FunctionResponse{Response: core.String("plain")}))
	assert.Equal(t, `{"temp":21}`, FunctionResponseText(core.FunctionResponse{Response: core.MustFromAny(map[string]any{"temp": 21})}))
	assert.Equal(t, "error: boom", FunctionResponseText(core.FunctionResponse{Error: "boom"}))
}
