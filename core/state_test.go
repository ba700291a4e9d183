package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKey(t *testing.T) {
	tests := []struct {
		key   string
		scope Scope
	}{
		{"app:theme", ScopeApp},
		{"user:name", ScopeUser},
		{"temp:scratch", ScopeTemp},
		{"counter", ScopeSession},
		{"application", ScopeSession},
		{"App:theme", ScopeSession},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.scope, ClassifyKey(tt.key))
		})
	}
	assert.False(t, ScopeTemp.IsPersisted())
	assert.True(t, ScopeUser.IsPersisted())
	assert.Equal(t, "user:", ScopeUser.Prefix())
	assert.Equal(t, "session", ScopeSession.String())
}

func TestStateMap_ApplyDelta(t *testing.T) {
	base := MustState(map[string]any{"keep": 1, "over": "old"})
	delta := MustState(map[string]any{"over": "new", "app:x": true, "temp:y": "skip"})

	merged := base.ApplyDelta(delta)

	assert.True(t, merged.Equal(MustState(map[string]any{"keep": 1, "over": "new", "app:x": true})))
	assert.Equal(t, []string{"app:x", "keep", "over"}, merged.Keys())

	// inputs untouched
	v, _ := base.Get("over")
	assert.True(t, v.Equal(String("old")))
	assert.Len(t, delta, 3)
}

func TestStateMap_PersistedAndClone(t *testing.T) {
	var nilMap StateMap
	assert.NotNil(t, nilMap.Clone())
	assert.Empty(t, nilMap.Persisted())

	m := MustState(map[string]any{"a": []any{1}, "temp:t": 1})
	p := m.Persisted()
	assert.Len(t, p, 1)
	assert.False(t, p.Equal(m))
}

func TestStateFromAny_Invalid(t *testing.T) {
	_, err := StateFromAny(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
