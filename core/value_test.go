package core

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"flag":  true,
		"count": 3,
		"tags":  []string{"a", "b"},
		"meta":  map[string]any{"nested": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, KindObject, v.Kind())

	obj, ok := v.AsObject()
	require.True(t, ok)
	n, ok := obj["count"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	assert.Equal(t, KindArray, obj["tags"].Kind())
	assert.True(t, obj["meta"].Equal(Object(map[string]Value{"nested": Null()})))

	_, err = FromAny(math.NaN())
	assert.Error(t, err)
	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestValue_JSON(t *testing.T) {
	v := MustFromAny(map[string]any{"b": 1.5, "a": []any{"x", false, nil}})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":["x",false,null],"b":1.5}`, string(data))
	assert.Equal(t, `{"a":["x",false,null],"b":1.5}`, v.String())

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, v.Equal(back))
}

func TestValue_CBOR(t *testing.T) {
	v := MustFromAny(map[string]any{"n": 42, "s": "str", "list": []any{1, "two"}})

	data, err := cbor.Marshal(v)
	require.NoError(t, err)

	var back Value
	require.NoError(t, cbor.Unmarshal(data, &back))
	assert.True(t, v.Equal(back), "got %s", back)
}

func TestValue_CloneAndAccessorsCopy(t *testing.T) {
	orig := Array(String("a"), Object(map[string]Value{"k": Int(1)}))
	clone := orig.Clone()

	items, ok := clone.AsArray()
	require.True(t, ok)
	items[0] = String("changed")

	assert.True(t, orig.Equal(clone))
	s, _ := orig.arr[0].AsString()
	assert.Equal(t, "a", s)

	_, ok = String("x").AsArray()
	assert.False(t, ok)
	assert.True(t, Null().IsNull())
	assert.False(t, Int(1).Equal(String("1")))
}
