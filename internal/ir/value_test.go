package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{
		"zebra":  IRString("z"),
		"apple":  IRString("a"),
		"banana": IRString("b"),
	}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestIRObjectSortedKeysUppercaseFirst(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "A": IRInt(2), "aA": IRInt(3), "AA": IRInt(4)}
	assert.Equal(t, []string{"A", "AA", "a", "aA"}, obj.SortedKeys())
}

func TestIRObjectCloneIsDeep(t *testing.T) {
	orig := IRObject{
		"name":  IRString("ann"),
		"tags":  IRArray{IRString("x")},
		"inner": IRObject{"k": IRInt(1)},
	}

	clone := orig.Clone()
	clone["name"] = IRString("bob")
	clone["tags"].(IRArray)[0] = IRString("y")
	clone["inner"].(IRObject)["k"] = IRInt(2)

	assert.Equal(t, IRString("ann"), orig["name"])
	assert.Equal(t, IRString("x"), orig["tags"].(IRArray)[0])
	assert.Equal(t, IRInt(1), orig["inner"].(IRObject)["k"])
}

func TestIRObjectCloneNil(t *testing.T) {
	var obj IRObject
	clone := obj.Clone()
	require.NotNil(t, clone)
	assert.Empty(t, clone)
}

func TestFromNative(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected IRValue
	}{
		{"string", "local", IRString("local")},
		{"int", 70, IRInt(70)},
		{"int64", int64(70), IRInt(70)},
		{"whole float", float64(70), IRInt(70)},
		{"bool", true, IRBool(true)},
		{"nil", nil, IRNull{}},
		{"json number", json.Number("12"), IRInt(12)},
		{"list", []any{"a", 1}, IRArray{IRString("a"), IRInt(1)}},
		{"map", map[string]any{"age": 5}, IRObject{"age": IRInt(5)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromNative(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFromNativeRejectsFractions(t *testing.T) {
	_, err := FromNative(65.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fractional")

	_, err = FromNative(json.Number("1.5"))
	require.Error(t, err)

	_, err = FromNative(map[string]any{"age": 1.25})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"age"`)
}

func TestNativeRoundTrip(t *testing.T) {
	obj := IRObject{
		"age":       IRInt(70),
		"residency": IRString("local"),
		"disabled":  IRBool(false),
		"tags":      IRArray{IRString("a")},
	}

	native := Native(obj)
	back, err := FromNative(native)
	require.NoError(t, err)
	assert.Equal(t, obj, back)
}

func TestIRObjectJSON(t *testing.T) {
	obj := IRObject{"b": IRInt(2), "a": IRString("x"), "n": IRNull{}}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"n":null}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, obj, back)
}

func TestIRObjectUnmarshalRejectsFloat(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`{"age": 70.5}`), &obj)
	require.Error(t, err)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "string", TypeName(IRString("")))
	assert.Equal(t, "int", TypeName(IRInt(0)))
	assert.Equal(t, "bool", TypeName(IRBool(false)))
	assert.Equal(t, "array", TypeName(IRArray{}))
	assert.Equal(t, "object", TypeName(IRObject{}))
	assert.Equal(t, "null", TypeName(IRNull{}))
}
