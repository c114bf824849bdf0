package payload

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePreservesKeyOrder(t *testing.T) {
	p, err := Decode([]byte(`{"method":"ping","jsonrpc":"2.0","id":7,"params":{"z":1,"a":2}}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"method", "jsonrpc", "id", "params"}, p.Keys())

	params, ok := p.Get("params")
	require.True(t, ok)
	nested, ok := params.(*Payload)
	require.True(t, ok, "nested objects decode to *Payload")
	assert.Equal(t, []string{"z", "a"}, nested.Keys())

	out, err := Encode(p)
	require.NoError(t, err)
	assert.Equal(t, `{"method":"ping","jsonrpc":"2.0","id":7,"params":{"z":1,"a":2}}`, string(out))
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		`{}`,
		`{"a":null}`,
		`{"s":"x","n":1.5,"i":-3,"b":true,"arr":[1,"two",{"k":[]}],"o":{}}`,
		`{"big":12345678901234567890}`,
		`{"unicode":"héllo ☃","esc":"a\"b\\c"}`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			p, err := Decode([]byte(in))
			require.NoError(t, err)

			encoded, err := Encode(p)
			require.NoError(t, err)

			again, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, p, again)

			reencoded, err := Encode(again)
			require.NoError(t, err)
			assert.JSONEq(t, in, string(reencoded))
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", ``, ErrMalformed},
		{"garbage", `not json`, ErrMalformed},
		{"truncated", `{"jsonrpc":"2.0"`, ErrMalformed},
		{"trailing", `{"a":1}x`, ErrMalformed},
		{"two objects", `{"a":1}{"b":2}`, ErrMalformed},
		{"array", `[1,2]`, ErrNotObject},
		{"string", `"hello"`, ErrNotObject},
		{"broken array", `[1,2`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSetRemoveMerge(t *testing.T) {
	p := New("a", 1, "b", 2)
	p.Set("a", 10)
	assert.Equal(t, []string{"a", "b"}, p.Keys(), "overwrite keeps position")

	p.Remove("a")
	assert.False(t, p.Has("a"))
	assert.Equal(t, 1, p.Len())

	p.Merge(New("c", 3, "b", 20))
	assert.Equal(t, []string{"b", "c"}, p.Keys())
	v, _ := p.Get("b")
	assert.Equal(t, 20, v)

	p.MergeMap(map[string]any{"z": 1, "d": 2})
	assert.Equal(t, []string{"b", "c", "d", "z"}, p.Keys())
}

func TestSerializationReflectsLatestState(t *testing.T) {
	p := New("a", 1)
	first, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(first))

	p.Set("b", "x")
	p.Remove("a")
	second, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"b":"x"}`, string(second))
}

func TestUnmarshalJSON(t *testing.T) {
	var holder struct {
		Attrs *Payload `json:"attrs"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"attrs":{"y":1,"x":2}}`), &holder))
	assert.Equal(t, []string{"y", "x"}, holder.Attrs.Keys())
}

func nested(depth int) string {
	return `{"params":` + strings.Repeat("[", depth) + strings.Repeat("]", depth) + `}`
}

func TestDecodeNestingDepth(t *testing.T) {
	p, err := Decode([]byte(nested(MaxDepth - 1)))
	require.NoError(t, err)
	_, ok := p.Get("params")
	assert.True(t, ok)

	_, err = Decode([]byte(nested(MaxDepth)))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(nested(1_000_000)))
	assert.ErrorIs(t, err, ErrMalformed)
}
