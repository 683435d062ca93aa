package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		layers []map[string]any
		want   map[string]any
	}{
		{
			name: "higher layer wins on scalar conflict",
			layers: []map[string]any{
				{"port": 5432},
				{"port": 5433},
			},
			want: map[string]any{"port": 5433},
		},
		{
			name: "maps merge recursively",
			layers: []map[string]any{
				{"env": map[string]any{"LOG_LEVEL": "info", "TZ": "UTC"}},
				{"env": map[string]any{"LOG_LEVEL": "debug"}},
			},
			want: map[string]any{"env": map[string]any{"LOG_LEVEL": "debug", "TZ": "UTC"}},
		},
		{
			name: "lists replaced wholesale",
			layers: []map[string]any{
				{"volumes": []any{"a:/a", "b:/b"}},
				{"volumes": []any{"c:/c"}},
			},
			want: map[string]any{"volumes": []any{"c:/c"}},
		},
		{
			name: "scalar replaces map",
			layers: []map[string]any{
				{"cache": map[string]any{"size": 100}},
				{"cache": "disabled"},
			},
			want: map[string]any{"cache": "disabled"},
		},
		{
			name: "map replaces scalar",
			layers: []map[string]any{
				{"cache": "disabled"},
				{"cache": map[string]any{"size": 100}},
			},
			want: map[string]any{"cache": map[string]any{"size": 100}},
		},
		{
			name:   "nil layers ignored",
			layers: []map[string]any{nil, {"a": 1}, nil},
			want:   map[string]any{"a": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.layers...))
		})
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	low := map[string]any{"env": map[string]any{"A": "1"}, "list": []any{"x"}}
	high := map[string]any{"env": map[string]any{"B": "2"}}

	out := Merge(low, high)

	// mutate the output and check the layers are untouched
	out["env"].(map[string]any)["C"] = "3"
	out["list"].([]any)[0] = "mutated"

	assert.Equal(t, map[string]any{"A": "1"}, low["env"])
	assert.Equal(t, []any{"x"}, low["list"])
	assert.Equal(t, map[string]any{"B": "2"}, high["env"])
}

func TestClone(t *testing.T) {
	src := map[string]any{"a": map[string]any{"b": []any{1, 2}}}
	cp := Clone(src)

	assert.Equal(t, src, cp)

	cp["a"].(map[string]any)["b"].([]any)[0] = 9
	assert.Equal(t, 1, src["a"].(map[string]any)["b"].([]any)[0])

	assert.Nil(t, Clone(nil))
}
