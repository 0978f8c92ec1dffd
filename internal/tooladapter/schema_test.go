package tooladapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestToSchema(t *testing.T) {
	schema, err := ManifestToSchema([]ManifestField{
		{Name: "name", Type: "string", Required: true, Description: "display name"},
		{Name: "count", Type: "integer"},
		{Name: "tags", Type: "array", Items: &ManifestField{Type: "string"}},
		{Name: "mode", Enum: []any{"a", "b"}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "description": "display name"},
			"count": map[string]any{"type": "integer"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"mode":  map[string]any{"type": "string", "enum": []any{"a", "b"}},
		},
		"required": []any{"name"},
	}, schema)
}

func TestManifestToSchema_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields []ManifestField
		want   string
	}{
		{name: "missing name", fields: []ManifestField{{Type: "string"}}, want: "manifest field without name"},
		{name: "unknown type", fields: []ManifestField{{Name: "x", Type: "date"}}, want: `unknown type "date"`},
		{
			name:   "bad items",
			fields: []ManifestField{{Name: "x", Type: "array", Items: &ManifestField{Type: "blob"}}},
			want:   "items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ManifestToSchema(tt.fields)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchemaValidation(t *testing.T) {
	cfg := Config{
		Type: TypeScript,
		Code: "return input.out",
		InputManifest: []ManifestField{
			{Name: "name", Type: "string", Required: true},
		},
		OutputSchema: map[string]any{
			"type":     "object",
			"required": []any{"id"},
		},
	}
	adapter := openAdapter(t, cfg, nil)

	t.Run("input rejected", func(t *testing.T) {
		res := adapter.Execute(context.Background(), map[string]any{})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "input validation failed")
		assert.Contains(t, res.Error, "name is required")
	})

	t.Run("output rejected", func(t *testing.T) {
		res := adapter.Execute(context.Background(), map[string]any{
			"name": "x",
			"out":  map[string]any{"other": 1},
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "output validation failed")
		assert.Contains(t, res.Error, "id is required")
	})

	t.Run("valid", func(t *testing.T) {
		res := adapter.Execute(context.Background(), map[string]any{
			"name": "x",
			"out":  map[string]any{"id": "a1"},
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, map[string]any{"id": "a1"}, res.Data)
	})
}

func TestSchema_ExplicitWinsOverManifest(t *testing.T) {
	adapter := openAdapter(t, Config{
		Type:          TypeScript,
		Code:          "return 1",
		InputSchema:   map[string]any{"type": "object"},
		InputManifest: []ManifestField{{Name: "name", Required: true}},
	}, nil)

	res := adapter.Execute(context.Background(), map[string]any{})

	assert.True(t, res.Success, res.Error)
}

func TestSchema_InvalidSchemaFailsInitialize(t *testing.T) {
	_, err := Open(context.Background(), Config{
		Type:        TypeScript,
		Code:        "return 1",
		InputSchema: map[string]any{"type": 42},
	}, nil)

	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "input schema")
}
