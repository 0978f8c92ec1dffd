package tooladapter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr error
	}{
		{in: "rest", want: TypeREST},
		{in: " GraphQL ", want: TypeGraphQL},
		{in: "mcp", want: TypeMCP},
		{in: "script", want: TypeScript},
		{in: "javascript", want: TypeScript},
		{in: "builtin", wantErr: ErrBuiltinType},
		{in: "soap", wantErr: ErrUnsupportedType},
		{in: "", wantErr: ErrUnsupportedType},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{
		"type":       "javascript",
		"code":       "return 1",
		"timeoutMs":  "250",
		"secretRefs": []any{"TOKEN"},
		"headers":    map[string]any{"X-A": "b"},
		"auth":       map[string]any{"type": "bearer", "prefix": "Token"},
		"inputManifest": []any{
			map[string]any{"name": "id", "type": "string", "required": true},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, TypeScript, cfg.Type)
	assert.Equal(t, "return 1", cfg.Code)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout(time.Second))
	assert.Equal(t, []string{"TOKEN"}, cfg.SecretRefs)
	assert.Equal(t, map[string]string{"X-A": "b"}, cfg.Headers)
	assert.Equal(t, AuthConfig{Type: AuthBearer, Prefix: "Token"}, cfg.Auth)
	require.Len(t, cfg.InputManifest, 1)
	assert.True(t, cfg.InputManifest[0].Required)
}

func TestConfigFromMap_Errors(t *testing.T) {
	_, err := ConfigFromMap(map[string]any{"type": "rest", "endpoint": "x"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ConfigFromMap(map[string]any{"type": "builtin"})
	require.ErrorIs(t, err, ErrBuiltinType)
}

func TestConfig_TimeoutDefault(t *testing.T) {
	assert.Equal(t, 3*time.Second, Config{}.Timeout(3*time.Second))
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
type: mcp
command: /usr/local/bin/server
args: ["--stdio"]
env:
  API_TOKEN: "{{TOKEN}}"
allowedTools: [search]
`), 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, TypeMCP, cfg.Type)
	assert.Equal(t, "/usr/local/bin/server", cfg.Command)
	assert.Equal(t, []string{"--stdio"}, cfg.Args)
	assert.Equal(t, map[string]string{"API_TOKEN": "{{TOKEN}}"}, cfg.Env)
	assert.Equal(t, []string{"search"}, cfg.AllowedTools)
}

func TestLoadConfigFile_Missing(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read tool config")
}
