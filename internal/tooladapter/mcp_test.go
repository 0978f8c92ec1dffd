package tooladapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "STATECORE_MCP_HELPER"

// TestMain doubles as an MCP stdio server when the helper variable is set
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "serve":
		os.Exit(serveHelper())
	case "exit":
		fmt.Fprintln(os.Stderr, "mcp helper refusing to start")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func serveHelper() int {
	fmt.Fprintln(os.Stderr, "mcp helper started")

	s := server.NewMCPServer("helper", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("echo", mcp.WithString("text")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := json.Marshal(req.GetArguments())
			if err != nil {
				return nil, err
			}
			return mcp.NewToolResultText(string(raw)), nil
		})
	s.AddTool(mcp.NewTool("greet", mcp.WithString("name")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, _ := req.GetArguments()["name"].(string)
			return mcp.NewToolResultText("hello " + name), nil
		})
	s.AddTool(mcp.NewTool("fail"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("something broke"), nil
		})
	s.AddTool(mcp.NewTool("slow", mcp.WithNumber("ms")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			ms, _ := req.GetArguments()["ms"].(float64)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return mcp.NewToolResultText(`"done"`), nil
		})
	s.AddTool(mcp.NewTool("crash"),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			fmt.Fprintln(os.Stderr, "crashing")
			os.Exit(3)
			return nil, nil
		})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperConfig(mode string) Config {
	return Config{
		Type:    TypeMCP,
		Command: os.Args[0],
		Env:     map[string]string{helperEnv: mode},
	}
}

func TestMCP_ToolCalls(t *testing.T) {
	adapter := openAdapter(t, helperConfig("serve"), nil)

	tests := []struct {
		name     string
		input    map[string]any
		wantOK   bool
		wantData any
		wantErr  string
	}{
		{
			name:     "json text is decoded",
			input:    map[string]any{"tool": "echo", "arguments": map[string]any{"text": "hi"}},
			wantOK:   true,
			wantData: map[string]any{"text": "hi"},
		},
		{
			name:     "plain text",
			input:    map[string]any{"tool": "greet", "arguments": map[string]any{"name": "ada"}},
			wantOK:   true,
			wantData: "hello ada",
		},
		{
			name:    "tool error",
			input:   map[string]any{"tool": "fail"},
			wantErr: "something broke",
		},
		{
			name:    "unknown tool",
			input:   map[string]any{"tool": "nope"},
			wantErr: "unknown tool: nope",
		},
		{
			name:    "missing tool",
			input:   map[string]any{},
			wantErr: "tool is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := adapter.Execute(context.Background(), tt.input)

			assert.Equal(t, tt.wantOK, res.Success)
			assert.Equal(t, tt.wantErr, res.Error)
			if tt.wantOK {
				assert.Equal(t, tt.wantData, res.Data)
			}
		})
	}
}

func TestMCP_ListsTools(t *testing.T) {
	adapter := openAdapter(t, helperConfig("serve"), nil)

	mcpA, ok := adapter.(*mcpAdapter)
	require.True(t, ok)
	assert.Equal(t, []string{"crash", "echo", "fail", "greet", "slow"}, mcpA.Tools())
}

func TestMCP_AllowedToolsFilter(t *testing.T) {
	cfg := helperConfig("serve")
	cfg.AllowedTools = []string{"echo"}
	adapter := openAdapter(t, cfg, nil)

	res := adapter.Execute(context.Background(), map[string]any{"tool": "greet"})
	assert.False(t, res.Success)
	assert.Equal(t, "unknown tool: greet", res.Error)

	res = adapter.Execute(context.Background(), map[string]any{"tool": "echo"})
	assert.True(t, res.Success, res.Error)
}

func TestMCP_StderrBecomesLogs(t *testing.T) {
	adapter := openAdapter(t, helperConfig("serve"), nil)

	require.Eventually(t, func() bool {
		res := adapter.Execute(context.Background(), map[string]any{"tool": "echo"})
		return res.Success && slices.Contains(res.Logs, "mcp helper started")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestMCP_RequestTimeout(t *testing.T) {
	adapter := openAdapter(t, helperConfig("serve"), nil, WithRequestTimeout(300*time.Millisecond))

	start := time.Now()
	res := adapter.Execute(context.Background(), map[string]any{
		"tool":      "slow",
		"arguments": map[string]any{"ms": 1000},
	})

	assert.False(t, res.Success)
	assert.Equal(t, "request tools/call timed out after 300ms", res.Error)
	assert.Less(t, time.Since(start), time.Second)

	// The server stays usable once it catches up
	require.Eventually(t, func() bool {
		return adapter.Execute(context.Background(), map[string]any{"tool": "echo"}).Success
	}, 3*time.Second, 50*time.Millisecond)
}

func TestMCP_ProcessCrash(t *testing.T) {
	adapter := openAdapter(t, helperConfig("serve"), nil)

	res := adapter.Execute(context.Background(), map[string]any{"tool": "crash"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrProcessNotRunning.Error(), res.Error)

	res = adapter.Execute(context.Background(), map[string]any{"tool": "echo"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrProcessNotRunning.Error(), res.Error)
	assert.Contains(t, res.Logs, "crashing")

	assert.NoError(t, adapter.Dispose())
}

func TestMCP_InitializeFailures(t *testing.T) {
	t.Run("missing command", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Type: TypeMCP}, nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("command not found", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Type: TypeMCP, Command: "/nonexistent/mcp-server"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start command")
	})

	t.Run("server exits during handshake", func(t *testing.T) {
		_, err := Open(context.Background(), helperConfig("exit"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "initialize request failed")
	})

	t.Run("unknown env secret", func(t *testing.T) {
		cfg := helperConfig("serve")
		cfg.Env["TOKEN"] = "{{MISSING}}"
		_, err := Open(context.Background(), cfg, nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "MISSING")
	})
}

func TestMCP_DisposeStopsProcess(t *testing.T) {
	adapter, err := Open(context.Background(), helperConfig("serve"), nil)
	require.NoError(t, err)
	mcpA := adapter.(*mcpAdapter)

	require.NoError(t, adapter.Dispose())
	assert.False(t, mcpA.alive())
	require.NoError(t, adapter.Dispose())

	res := adapter.Execute(context.Background(), map[string]any{"tool": "echo"})
	assert.False(t, res.Success)
	assert.Equal(t, ErrDisposed.Error(), res.Error)
}

func TestMinimalEnv(t *testing.T) {
	t.Setenv("PATH", "/bin")
	t.Setenv("SHOULD_NOT_LEAK", "x")

	env := minimalEnv(map[string]string{"B": "2", "A": "1"})

	assert.Equal(t, []string{"PATH=/bin", "A=1", "B=2"}, env)
}
