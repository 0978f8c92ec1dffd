//go:build unix

package tooladapter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Shell wrappers like npx or uvx leave helpers holding the server's pipes.

func TestMCP_WrappedHandshakeTimeoutIsBounded(t *testing.T) {
	cfg := Config{Type: TypeMCP, Command: "/bin/sh", Args: []string{"-c", "sleep 8 & exec sleep 8"}}

	start := time.Now()
	_, err := Open(context.Background(), cfg, nil, WithRequestTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize request failed")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestMCP_WrappedServerLifecycle(t *testing.T) {
	cfg := Config{
		Type:    TypeMCP,
		Command: "/bin/sh",
		Args:    []string{"-c", `sleep 30 & exec "$HELPER_BIN"`},
		Env:     map[string]string{helperEnv: "serve", "HELPER_BIN": os.Args[0]},
	}
	adapter, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	mcpA := adapter.(*mcpAdapter)

	res := adapter.Execute(context.Background(), map[string]any{"tool": "greet", "arguments": map[string]any{"name": "ada"}})
	require.True(t, res.Success, res.Error)

	start := time.Now()
	require.NoError(t, adapter.Dispose())
	assert.Less(t, time.Since(start), mcpExitGrace+time.Second)
	assert.False(t, mcpA.alive())
}

func TestMCP_DirectChildExitInvalidatesAdapter(t *testing.T) {
	adapter, err := New(TypeMCP)
	require.NoError(t, err)
	mcpA := adapter.(*mcpAdapter)

	require.NoError(t, mcpA.start("/bin/sh", []string{"-c", "sleep 8 & exit 0"}, nil))
	require.Eventually(t, func() bool { return !mcpA.alive() }, 2*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		mcpA.kill()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("kill blocked on a lingering helper")
	}
}
