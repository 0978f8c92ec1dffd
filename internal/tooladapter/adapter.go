// Package tooladapter executes external tools behind one contract:
// REST and GraphQL endpoints, MCP subprocess servers and sandboxed scripts.
package tooladapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Type identifies an adapter variant
type Type string

const (
	TypeREST    Type = "rest"
	TypeGraphQL Type = "graphql"
	TypeMCP     Type = "mcp"
	TypeScript  Type = "script"

	// TypeJavaScript is accepted as an alias of TypeScript
	TypeJavaScript Type = "javascript"
	// TypeBuiltin tools run in-process and never reach this package
	TypeBuiltin Type = "builtin"
)

var (
	ErrUnsupportedType    = errors.New("unsupported adapter type")
	ErrBuiltinType        = errors.New("builtin tools are resolved by the caller")
	ErrInvalidConfig      = errors.New("invalid adapter config")
	ErrNotInitialized     = errors.New("adapter not initialized")
	ErrAlreadyInitialized = errors.New("adapter already initialized")
	ErrDisposed           = errors.New("adapter disposed")
	ErrProcessNotRunning  = errors.New("process not running")
)

// ParseType normalizes aliases and rejects unknown types
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeREST, TypeGraphQL, TypeMCP, TypeScript:
		return t, nil
	case TypeJavaScript:
		return TypeScript, nil
	case TypeBuiltin:
		return "", ErrBuiltinType
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Result is the envelope every Execute call resolves to.
// A failed Result always carries a non-empty Error.
type Result struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Logs    []string `json:"logs,omitempty"`
}

// Succeeded builds a successful Result
func Succeeded(data any) Result {
	return Result{Success: true, Data: data}
}

// Failed builds a failed Result
func Failed(message string, data any) Result {
	if message == "" {
		message = "unknown error"
	}
	return Result{Success: false, Error: message, Data: data}
}

func (r Result) withLogs(logs []string) Result {
	if len(logs) > 0 {
		r.Logs = logs
	}
	return r
}

// Adapter is implemented by every tool variant. Instances are owned by the
// caller that created them; there is no shared registry.
type Adapter interface {
	// Initialize validates cfg, resolves secrets and acquires resources
	Initialize(ctx context.Context, cfg Config, secrets map[string]string) error

	// Execute runs the tool. It never panics and never returns a Go error.
	Execute(ctx context.Context, input map[string]any) Result

	// Dispose releases resources. It is idempotent and safe before Initialize.
	Dispose() error

	Type() Type
}
