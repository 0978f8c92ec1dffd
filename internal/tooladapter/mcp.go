package tooladapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/statecore/pkg/utils"
)

const (
	mcpProtocolVersion       = "2025-06-18"
	defaultMCPRequestTimeout = 30 * time.Second
	mcpShutdownTimeout       = 500 * time.Millisecond
	mcpExitGrace             = 2 * time.Second
	maxStderrLines           = 100
)

// rpcMessage is a JSON-RPC 2.0 request, response or notification
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// mcpTool is a tool advertised by the server
type mcpTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type mcpContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type mcpCallResult struct {
	Content           []mcpContent `json:"content"`
	StructuredContent any          `json:"structuredContent,omitempty"`
	IsError           bool         `json:"isError,omitempty"`
}

// mcpAdapter speaks newline-delimited JSON-RPC to a child process.
// Input: {tool, arguments}.
type mcpAdapter struct {
	base
	opts *options

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan rpcReply

	exited chan struct{}

	stderr *lineRing
	tools  map[string]mcpTool
}

func newMCPAdapter(o *options) *mcpAdapter {
	return &mcpAdapter{
		base:    newBase(TypeMCP, o),
		opts:    o,
		pending: make(map[int64]chan rpcReply),
		stderr:  newLineRing(maxStderrLines),
	}
}

// Initialize spawns the server, performs the handshake and lists tools once
func (a *mcpAdapter) Initialize(ctx context.Context, cfg Config, secrets map[string]string) error {
	schemas, err := a.prepare(cfg, secrets)
	if err != nil {
		return err
	}
	if cfg.Command == "" {
		return fmt.Errorf("%w: mcp adapter requires command", ErrInvalidConfig)
	}
	env, err := utils.InterpolateSecretsMap(cfg.Env, secrets)
	if err != nil {
		return fmt.Errorf("%w: env: %v", ErrInvalidConfig, err)
	}

	if err := a.start(cfg.Command, cfg.Args, env); err != nil {
		return err
	}

	if err := a.handshake(ctx, cfg.AllowedTools); err != nil {
		a.kill()
		return err
	}

	a.markReady(schemas)
	a.logger.Info("MCP adapter initialized",
		zap.String("command", cfg.Command),
		zap.Int("tools", len(a.tools)))
	return nil
}

func (a *mcpAdapter) start(command string, args []string, env map[string]string) error {
	cmd := exec.Command(command, args...)
	cmd.Env = minimalEnv(env)
	ownProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// Plain pipes instead of StdoutPipe: Wait must not depend on the read
	// side reaching EOF, which a lingering grandchild can hold off forever.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	closeAll(stdoutW, stderrW)
	if startErr != nil {
		closeAll(stdoutR, stderrR)
		return fmt.Errorf("failed to start command: %w", startErr)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.exited = make(chan struct{})

	go func() {
		defer stdoutR.Close()
		a.readLoop(stdoutR)
	}()
	go func() {
		defer stderrR.Close()
		a.stderrLoop(stderrR)
	}()

	go func() {
		err := cmd.Wait()
		close(a.exited)
		a.failPending(ErrProcessNotRunning)
		a.logger.Info("MCP server process exited", zap.Error(err))
	}()

	return nil
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// minimalEnv passes PATH and the configured variables only
func minimalEnv(env map[string]string) []string {
	out := []string{"PATH=" + os.Getenv("PATH")}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func (a *mcpAdapter) handshake(ctx context.Context, allowed []string) error {
	initParams := map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "statecore", "version": "1.0.0"},
	}
	if _, err := a.request(ctx, "initialize", initParams, a.opts.requestTimeout); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	if err := a.notify("notifications/initialized"); err != nil {
		return fmt.Errorf("initialized notification failed: %w", err)
	}

	raw, err := a.request(ctx, "tools/list", map[string]any{}, a.opts.requestTimeout)
	if err != nil {
		return fmt.Errorf("tools/list request failed: %w", err)
	}
	var listed struct {
		Tools []mcpTool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return fmt.Errorf("invalid tools/list response: %w", err)
	}

	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}
	a.tools = make(map[string]mcpTool, len(listed.Tools))
	for _, tool := range listed.Tools {
		if len(allow) > 0 && !allow[tool.Name] {
			continue
		}
		a.tools[tool.Name] = tool
	}
	return nil
}

// Tools returns the names of the callable tools, sorted
func (a *mcpAdapter) Tools() []string {
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute implements Adapter
func (a *mcpAdapter) Execute(ctx context.Context, input map[string]any) Result {
	return a.run(ctx, input, a.execute)
}

func (a *mcpAdapter) execute(ctx context.Context, input map[string]any) Result {
	name, err := stringInput(input, "tool", "")
	if err != nil {
		return Failed(err.Error(), nil)
	}
	if name == "" {
		return Failed("tool is required", nil)
	}
	if !a.alive() {
		return Failed(ErrProcessNotRunning.Error(), nil).withLogs(a.stderr.snapshot())
	}
	if _, ok := a.tools[name]; !ok {
		return Failed(fmt.Sprintf("unknown tool: %s", name), nil)
	}

	arguments := input["arguments"]
	if arguments == nil {
		arguments = map[string]any{}
	}

	raw, err := a.request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	}, a.opts.requestTimeout)
	if err != nil {
		return Failed(err.Error(), nil).withLogs(a.stderr.snapshot())
	}

	var result mcpCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return Failed(fmt.Sprintf("invalid tools/call response: %v", err), nil)
	}

	text := joinText(result.Content)
	if result.IsError {
		if text == "" {
			text = fmt.Sprintf("tool %s failed", name)
		}
		return Failed(text, nil).withLogs(a.stderr.snapshot())
	}

	var data any
	switch {
	case result.StructuredContent != nil:
		data = result.StructuredContent
	case text != "":
		var decoded any
		if json.Unmarshal([]byte(text), &decoded) == nil {
			data = decoded
		} else {
			data = text
		}
	}
	return Succeeded(data).withLogs(a.stderr.snapshot())
}

func joinText(content []mcpContent) string {
	var parts []string
	for _, c := range content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// request sends one JSON-RPC call. A timeout drops the pending entry and
// leaves the process running; a process exit fails every pending call.
func (a *mcpAdapter) request(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if !a.alive() {
		return nil, ErrProcessNotRunning
	}

	id := a.nextID.Add(1)
	reply := make(chan rpcReply, 1)

	a.pendingMu.Lock()
	a.pending[id] = reply
	a.pendingMu.Unlock()
	defer a.dropPending(id)
	if !a.alive() {
		return nil, ErrProcessNotRunning
	}

	rawID, _ := json.Marshal(id)
	if err := a.write(rpcMessage{JSONRPC: "2.0", ID: rawID, Method: method, Params: params}); err != nil {
		if !a.alive() {
			return nil, ErrProcessNotRunning
		}
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-reply:
		return r.result, r.err
	case <-timer.C:
		a.logger.Warn("MCP request timed out",
			zap.String("method", method),
			zap.Int64("id", id),
			zap.Duration("timeout", timeout))
		return nil, fmt.Errorf("request %s timed out after %s", method, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *mcpAdapter) notify(method string) error {
	return a.write(rpcMessage{JSONRPC: "2.0", Method: method})
}

func (a *mcpAdapter) write(msg rpcMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.stdin == nil {
		return ErrProcessNotRunning
	}
	if _, err := a.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write to stdin: %w", err)
	}
	return nil
}

func (a *mcpAdapter) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var msg rpcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			a.logger.Warn("MCP server wrote invalid JSON", zap.Error(err))
			continue
		}
		a.handleMessage(&msg)
	}
	if err := scanner.Err(); err != nil {
		a.logger.Warn("MCP stdout read failed", zap.Error(err))
	}
}

func (a *mcpAdapter) handleMessage(msg *rpcMessage) {
	hasID := len(msg.ID) > 0 && string(msg.ID) != "null"

	switch {
	case msg.Method == "" && hasID:
		var id int64
		if err := json.Unmarshal(msg.ID, &id); err != nil {
			a.logger.Warn("MCP response with non-numeric id", zap.String("id", string(msg.ID)))
			return
		}
		a.pendingMu.Lock()
		reply, ok := a.pending[id]
		delete(a.pending, id)
		a.pendingMu.Unlock()
		if !ok {
			// Late reply to a request that already timed out
			return
		}
		if msg.Error != nil {
			reply <- rpcReply{err: msg.Error}
		} else {
			reply <- rpcReply{result: msg.Result}
		}

	case msg.Method != "" && hasID:
		// Server-initiated requests (sampling, roots) are not supported
		_ = a.write(rpcMessage{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error:   &rpcError{Code: -32601, Message: "method not found"},
		})

	default:
		a.logger.Debug("MCP notification", zap.String("method", msg.Method))
	}
}

func (a *mcpAdapter) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		a.stderr.add(scanner.Text())
	}
}

func (a *mcpAdapter) dropPending(id int64) {
	a.pendingMu.Lock()
	delete(a.pending, id)
	a.pendingMu.Unlock()
}

func (a *mcpAdapter) failPending(err error) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	for id, reply := range a.pending {
		reply <- rpcReply{err: err}
		delete(a.pending, id)
	}
}

func (a *mcpAdapter) alive() bool {
	if a.exited == nil {
		return false
	}
	select {
	case <-a.exited:
		return false
	default:
		return true
	}
}

// Dispose asks the server to shut down, closes stdin, then kills it if it lingers
func (a *mcpAdapter) Dispose() error {
	first, _ := a.markDisposed()
	if !first || a.cmd == nil {
		return nil
	}

	if a.alive() {
		_, _ = a.request(context.Background(), "shutdown", nil, mcpShutdownTimeout)
	}
	a.closeStdin()

	select {
	case <-a.exited:
	case <-time.After(mcpExitGrace):
		a.logger.Warn("MCP server did not exit, killing")
		a.kill()
	}
	// Reap helpers the server left behind in its group
	_ = killProcessGroup(a.cmd)

	a.failPending(ErrDisposed)
	return nil
}

func (a *mcpAdapter) closeStdin() {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.stdin != nil {
		_ = a.stdin.Close()
		a.stdin = nil
	}
}

// kill terminates the process group and waits until the server has been reaped
func (a *mcpAdapter) kill() {
	if a.cmd == nil || a.cmd.Process == nil {
		return
	}
	a.closeStdin()
	if err := killProcessGroup(a.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
		a.logger.Warn("Failed to kill MCP server", zap.Error(err))
	}
	<-a.exited
}

// lineRing keeps the most recent lines
type lineRing struct {
	mu    sync.Mutex
	lines []string
	limit int
}

func newLineRing(limit int) *lineRing {
	return &lineRing{limit: limit}
}

func (r *lineRing) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.limit {
		r.lines = r.lines[len(r.lines)-r.limit:]
	}
}

func (r *lineRing) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		return nil
	}
	return append([]string(nil), r.lines...)
}

var _ Adapter = (*mcpAdapter)(nil)
