// Package sandbox runs untrusted scripts in an embedded Lua interpreter
// with no filesystem, process or raw network access.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/garyjia/statecore/pkg/utils"
)

const (
	// DefaultTimeout applies when no timeout is configured
	DefaultTimeout = 5 * time.Second
	// MaxTimeout is the hard cap for any script run
	MaxTimeout = 30 * time.Second

	// DefaultRequestsPerSecond limits outbound api.http and api.graphql calls
	DefaultRequestsPerSecond = 10

	maxSleep     = 10 * time.Second
	hookInterval = 1000
	maxLogLines  = 1000
	chunkName    = "=script"

	// maxStringBytes caps string.rep results
	maxStringBytes = 1 << 20
)

// ErrTimeout marks an Outcome whose script exceeded its deadline
var ErrTimeout = errors.New("timed out")

// Globals removed from the base library
var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require",
	"collectgarbage", "rawequal", "rawset", "rawget",
	"setmetatable", "getmetatable",
}

// Script is user code that passed a syntax check
type Script struct {
	source string
}

// Compile wraps code as a function body receiving input and api and checks its syntax.
// The wrapper shares the first line with the code so reported line numbers match.
func Compile(code string) (*Script, error) {
	source := "local input, api = ...; " + code
	l := lua.NewState()
	if err := lua.LoadBuffer(l, source, chunkName, "t"); err != nil {
		return nil, fmt.Errorf("script syntax error: %s", err.Error())
	}
	return &Script{source: source}, nil
}

// Options configures a Runtime
type Options struct {
	Timeout              time.Duration
	Secrets              map[string]string
	HTTPClient           *http.Client
	MaxRequestsPerSecond float64
	Logger               *zap.Logger
}

// Runtime executes compiled scripts. Each Run uses a fresh interpreter,
// so a Runtime may be shared by concurrent callers.
type Runtime struct {
	timeout time.Duration
	secrets map[string]string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRuntime creates a runtime with normalized options
func NewRuntime(opts Options) *Runtime {
	rps := opts.MaxRequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := int(math.Ceil(rps))

	client := opts.HTTPClient
	if client == nil {
		client = utils.NewHTTPClient(MaxTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	secrets := make(map[string]string, len(opts.Secrets))
	for k, v := range opts.Secrets {
		secrets[k] = v
	}

	return &Runtime{
		timeout: NormalizeTimeout(opts.Timeout),
		secrets: secrets,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// NormalizeTimeout applies the default and clamps to MaxTimeout
func NormalizeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// Timeout returns the effective timeout
func (r *Runtime) Timeout() time.Duration {
	return r.timeout
}

// Outcome is the result of one script run
type Outcome struct {
	Value    any
	Logs     []string
	Err      error
	Duration time.Duration
}

// TimedOut reports whether the run was stopped at its deadline
func (o Outcome) TimedOut() bool {
	return errors.Is(o.Err, ErrTimeout)
}

// Run executes s with input. The deadline is enforced here: if the interpreter
// is stuck in a host call, Run still returns when the timeout elapses.
func (r *Runtime) Run(ctx context.Context, s *Script, input map[string]any) Outcome {
	started := time.Now()
	if s == nil {
		return Outcome{Err: errors.New("script not compiled")}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logs := &logBuffer{}
	done := make(chan Outcome, 1)
	go func() {
		done <- r.execute(runCtx, s, input, logs)
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	var out Outcome
	select {
	case out = <-done:
	case <-timer.C:
		cancel()
		out = Outcome{Err: r.timeoutError()}
	case <-ctx.Done():
		cancel()
		out = Outcome{Err: fmt.Errorf("script cancelled: %w", ctx.Err())}
	}

	out.Logs = logs.snapshot()
	out.Duration = time.Since(started)
	if out.TimedOut() {
		r.logger.Warn("Script timed out",
			zap.Duration("timeout", r.timeout),
			zap.Int("log_lines", len(out.Logs)))
	}
	return out
}

func (r *Runtime) timeoutError() error {
	return fmt.Errorf("%w after %dms", ErrTimeout, r.timeout.Milliseconds())
}

func (r *Runtime) execute(ctx context.Context, s *Script, input map[string]any, logs *logBuffer) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome{Err: fmt.Errorf("script error: interpreter panic: %v", p)}
		}
	}()

	deadline := time.Now().Add(r.timeout)
	l := lua.NewState()
	openLibraries(l)

	host := &hostAPI{runtime: r, ctx: ctx, logs: logs}
	l.Register("print", host.log)

	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if ctx.Err() != nil || time.Now().After(deadline) {
			lua.Errorf(l, "execution interrupted")
		}
	}, lua.MaskCount, hookInterval)

	if err := lua.LoadBuffer(l, s.source, chunkName, "t"); err != nil {
		return Outcome{Err: fmt.Errorf("script error: %s", err.Error())}
	}

	if err := pushValue(l, input); err != nil {
		return Outcome{Err: fmt.Errorf("invalid script input: %w", err)}
	}
	host.push(l)

	if err := l.ProtectedCall(2, 1, 0); err != nil {
		if time.Now().After(deadline) {
			return Outcome{Err: r.timeoutError()}
		}
		if ctx.Err() != nil {
			return Outcome{Err: fmt.Errorf("script cancelled: %w", ctx.Err())}
		}
		return Outcome{Err: fmt.Errorf("script error: %s", err.Error())}
	}

	value, err := toGo(l, -1)
	if err != nil {
		return Outcome{Err: fmt.Errorf("script error: return value: %w", err)}
	}
	return Outcome{Value: value}
}

// openLibraries opens the whitelisted standard libraries only
func openLibraries(l *lua.State) {
	libs := []struct {
		name string
		open lua.Function
	}{
		{"_G", lua.BaseOpen},
		{"string", lua.StringOpen},
		{"table", lua.TableOpen},
		{"math", lua.MathOpen},
		{"bit32", lua.Bit32Open},
	}
	for _, lib := range libs {
		lua.Require(l, lib.name, lib.open, true)
		l.Pop(1)
	}

	for _, name := range removedGlobals {
		l.PushNil()
		l.SetGlobal(name)
	}

	l.Global("string")
	l.PushGoFunction(cappedRep)
	l.SetField(-2, "rep")
	l.Pop(1)
}

// cappedRep is string.rep bounded by maxStringBytes; it allocates in a
// single host call, where the instruction hook cannot interrupt it.
func cappedRep(l *lua.State) int {
	s, n, sep := lua.CheckString(l, 1), lua.CheckInteger(l, 2), lua.OptString(l, 3, "")
	if n <= 0 {
		l.PushString("")
		return 1
	}
	unit := len(s) + len(sep)
	if unit > 0 && n > maxStringBytes/unit {
		lua.Errorf(l, "string.rep: result exceeds %d bytes", maxStringBytes)
		return 0
	}
	if sep == "" {
		l.PushString(strings.Repeat(s, n))
		return 1
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	l.PushString(strings.Join(parts, sep))
	return 1
}

// logBuffer collects script log lines; it is shared with the host goroutine
type logBuffer struct {
	mu      sync.Mutex
	lines   []string
	dropped int
}

func (b *logBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) >= maxLogLines {
		b.dropped++
		return
	}
	b.lines = append(b.lines, line)
}

func (b *logBuffer) snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines), len(b.lines)+1)
	copy(out, b.lines)
	if b.dropped > 0 {
		out = append(out, fmt.Sprintf("... %d log lines dropped", b.dropped))
	}
	return out
}
