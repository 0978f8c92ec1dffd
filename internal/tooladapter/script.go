package tooladapter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/sandbox"
)

// scriptAdapter runs user code in the Lua sandbox
type scriptAdapter struct {
	base
	opts *options

	script  *sandbox.Script
	runtime *sandbox.Runtime
}

func newScriptAdapter(o *options) *scriptAdapter {
	return &scriptAdapter{base: newBase(TypeScript, o), opts: o}
}

// Initialize implements Adapter. The code is compiled here so syntax errors fail fast.
func (a *scriptAdapter) Initialize(ctx context.Context, cfg Config, secrets map[string]string) error {
	schemas, err := a.prepare(cfg, secrets)
	if err != nil {
		return err
	}
	if cfg.Code == "" {
		return fmt.Errorf("%w: script adapter requires code", ErrInvalidConfig)
	}

	script, err := sandbox.Compile(cfg.Code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	runtime := sandbox.NewRuntime(sandbox.Options{
		Timeout:              cfg.Timeout(sandbox.DefaultTimeout),
		Secrets:              secrets,
		HTTPClient:           a.opts.httpClient,
		MaxRequestsPerSecond: cfg.MaxRequestsPerSecond,
		Logger:               a.logger,
	})
	a.markReady(schemas, func() {
		a.script, a.runtime = script, runtime
	})

	a.logger.Info("Script adapter initialized", zap.Duration("timeout", runtime.Timeout()))
	return nil
}

// Execute implements Adapter
func (a *scriptAdapter) Execute(ctx context.Context, input map[string]any) Result {
	return a.run(ctx, input, a.execute)
}

func (a *scriptAdapter) execute(ctx context.Context, input map[string]any) Result {
	a.mu.RLock()
	script, runtime := a.script, a.runtime
	a.mu.RUnlock()
	if runtime == nil {
		return Failed(ErrDisposed.Error(), nil)
	}

	out := runtime.Run(ctx, script, input)
	if out.Err != nil {
		logs := out.Logs
		if logs == nil {
			logs = []string{}
		}
		return Failed(out.Err.Error(), map[string]any{"logs": logs}).withLogs(out.Logs)
	}
	return Succeeded(out.Value).withLogs(out.Logs)
}

// Dispose implements Adapter; it drops the compiled script and the runtime holding secrets
func (a *scriptAdapter) Dispose() error {
	a.markDisposed(func() {
		a.script, a.runtime = nil, nil
	})
	return nil
}

var _ Adapter = (*scriptAdapter)(nil)
