package tooladapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/metrics"
)

// base carries the lifecycle and error containment shared by all variants
type base struct {
	kind    Type
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	ready    bool
	disposed bool
	schemas  *schemaSet
}

func newBase(kind Type, o *options) base {
	return base{
		kind:    kind,
		logger:  o.logger.With(zap.String("adapter_type", string(kind))),
		metrics: o.metrics,
	}
}

// Type implements Adapter
func (b *base) Type() Type {
	return b.kind
}

// prepare checks lifecycle state and compiles schemas before variant setup
func (b *base) prepare(cfg Config, secrets map[string]string) (*schemaSet, error) {
	b.mu.RLock()
	ready, disposed := b.ready, b.disposed
	b.mu.RUnlock()

	if disposed {
		return nil, ErrDisposed
	}
	if ready {
		return nil, ErrAlreadyInitialized
	}
	if err := checkSecretRefs(cfg, secrets); err != nil {
		return nil, err
	}
	return compileSchemas(cfg)
}

// markReady installs variant state and flips ready under one lock
func (b *base) markReady(schemas *schemaSet, install ...func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, fn := range install {
		fn()
	}
	b.schemas = schemas
	b.ready = true
}

// markDisposed reports whether this call performed the transition. release
// runs under the same lock, so executes snapshotting state see all or nothing.
func (b *base) markDisposed(release ...func()) (first bool, wasReady bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return false, false
	}
	b.disposed = true
	wasReady = b.ready
	b.ready = false
	b.schemas = nil
	for _, fn := range release {
		fn()
	}
	return true, wasReady
}

// run wraps a variant's execute with panic recovery, schema checks and metrics
func (b *base) run(ctx context.Context, input map[string]any, fn func(context.Context, map[string]any) Result) (res Result) {
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("Adapter panicked during execute", zap.Any("panic", p))
			res = Failed(fmt.Sprintf("adapter panic: %v", p), nil)
		}
		if !res.Success && res.Error == "" {
			res.Error = "unknown error"
		}
		b.metrics.ObserveAdapter(string(b.kind), res.Success, time.Since(started))
	}()

	b.mu.RLock()
	ready, disposed, schemas := b.ready, b.disposed, b.schemas
	b.mu.RUnlock()

	if disposed {
		return Failed(ErrDisposed.Error(), nil)
	}
	if !ready {
		return Failed(ErrNotInitialized.Error(), nil)
	}
	if input == nil {
		input = map[string]any{}
	}
	if err := schemas.validateInput(input); err != nil {
		return Failed(err.Error(), nil)
	}

	res = fn(ctx, input)

	if res.Success {
		if err := schemas.validateOutput(res.Data); err != nil {
			return Failed(err.Error(), res.Data).withLogs(res.Logs)
		}
	} else {
		b.logger.Debug("Tool execution failed", zap.String("error", res.Error))
	}
	return res
}
