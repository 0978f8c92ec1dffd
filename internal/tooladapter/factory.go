package tooladapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/statecore/internal/metrics"
	"github.com/garyjia/statecore/pkg/utils"
)

type options struct {
	logger         *zap.Logger
	httpClient     *http.Client
	metrics        *metrics.Metrics
	requestTimeout time.Duration
}

// Option configures adapters created by New
type Option func(*options)

// WithLogger sets the adapter logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHTTPClient sets the client used by REST, GraphQL and script adapters
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithMetrics records execution counts and latencies
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithRequestTimeout sets the per-request timeout of MCP JSON-RPC calls
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.requestTimeout = d
		}
	}
}

// New creates an uninitialized adapter of type t
func New(t Type, opts ...Option) (Adapter, error) {
	kind, err := ParseType(string(t))
	if err != nil {
		return nil, err
	}

	o := &options{
		logger:         zap.NewNop(),
		requestTimeout: defaultMCPRequestTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.httpClient == nil {
		o.httpClient = utils.NewHTTPClient(0)
	}

	switch kind {
	case TypeREST:
		return newRESTAdapter(o), nil
	case TypeGraphQL:
		return newGraphQLAdapter(o), nil
	case TypeMCP:
		return newMCPAdapter(o), nil
	case TypeScript:
		return newScriptAdapter(o), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, t)
	}
}

// Open creates and initializes an adapter from cfg. On failure nothing is left running.
func Open(ctx context.Context, cfg Config, secrets map[string]string, opts ...Option) (Adapter, error) {
	adapter, err := New(cfg.Type, opts...)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx, cfg, secrets); err != nil {
		if disposeErr := adapter.Dispose(); disposeErr != nil {
			err = errors.Join(err, disposeErr)
		}
		return nil, err
	}
	return adapter, nil
}
