package tooladapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// graphqlAdapter posts {query, variables, operationName} and returns only data
type graphqlAdapter struct {
	base
	opts *options

	endpoint string
	caller   *httpCaller
}

func newGraphQLAdapter(o *options) *graphqlAdapter {
	return &graphqlAdapter{base: newBase(TypeGraphQL, o), opts: o}
}

// Initialize implements Adapter
func (a *graphqlAdapter) Initialize(ctx context.Context, cfg Config, secrets map[string]string) error {
	schemas, err := a.prepare(cfg, secrets)
	if err != nil {
		return err
	}
	endpoint, err := parseEndpoint(cfg.EndpointURL, secrets)
	if err != nil {
		return err
	}
	headers, err := buildHeaders(cfg, secrets)
	if err != nil {
		return err
	}

	caller := &httpCaller{
		client:  a.opts.httpClient,
		headers: headers,
		timeout: cfg.Timeout(defaultHTTPTimeout),
	}
	a.markReady(schemas, func() {
		a.endpoint, a.caller = endpoint.String(), caller
	})

	a.logger.Info("GraphQL adapter initialized", zap.String("endpoint", endpoint.Redacted()))
	return nil
}

// Execute implements Adapter
func (a *graphqlAdapter) Execute(ctx context.Context, input map[string]any) Result {
	return a.run(ctx, input, a.execute)
}

func (a *graphqlAdapter) execute(ctx context.Context, input map[string]any) Result {
	query, err := stringInput(input, "query", "")
	if err != nil {
		return Failed(err.Error(), nil)
	}
	if query == "" {
		return Failed("query is required", nil)
	}

	body := map[string]any{"query": query}
	if v, ok := input["variables"]; ok && v != nil {
		body["variables"] = v
	}
	if op, ok := input["operationName"].(string); ok && op != "" {
		body["operationName"] = op
	}

	a.mu.RLock()
	endpoint, caller := a.endpoint, a.caller
	a.mu.RUnlock()
	if caller == nil {
		return Failed(ErrDisposed.Error(), nil)
	}

	resp, err := caller.do(ctx, http.MethodPost, endpoint, nil, body)
	if err != nil {
		return Failed(err.Error(), nil)
	}
	if !resp.ok() {
		return Failed(resp.statusError(), resp.data)
	}

	payload, ok := resp.data.(map[string]any)
	if !ok {
		return Failed("invalid GraphQL response", resp.data)
	}
	if msgs := graphQLErrors(payload["errors"]); len(msgs) > 0 {
		return Failed("GraphQL errors: "+strings.Join(msgs, ", "), payload["data"])
	}
	return Succeeded(payload["data"])
}

// Dispose implements Adapter
func (a *graphqlAdapter) Dispose() error {
	a.markDisposed(func() {
		a.endpoint, a.caller = "", nil
	})
	return nil
}

func graphQLErrors(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	msgs := make([]string, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if msg, ok := m["message"].(string); ok && msg != "" {
				msgs = append(msgs, msg)
				continue
			}
		}
		msgs = append(msgs, fmt.Sprint(item))
	}
	return msgs
}

var _ Adapter = (*graphqlAdapter)(nil)
