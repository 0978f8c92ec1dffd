package tooladapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"github.com/garyjia/statecore/pkg/utils"
)

// restAdapter calls a JSON HTTP API. Input: {method, path, query, headers, body}.
type restAdapter struct {
	base
	opts *options

	endpoint   *url.URL
	caller     *httpCaller
	resultPath *jmespath.JMESPath
}

func newRESTAdapter(o *options) *restAdapter {
	return &restAdapter{base: newBase(TypeREST, o), opts: o}
}

// Initialize implements Adapter
func (a *restAdapter) Initialize(ctx context.Context, cfg Config, secrets map[string]string) error {
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

	var resultPath *jmespath.JMESPath
	if cfg.ResultPath != "" {
		resultPath, err = jmespath.Compile(cfg.ResultPath)
		if err != nil {
			return fmt.Errorf("%w: result path: %v", ErrInvalidConfig, err)
		}
	}

	caller := &httpCaller{
		client:  a.opts.httpClient,
		headers: headers,
		timeout: cfg.Timeout(defaultHTTPTimeout),
	}
	a.markReady(schemas, func() {
		a.endpoint, a.caller, a.resultPath = endpoint, caller, resultPath
	})

	a.logger.Info("REST adapter initialized",
		zap.String("endpoint", endpoint.Redacted()),
		zap.Duration("timeout", caller.timeout))
	return nil
}

// Execute implements Adapter
func (a *restAdapter) Execute(ctx context.Context, input map[string]any) Result {
	return a.run(ctx, input, a.execute)
}

func (a *restAdapter) execute(ctx context.Context, input map[string]any) Result {
	method, err := stringInput(input, "method", http.MethodGet)
	if err != nil {
		return Failed(err.Error(), nil)
	}
	path, err := stringInput(input, "path", "")
	if err != nil {
		return Failed(err.Error(), nil)
	}
	query, err := stringMapInput(input, "query")
	if err != nil {
		return Failed(err.Error(), nil)
	}
	headers, err := stringMapInput(input, "headers")
	if err != nil {
		return Failed(err.Error(), nil)
	}

	a.mu.RLock()
	endpoint, caller, resultPath := a.endpoint, a.caller, a.resultPath
	a.mu.RUnlock()
	if caller == nil {
		return Failed(ErrDisposed.Error(), nil)
	}

	target := buildURL(endpoint, path, query)
	resp, err := caller.do(ctx, strings.ToUpper(method), target, headers, input["body"])
	if err != nil {
		return Failed(err.Error(), nil)
	}
	if !resp.ok() {
		return Failed(resp.statusError(), resp.data)
	}

	data := resp.data
	if resultPath != nil {
		projected, err := resultPath.Search(data)
		if err != nil {
			return Failed(fmt.Sprintf("result path: %v", err), data)
		}
		data = projected
	}
	return Succeeded(data)
}

func buildURL(endpoint *url.URL, path string, query map[string]string) string {
	u := *endpoint
	if path != "" {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
		u.RawPath = ""
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Dispose implements Adapter; it drops the endpoint and the resolved headers
func (a *restAdapter) Dispose() error {
	a.markDisposed(func() {
		a.endpoint, a.caller, a.resultPath = nil, nil, nil
	})
	return nil
}

func parseEndpoint(raw string, secrets map[string]string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: endpointUrl is required", ErrInvalidConfig)
	}
	resolved, err := utils.InterpolateSecrets(raw, secrets)
	if err != nil {
		return nil, fmt.Errorf("%w: endpointUrl: %v", ErrInvalidConfig, err)
	}
	u, err := url.Parse(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: endpointUrl: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpointUrl must be http or https", ErrInvalidConfig)
	}
	return u, nil
}

var _ Adapter = (*restAdapter)(nil)
