package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/google/uuid"

	"github.com/garyjia/statecore/pkg/utils"
)

const maxResponseBytes = 10 << 20

// hostAPI backs the api table handed to scripts. Every function here is
// reachable from untrusted code, so nothing outside this list is exposed.
type hostAPI struct {
	runtime *Runtime
	ctx     context.Context
	logs    *logBuffer
}

func (h *hostAPI) push(l *lua.State) {
	l.NewTable()
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "http", Function: h.http},
		{Name: "graphql", Function: h.graphql},
		{Name: "log", Function: h.log},
		{Name: "sleep", Function: h.sleep},
		{Name: "secret", Function: h.secret},
		{Name: "timestamp", Function: h.timestamp},
		{Name: "now", Function: h.now},
		{Name: "uuid", Function: h.uuid},
	}, 0)
}

// log joins its arguments with tabs, like print
func (h *hostAPI) log(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, formatLogArg(l, i))
	}
	h.logs.append(strings.Join(parts, "\t"))
	return 0
}

func formatLogArg(l *lua.State, index int) string {
	switch l.TypeOf(index) {
	case lua.TypeNil, lua.TypeNone:
		return "nil"
	case lua.TypeTable:
		v, err := toGo(l, index)
		if err != nil {
			return fmt.Sprintf("<table: %s>", err.Error())
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "<table>"
		}
		return string(raw)
	default:
		v, _ := toGo(l, index)
		return fmt.Sprint(v)
	}
}

func (h *hostAPI) sleep(l *lua.State) int {
	ms := lua.CheckNumber(l, 1)
	d := time.Duration(ms * float64(time.Millisecond))
	if d < 0 {
		d = 0
	}
	if d > maxSleep {
		d = maxSleep
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return 0
	case <-h.ctx.Done():
		lua.Errorf(l, "sleep interrupted")
		return 0
	}
}

func (h *hostAPI) secret(l *lua.State) int {
	key := lua.CheckString(l, 1)
	if value, ok := h.runtime.secrets[key]; ok {
		l.PushString(value)
	} else {
		l.PushNil()
	}
	return 1
}

func (h *hostAPI) timestamp(l *lua.State) int {
	l.PushString(time.Now().UTC().Format(time.RFC3339))
	return 1
}

func (h *hostAPI) now(l *lua.State) int {
	l.PushInteger(int(time.Now().UnixMilli()))
	return 1
}

func (h *hostAPI) uuid(l *lua.State) int {
	l.PushString(uuid.NewString())
	return 1
}

// httpRequest is the table accepted by api.http
type httpRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    any
}

// http performs one outbound request: api.http{method, url, headers, query, body}
func (h *hostAPI) http(l *lua.State) int {
	lua.CheckType(l, 1, lua.TypeTable)
	opts, ok := checkGo(l, 1, "api.http").(map[string]any)
	if !ok {
		lua.ArgumentError(l, 1, "options table expected")
		return 0
	}

	req := httpRequest{
		Method:  strings.ToUpper(stringOr(opts["method"], http.MethodGet)),
		URL:     stringOr(opts["url"], ""),
		Headers: stringMap(opts["headers"]),
		Query:   stringMap(opts["query"]),
		Body:    opts["body"],
	}
	if req.URL == "" {
		lua.Errorf(l, "api.http: url is required")
		return 0
	}

	resp, err := h.do(req)
	if err != nil {
		lua.Errorf(l, "api.http: %s", err.Error())
		return 0
	}

	mustPush(l, map[string]any{
		"status":  resp.status,
		"ok":      resp.status >= 200 && resp.status < 300,
		"body":    resp.body,
		"data":    resp.data,
		"headers": resp.headers,
	}, "api.http")
	return 1
}

// graphql posts a query: api.graphql(url, query, variables) returns data
func (h *hostAPI) graphql(l *lua.State) int {
	endpoint := lua.CheckString(l, 1)
	query := lua.CheckString(l, 2)
	var variables any
	if !l.IsNoneOrNil(3) {
		variables = checkGo(l, 3, "api.graphql")
	}

	resp, err := h.do(httpRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Body:   map[string]any{"query": query, "variables": variables},
	})
	if err != nil {
		lua.Errorf(l, "api.graphql: %s", err.Error())
		return 0
	}
	if resp.status < 200 || resp.status >= 300 {
		lua.Errorf(l, "HTTP %d: %s", resp.status, http.StatusText(resp.status))
		return 0
	}

	payload, _ := resp.data.(map[string]any)
	if msgs := graphQLErrorMessages(payload["errors"]); len(msgs) > 0 {
		lua.Errorf(l, "GraphQL errors: %s", strings.Join(msgs, ", "))
		return 0
	}

	mustPush(l, payload["data"], "api.graphql")
	return 1
}

// interpolateValue resolves secret placeholders in every string leaf of v,
// so substituted values are escaped when the body is encoded.
func interpolateValue(v any, secrets map[string]string) (any, error) {
	switch val := v.(type) {
	case string:
		resolved, err := utils.InterpolateSecrets(val, secrets)
		if err != nil {
			return nil, err
		}
		return resolved, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := interpolateValue(item, secrets)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := interpolateValue(item, secrets)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

type httpResponse struct {
	status  int
	body    string
	data    any
	headers map[string]string
}

func (h *hostAPI) do(r httpRequest) (*httpResponse, error) {
	secrets := h.runtime.secrets

	rawURL, err := utils.InterpolateSecrets(r.URL, secrets)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, v := range r.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	headers, err := utils.InterpolateSecretsMap(r.Headers, secrets)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	contentType := ""
	switch b := r.Body.(type) {
	case nil:
	case string:
		resolved, err := utils.InterpolateSecrets(b, secrets)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(resolved)
	default:
		resolved, err := interpolateValue(b, secrets)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	if err := h.runtime.limiter.Wait(h.ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(h.ctx, r.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.runtime.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	out := &httpResponse{
		status:  resp.StatusCode,
		body:    string(raw),
		headers: make(map[string]string, len(resp.Header)),
	}
	for k := range resp.Header {
		out.headers[strings.ToLower(k)] = resp.Header.Get(k)
	}
	var data any
	if len(raw) > 0 && json.Unmarshal(raw, &data) == nil {
		out.data = data
	}
	return out, nil
}

func graphQLErrorMessages(v any) []string {
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

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func stringMap(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
