package tooladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 10 << 20

// httpCaller performs JSON requests with a per-call deadline
type httpCaller struct {
	client  *http.Client
	headers map[string]string
	timeout time.Duration
}

type httpResponse struct {
	status int
	data   any
}

func (c *httpCaller) do(ctx context.Context, method, url string, headers map[string]string, body any) (*httpResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("request timed out after %dms", c.timeout.Milliseconds())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &httpResponse{status: resp.StatusCode, data: decodeBody(raw)}, nil
}

func (r *httpResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *httpResponse) statusError() string {
	return fmt.Sprintf("HTTP %d: %s", r.status, http.StatusText(r.status))
}

// decodeBody returns parsed JSON, the raw text when it is not JSON, or nil when empty
func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	var data any
	if err := json.Unmarshal(trimmed, &data); err == nil {
		return data
	}
	return string(raw)
}

// stringMapInput reads an optional map[string]any input field as strings
func stringMapInput(input map[string]any, key string) (map[string]string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		if sm, ok := v.(map[string]string); ok {
			return sm, nil
		}
		return nil, fmt.Errorf("%s must be an object", key)
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out, nil
}

func stringInput(input map[string]any, key, def string) (string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}
