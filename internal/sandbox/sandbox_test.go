package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, code string, input map[string]any, opts Options) Outcome {
	t.Helper()
	script, err := Compile(code)
	require.NoError(t, err)
	return NewRuntime(opts).Run(context.Background(), script, input)
}

func TestRun_ReturnsValues(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		input map[string]any
		want  any
	}{
		{name: "addition", code: "return input.a + input.b", input: map[string]any{"a": 2, "b": 3}, want: int64(5)},
		{name: "float", code: "return input.x / 2", input: map[string]any{"x": 3}, want: 1.5},
		{name: "string", code: `return string.upper(input.name)`, input: map[string]any{"name": "ada"}, want: "ADA"},
		{name: "nil", code: "return nil", want: nil},
		{name: "no return", code: "local x = 1", want: nil},
		{name: "array", code: "return {1, 2, 3}", want: []any{int64(1), int64(2), int64(3)}},
		{
			name: "object",
			code: `return {name = "x", tags = {"a"}, nested = {ok = true}}`,
			want: map[string]any{"name": "x", "tags": []any{"a"}, "nested": map[string]any{"ok": true}},
		},
		{
			name:  "input arrays round trip",
			code:  "local out = {} for i, v in ipairs(input.items) do out[i] = v * 10 end return out",
			input: map[string]any{"items": []any{1, 2}},
			want:  []any{int64(10), int64(20)},
		},
		{name: "sparse table is an object", code: "return {[1] = 'a', [3] = 'c'}", want: map[string]any{"1": "a", "3": "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.code, tt.input, Options{})
			require.NoError(t, out.Err)
			assert.Equal(t, tt.want, out.Value)
		})
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("return (")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "script syntax error")
}

func TestRun_RuntimeError(t *testing.T) {
	out := run(t, `error("boom")`, nil, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "script error:")
	assert.Contains(t, out.Err.Error(), "boom")
	assert.False(t, out.TimedOut())
}

func TestRun_RestrictedGlobals(t *testing.T) {
	code := `
		local hidden = {os, io, package, debug, require, load, loadstring, dofile, loadfile,
			collectgarbage, rawequal, rawset, rawget, setmetatable, getmetatable}
		for _, v in pairs(hidden) do return false end
		return type(string.format) == "function" and type(table.insert) == "function"
			and type(math.floor) == "function" and type(bit32.band) == "function"
			and type(pairs) == "function" and type(pcall) == "function"
	`
	out := run(t, code, nil, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, true, out.Value)
}

func TestRun_LogsAndPrint(t *testing.T) {
	code := `
		print("hello", 1)
		api.log("data", {a = 1})
		api.log(nil, true)
		return "done"
	`
	out := run(t, code, nil, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"hello\t1", `data` + "\t" + `{"a":1}`, "nil\ttrue"}, out.Logs)
}

func TestRun_TimeoutInBusyLoop(t *testing.T) {
	start := time.Now()
	out := run(t, `api.log("starting") while true do end`, nil, Options{Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	require.Error(t, out.Err)
	assert.True(t, out.TimedOut())
	assert.Equal(t, "timed out after 100ms", out.Err.Error())
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, []string{"starting"}, out.Logs)
}

func TestRun_TimeoutDuringSleep(t *testing.T) {
	start := time.Now()
	out := run(t, `api.log("before") api.sleep(5000) return 1`, nil, Options{Timeout: 100 * time.Millisecond})
	elapsed := time.Since(start)

	assert.True(t, out.TimedOut())
	assert.Contains(t, out.Err.Error(), "timed out")
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, []string{"before"}, out.Logs)
}

func TestRun_ContextCancellation(t *testing.T) {
	script, err := Compile(`api.sleep(5000) return 1`)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	out := NewRuntime(Options{Timeout: 5 * time.Second}).Run(ctx, script, nil)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "cancelled")
	assert.False(t, out.TimedOut())
}

func TestRun_HelperFunctions(t *testing.T) {
	code := `return {
		secret = api.secret("TOKEN"),
		missing = api.secret("NOPE") == nil,
		ts = api.timestamp(),
		now = api.now(),
		id = api.uuid(),
	}`
	out := run(t, code, nil, Options{Secrets: map[string]string{"TOKEN": "abc"}})
	require.NoError(t, out.Err)

	result := out.Value.(map[string]any)
	assert.Equal(t, "abc", result["secret"])
	assert.Equal(t, true, result["missing"])
	_, err := time.Parse(time.RFC3339, result["ts"].(string))
	assert.NoError(t, err)
	assert.Greater(t, result["now"].(int64), int64(0))
	assert.Len(t, result["id"].(string), 36)
}

func TestRun_HTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/items", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "widget", body["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer server.Close()

	code := `
		local res = api.http{
			method = "post",
			url = input.base .. "/items",
			query = {limit = 5},
			headers = {Authorization = "Bearer {{TOKEN}}"},
			body = {name = "widget"},
		}
		return {status = res.status, ok = res.ok, id = res.data.id, ctype = res.headers["content-type"]}
	`
	out := run(t, code, map[string]any{"base": server.URL}, Options{Secrets: map[string]string{"TOKEN": "s3cret"}})
	require.NoError(t, out.Err)
	assert.Equal(t, map[string]any{
		"status": int64(201),
		"ok":     true,
		"id":     int64(7),
		"ctype":  "application/json",
	}, out.Value)
}

func TestRun_HTTPRejectsUnknownSecretAndScheme(t *testing.T) {
	out := run(t, `return api.http{url = "https://example.com/{{MISSING}}"}`, nil, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "unknown secret placeholder: MISSING")

	out = run(t, `return api.http{url = "file:///etc/passwd"}`, nil, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "unsupported url scheme")
}

func TestRun_GraphQL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req["query"] == "bad" {
			_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"field not found"}]}`))
			return
		}
		vars := req["variables"].(map[string]any)
		_, _ = fmt.Fprintf(w, `{"data":{"user":{"id":%q}}}`, vars["id"])
	}))
	defer server.Close()

	out := run(t, `return api.graphql(input.url, "query { user }", {id = "u1"}).user.id`,
		map[string]any{"url": server.URL}, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, "u1", out.Value)

	out = run(t, `return api.graphql(input.url, "bad")`, map[string]any{"url": server.URL}, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "GraphQL errors: field not found")
}

func TestRun_ConcurrentRunsAreIsolated(t *testing.T) {
	script, err := Compile(`counter = (counter or 0) + input.n return counter`)
	require.NoError(t, err)
	rt := NewRuntime(Options{})

	var wg sync.WaitGroup
	results := make([]Outcome, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = rt.Run(context.Background(), script, map[string]any{"n": i})
		}()
	}
	wg.Wait()

	for i, out := range results {
		require.NoError(t, out.Err)
		assert.Equal(t, int64(i), out.Value)
	}
}

func TestNormalizeTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NormalizeTimeout(0))
	assert.Equal(t, DefaultTimeout, NormalizeTimeout(-time.Second))
	assert.Equal(t, 200*time.Millisecond, NormalizeTimeout(200*time.Millisecond))
	assert.Equal(t, MaxTimeout, NormalizeTimeout(time.Hour))
}

func TestRun_StringRep(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		want    any
		wantErr string
	}{
		{name: "plain", code: `return string.rep("ab", 3)`, want: "ababab"},
		{name: "separator", code: `return ("x"):rep(3, ",")`, want: "x,x,x"},
		{name: "non-positive count", code: `return string.rep("x", 0)`, want: ""},
		{name: "huge count", code: `local s = string.rep("x", 2^34) return #s`, wantErr: "string.rep: result exceeds 1048576 bytes"},
		{name: "huge separator product", code: `return string.rep("x", 2^19, "yy")`, wantErr: "string.rep: result exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := run(t, tt.code, nil, Options{})
			if tt.wantErr != "" {
				require.Error(t, out.Err)
				assert.Contains(t, out.Err.Error(), "script error")
				assert.Contains(t, out.Err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, out.Err)
			assert.Equal(t, tt.want, out.Value)
		})
	}
}

func nested(depth int) map[string]any {
	v := map[string]any{"leaf": true}
	for i := 0; i < depth; i++ {
		v = map[string]any{"child": v}
	}
	return v
}

func TestRun_NestedValues(t *testing.T) {
	const build = `local t = {leaf = true} for i = 1, input.n do t = {child = t} end return t`

	out := run(t, build, map[string]any{"n": 30}, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, nested(30), out.Value)

	out = run(t, build, map[string]any{"n": 100}, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "script error: return value: value nested deeper than 64 levels")

	out = run(t, "return input", nested(50), Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, nested(50), out.Value)

	out = run(t, "return input", nested(100), Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "invalid script input")
}

func TestRun_CyclicTables(t *testing.T) {
	out := run(t, `local t = {name = "loop"} t.self = t return t`, nil, Options{})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "script error: return value: cyclic table")

	out = run(t, `local t = {} t[1] = t api.log("t", t) return "logged"`, nil, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, "logged", out.Value)
	assert.Equal(t, []string{"t\t<table: cyclic table>"}, out.Logs)

	out = run(t, `local shared = {v = 1} return {a = shared, b = shared}`, nil, Options{})
	require.NoError(t, out.Err)
	assert.Equal(t, map[string]any{"a": map[string]any{"v": int64(1)}, "b": map[string]any{"v": int64(1)}}, out.Value)
}

func TestRun_HTTPBodySecretsAreEscaped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.True(t, json.Valid(raw), "body %s", raw)

		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, map[string]any{"password": `p"w\x`, "tags": []any{"user-p\"w\\x"}}, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	code := `return api.http{method = "POST", url = input.url, body = {password = "{{PW}}", tags = {"user-{{PW}}"}}}.status`
	out := run(t, code, map[string]any{"url": server.URL}, Options{Secrets: map[string]string{"PW": `p"w\x`}})
	require.NoError(t, out.Err)
	assert.Equal(t, int64(204), out.Value)
}
