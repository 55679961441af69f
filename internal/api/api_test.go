package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/soundbysound/apigateway/internal/config"
	"github.com/soundbysound/apigateway/internal/core"
	"github.com/soundbysound/apigateway/internal/model"
	"github.com/soundbysound/apigateway/internal/store"
)

const upstreamChat = `{
	"id": "gen-42",
	"object": "chat.completion",
	"created": 1717000000,
	"model": "openai/gpt-4o-mini",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Say it slowly."}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 5, "completion_tokens": 4, "total_tokens": 9}
}`

type fakeUpstream struct {
	mu       sync.Mutex
	status   int
	body     string
	requests [][]byte
	srv      *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	f := &fakeUpstream{status: http.StatusOK, body: upstreamChat}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Path == "/models" {
			w.Write([]byte(`{"data":[{"id":"openai/gpt-4o-mini"},{"id":"openai/gpt-4o"},{"id":"meta/llama-3"}]}`))
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.requests = append(f.requests, b)
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) set(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.body = status, body
}

func (f *fakeUpstream) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router   *gin.Engine
	keys     *core.KeyStore
	clock    *testClock
	upstream *fakeUpstream
	logs     *store.Store
}

func newTestEnv(t *testing.T, mutate func(cfg *config.Config)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	up := newFakeUpstream(t)
	cfg := &config.Config{
		Server:    config.ServerConfig{BodyLimitMB: 1},
		Upstream:  config.UpstreamConfig{ModelAliases: map[string]string{"gpt-4o-mini": "openai/gpt-4o-mini"}, ModelFamilies: []string{"gpt-4o-mini", "gpt-4o"}},
		RateLimit: config.RateLimitConfig{WindowMs: 60000, MaxRequests: 100},
		CORS:      config.CORSConfig{AllowedOrigins: []string{"*"}},
	}
	if mutate != nil {
		mutate(cfg)
	}

	clock := &testClock{now: time.Now()}
	keys := core.NewKeyStore(core.NewMemoryBackend(), core.WithClock(clock.Now))
	limiter := core.NewRateLimiter(cfg.RateLimit.Window(), cfg.RateLimit.MaxRequests)
	t.Cleanup(limiter.Stop)

	logs, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { logs.Close() })

	validator := core.NewRequestValidator()
	gateway := core.NewUpstreamGateway(core.UpstreamOptions{
		BaseURL:       up.srv.URL,
		APIKey:        "sk-upstream",
		Referer:       "https://soundbysoundslowly.com",
		Title:         ServiceName,
		Timeout:       5 * time.Second,
		ModelFamilies: cfg.Upstream.ModelFamilies,
	})
	proxy := NewProxyHandler(keys, validator, core.NewTranslator(cfg.Upstream.ModelAliases), gateway, logs)
	admin := NewAdminHandler(keys, validator, logs)

	return &testEnv{
		router:   SetupRouter(cfg, proxy, admin, keys, limiter),
		keys:     keys,
		clock:    clock,
		upstream: up,
		logs:     logs,
	}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) issueKey(t *testing.T, expiryDays int) string {
	t.Helper()
	w := e.do("POST", "/admin/api-keys", `{"appName":"speech-app","developer":"dev","email":"d@example.com","purpose":"practice","rateLimit":1000,"expiry":`+itoa(expiryDays)+`}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	key := gjson.Get(w.Body.String(), "apiKey").String()
	require.NotEmpty(t, key)
	return key
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func errorCode(w *httptest.ResponseRecorder) string {
	return gjson.Get(w.Body.String(), "error.code").String()
}

const validChat = `{"model":"gpt-4o-mini","temperature":0.3,"messages":[{"role":"system","content":"Tutor."},{"role":"user","content":"Hello"}]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp model.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceName, resp.Service)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("GET", "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", errorCode(w))
	assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestChat_MissingKeyAlways401(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, body := range []string{validChat, `{}`, `not json`} {
		w := env.do("POST", "/v1/chat/completions", body, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "missing_api_key", errorCode(w))
	}
	assert.Nil(t, env.upstream.last())
}

func TestChat_InvalidKey(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": "sbs_bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_api_key", errorCode(w))
}

func TestChat_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, upstreamChat, w.Body.String())
	assert.True(t, gjson.Get(w.Body.String(), "choices").IsArray())
	assert.Equal(t, "100", w.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "99", w.Header().Get("RateLimit-Remaining"))

	sent := gjson.ParseBytes(env.upstream.last())
	assert.Equal(t, "openai/gpt-4o-mini", sent.Get("model").String())
	assert.Equal(t, 0.3, sent.Get("temperature").Float())
	assert.Equal(t, "Tutor."+core.SystemContextSuffix, sent.Get("messages.0.content").String())
	assert.Equal(t, "Hello", sent.Get("messages.1.content").String())
}

func TestChat_ValidationFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	bodies := []string{
		`{"model":"gpt-4o-mini"}`,
		`{"model":"gpt-4o-mini","messages":[{"role":"wizard","content":"hi"}]}`,
		`{"model":"gpt-4o-mini","messages":[]}`,
	}
	for _, body := range bodies {
		w := env.do("POST", "/v1/chat/completions", body, map[string]string{"x-api-key": key})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_request_error", gjson.Get(w.Body.String(), "error.type").String())
		assert.Equal(t, "invalid_parameters", errorCode(w))
		assert.True(t, gjson.Get(w.Body.String(), "error.details").IsArray())
	}
	assert.Nil(t, env.upstream.last(), "validation failures never reach upstream")

	rec, err := env.keys.Lookup(key)
	require.NoError(t, err)
	assert.Zero(t, rec.RequestCount)
}

func TestChat_UpstreamErrorStatusMirrored(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)
	env.upstream.set(http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits","code":"insufficient_quota"}}`)

	w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "api_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Equal(t, "Insufficient credits", gjson.Get(w.Body.String(), "error.message").String())
	assert.Equal(t, "insufficient_quota", errorCode(w))
}

func TestUsage_CountsAuthorizedRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	var last time.Time
	for i := 0; i < 3; i++ {
		env.clock.Advance(time.Minute)
		last = env.clock.Now()
		w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": key})
		require.Equal(t, http.StatusOK, w.Code)
	}

	rec, err := env.keys.Lookup(key)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.RequestCount)
	require.NotNil(t, rec.LastUsedAt)
	assert.True(t, last.UTC().Equal(*rec.LastUsedAt))
}

func TestKeyExpiry(t *testing.T) {
	env := newTestEnv(t, nil)

	never := env.issueKey(t, 0)
	short := env.issueKey(t, 3)

	env.clock.Advance(3*24*time.Hour + time.Second)

	w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": short})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "expired_api_key", errorCode(w))

	w = env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": never})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", "/admin/api-keys", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	keys := gjson.Get(w.Body.String(), "keys").Array()
	require.Len(t, keys, 1)
	assert.Equal(t, "never", keys[0].Get("expiry").String())
}

func TestAdmin_IssueListRevoke(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/admin/api-keys", `{"appName":"a","developer":"d","email":"e","purpose":"p","rateLimit":50,"expiry":0}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.True(t, body.Get("success").Bool())
	key := body.Get("apiKey").String()
	assert.True(t, strings.HasPrefix(key, "sbs_"))
	assert.Equal(t, key, body.Get("keyData.key").String())
	assert.Equal(t, "never", body.Get("keyData.expiry").String())
	assert.Equal(t, int64(0), body.Get("keyData.requestCount").Int())
	assert.Equal(t, gjson.Null, body.Get("keyData.lastUsed").Type)

	w = env.do("GET", "/admin/api-keys", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), key, "listing never echoes raw keys")
	assert.Equal(t, key[:8], gjson.Get(w.Body.String(), "keys.0.keyPrefix").String())

	w = env.do("DELETE", "/admin/api-keys/"+key, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "API key deleted successfully", gjson.Get(w.Body.String(), "message").String())

	w = env.do("DELETE", "/admin/api-keys/"+key, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "key_not_found", errorCode(w))
	assert.Equal(t, "not_found", gjson.Get(w.Body.String(), "error.type").String())
}

func TestAdmin_IssueRejectsNegativeExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("POST", "/admin/api-keys", `{"appName":"a","expiry":-5}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "expiry", gjson.Get(w.Body.String(), "error.details.0.field").String())
}

func TestAdmin_AuthWhenConfigured(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.AdminAPIKey = "admin-secret" })

	w := env.do("GET", "/admin/api-keys", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("GET", "/admin/api-keys", "", map[string]string{"x-admin-key": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_api_key", errorCode(w))

	w = env.do("GET", "/admin/api-keys", "", map[string]string{"Authorization": "Bearer admin-secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCompletions_LegacyShape(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	w := env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"How do I say ship?","max_tokens":20}`, map[string]string{"x-api-key": key})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := gjson.Parse(w.Body.String())
	assert.Equal(t, "gen-42", resp.Get("id").String())
	assert.Equal(t, "text_completion", resp.Get("object").String())
	assert.Equal(t, "Say it slowly.", resp.Get("choices.0.text").String())
	assert.Equal(t, "stop", resp.Get("choices.0.finish_reason").String())
	assert.Equal(t, gjson.Null, resp.Get("choices.0.logprobs").Type)
	assert.JSONEq(t, `{"prompt_tokens": 5, "completion_tokens": 4, "total_tokens": 9}`, resp.Get("usage").Raw)

	sent := gjson.ParseBytes(env.upstream.last())
	assert.Equal(t, core.LegacyPreamble, sent.Get("messages.0.content").String())
	assert.Equal(t, "How do I say ship?", sent.Get("messages.1.content").String())
	assert.False(t, sent.Get("prompt").Exists())
}

func TestCompletions_MalformedUpstream(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)
	env.upstream.set(http.StatusOK, `{"id":"x","choices":[]}`)

	w := env.do("POST", "/v1/completions", `{"model":"m","prompt":"p"}`, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "malformed_upstream_response", errorCode(w))
}

func TestCompletions_MissingPrompt(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	w := env.do("POST", "/v1/completions", `{"model":"m"}`, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "prompt", gjson.Get(w.Body.String(), "error.details.0.field").String())
}

func TestModels_Filtered(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	w := env.do("GET", "/v1/models", "", map[string]string{"x-api-key": key})
	require.Equal(t, http.StatusOK, w.Code)
	resp := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", resp.Get("object").String())
	ids := []string{}
	for _, m := range resp.Get("data").Array() {
		ids = append(ids, m.Get("id").String())
	}
	assert.Equal(t, []string{"openai/gpt-4o-mini", "openai/gpt-4o"}, ids)

	w = env.do("GET", "/v1/models", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit_PerIP(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimit.MaxRequests = 2 })
	key := env.issueKey(t, 0)

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(validChat))
		req.Header.Set("x-api-key", key)
		req.RemoteAddr = ip + ":5555"
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.1.1.1").Code)
	assert.Equal(t, http.StatusOK, send("10.1.1.1").Code)

	w := send("10.1.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", errorCode(w))
	assert.Equal(t, "rate_limit_exceeded", gjson.Get(w.Body.String(), "error.type").String())
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send("10.2.2.2").Code)
}

func TestBodyLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	big := `{"model":"m","messages":[{"role":"user","content":"` + strings.Repeat("a", 2<<20) + `"}]}`
	w := env.do("POST", "/v1/chat/completions", big, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_parameters", errorCode(w))
	assert.Nil(t, env.upstream.last())
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do("OPTIONS", "/v1/chat/completions", "", map[string]string{
		"Origin":                         "https://app.example",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "x-api-key, content-type",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLogsRecorded(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	w := env.do("POST", "/v1/chat/completions", validChat, map[string]string{"x-api-key": key, "X-Request-ID": "req-fixed", "User-Agent": "curl/8.1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "req-fixed", w.Header().Get("X-Request-ID"))

	w = env.do("GET", "/admin/usage/logs?app=speech-app", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entry := gjson.Get(w.Body.String(), "data.0")
	assert.Equal(t, "req-fixed", entry.Get("request_id").String())
	assert.Equal(t, "/v1/chat/completions", entry.Get("route").String())
	assert.Equal(t, "gpt-4o-mini", entry.Get("model").String())
	assert.Equal(t, "openai/gpt-4o-mini", entry.Get("upstream_model").String())
	assert.Equal(t, "curl", entry.Get("client_tool").String())
	assert.Equal(t, int64(9), entry.Get("total_tokens").Int())
	assert.True(t, entry.Get("success").Bool())
	assert.NotContains(t, w.Body.String(), key)

	w = env.do("GET", "/admin/usage/stats?days=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "apps.0.request_count").Int())

	w = env.do("GET", "/admin/usage/stats?days=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "server_error", errorCode(w))
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestReadBody_Empty(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)
	req := httptest.NewRequest("POST", "/v1/chat/completions", bytes.NewReader(nil))
	req.Header.Set("x-api-key", key)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChat_AmbiguousKeysNeverForwarded(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	bodies := []string{
		`{"model":"gpt-4o-mini","messages":[{"role":"wizard","content":""}],"Messages":[{"role":"user","content":"ok"}]}`,
		`{"Model":"gpt-4o-mini","Messages":[{"role":"system","content":"Tutor."}]}`,
		`{"model":"gpt-4o-mini","messages":[{"role":"wizard","content":"x"}],"messages":[{"role":"user","content":"ok"}]}`,
	}
	for _, body := range bodies {
		w := env.do("POST", "/v1/chat/completions", body, map[string]string{"x-api-key": key})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_parameters", errorCode(w))
	}
	assert.Nil(t, env.upstream.last())
}

func TestCompletions_AmbiguousKeysNeverForwarded(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)

	bodies := []string{
		`{"model":"gpt-4o-mini","prompt":"","Prompt":"hi"}`,
		`{"Model":"gpt-4o-mini","prompt":"hi"}`,
		`{"model":"gpt-4o-mini","prompt":"a","prompt":"b"}`,
	}
	for _, body := range bodies {
		w := env.do("POST", "/v1/completions", body, map[string]string{"x-api-key": key})
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		assert.Equal(t, "invalid_parameters", errorCode(w))
	}
	assert.Nil(t, env.upstream.last())
}

func TestCompletions_UpstreamErrorStatusMirrored(t *testing.T) {
	env := newTestEnv(t, nil)
	key := env.issueKey(t, 0)
	env.upstream.set(http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits","code":"insufficient_quota"}}`)

	w := env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "api_error", gjson.Get(w.Body.String(), "error.type").String())
	assert.Equal(t, "Insufficient credits", gjson.Get(w.Body.String(), "error.message").String())
	assert.Equal(t, "insufficient_quota", errorCode(w))

	env.upstream.set(http.StatusServiceUnavailable, `upstream down`)
	w = env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "upstream_error", errorCode(w))
	assert.Equal(t, "Upstream API error", gjson.Get(w.Body.String(), "error.message").String())
}

func TestCompletions_AuthErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_api_key", errorCode(w))

	w = env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, map[string]string{"x-api-key": "sbs_unknown"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_api_key", errorCode(w))
	assert.Nil(t, env.upstream.last())
}

func TestCompletions_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.RateLimit.MaxRequests = 1 })
	key := env.issueKey(t, 0)

	w := env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, map[string]string{"x-api-key": key})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/v1/completions", `{"model":"gpt-4o-mini","prompt":"hi"}`, map[string]string{"x-api-key": key})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limit_exceeded", errorCode(w))
}
