package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classhub/throttle/core"
	"github.com/classhub/throttle/pkg/throttle"
	"github.com/classhub/throttle/store"
)

var testPolicies = map[string]core.Config{
	throttle.LimiterOTPRequest: {MaxTokens: 2, RefillRate: 0.01},
	throttle.LimiterClassJoin:  {MaxTokens: 10, RefillRate: 1},
}

func newTestRouter(t *testing.T, opts ...throttle.Option) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := throttle.NewManager(append([]throttle.Option{throttle.WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return NewRouter(NewHandler(manager, testPolicies, logger))
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestCheck_AllowsThenBlocks(t *testing.T) {
	router := newTestRouter(t)
	req := CheckRequest{Limiter: throttle.LimiterOTPRequest, Key: "otp:ana@school.org"}

	for _, want := range []int{1, 0} {
		rec := do(t, router, http.MethodPost, "/v1/check", req)
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decodeBody[CheckResponse](t, rec)
		assert.True(t, resp.Allowed)
		assert.Equal(t, want, resp.Remaining)
		assert.Equal(t, 2, resp.Limit)
		assert.Zero(t, resp.RetryAfterSeconds)
	}

	rec := do(t, router, http.MethodPost, "/v1/check", req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeBody[CheckResponse](t, rec)
	assert.False(t, resp.Allowed)
	assert.EqualValues(t, 100, resp.RetryAfterSeconds)
}

func TestCheck_BadRequests(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"missing key", CheckRequest{Limiter: throttle.LimiterOTPRequest}, http.StatusBadRequest, "missing_key"},
		{"unknown limiter", CheckRequest{Limiter: "nope", Key: "k"}, http.StatusNotFound, "unknown_limiter"},
		{"not JSON", "{", http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if s, ok := tt.body.(string); ok {
				req := httptest.NewRequest(http.MethodPost, "/v1/check", bytes.NewBufferString(s))
				rec = httptest.NewRecorder()
				router.ServeHTTP(rec, req)
			} else {
				rec = do(t, router, http.MethodPost, "/v1/check", tt.body)
			}
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/v1/check"},
		{http.MethodGet, "/v1/reset"},
		{http.MethodPost, "/v1/stats"},
		{http.MethodDelete, "/v1/limiters"},
		{http.MethodPost, "/v1/limiters/otp-request/remaining"},
		{http.MethodPost, "/healthz"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "method_not_allowed", decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestReset(t *testing.T) {
	router := newTestRouter(t)
	req := CheckRequest{Limiter: throttle.LimiterOTPRequest, Key: "otp:ana@school.org"}

	for i := 0; i < 3; i++ {
		do(t, router, http.MethodPost, "/v1/check", req)
	}
	require.Equal(t, http.StatusTooManyRequests, do(t, router, http.MethodPost, "/v1/check", req).Code)

	rec := do(t, router, http.MethodPost, "/v1/reset", req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/check", req).Code)
}

func TestRemaining(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/v1/limiters/class-join/remaining?key=ip:10.0.0.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[RemainingResponse](t, rec)
	assert.Equal(t, RemainingResponse{Limiter: throttle.LimiterClassJoin, Remaining: 10, Limit: 10}, resp)

	do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "ip:10.0.0.1"})

	rec = do(t, router, http.MethodGet, "/v1/limiters/class-join/remaining?key=ip:10.0.0.1", nil)
	assert.Equal(t, 9, decodeBody[RemainingResponse](t, rec).Remaining)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/v1/limiters/class-join/remaining", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/v1/limiters/nope/remaining?key=k", nil).Code)
}

func TestLimiters(t *testing.T) {
	rec := do(t, newTestRouter(t), http.MethodGet, "/v1/limiters", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	infos := decodeBody[[]LimiterInfo](t, rec)
	require.Len(t, infos, 2)
	assert.Equal(t, throttle.LimiterClassJoin, infos[0].Name)
	assert.Equal(t, throttle.LimiterOTPRequest, infos[1].Name)
	assert.EqualValues(t, 100, infos[1].RetryAfterSeconds)
}

func TestStats(t *testing.T) {
	router := newTestRouter(t)
	do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "a"})
	do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "b"})

	rec := do(t, router, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decodeBody[map[string]throttle.Stats](t, rec)
	assert.Equal(t, throttle.Stats{Entries: 2, Backend: store.KindLocal}, stats[throttle.LimiterClassJoin])
	assert.NotContains(t, stats, throttle.LimiterOTPRequest)
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })

	router := newTestRouter(t, throttle.WithBackendFactory(store.RedisFactory(client)))
	do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "a"})

	rec := do(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.True(t, health.Backends[throttle.LimiterClassJoin].Healthy)
	assert.Equal(t, store.KindNetworked, health.Backends[throttle.LimiterClassJoin].Kind)

	mr.SetError("ERR simulated outage")

	// Checks keep succeeding while the backend is down
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "a"}).Code)

	rec = do(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decodeBody[HealthResponse](t, rec).Status)
}

func TestNotFound(t *testing.T) {
	router := newTestRouter(t)
	for _, path := range []string{"/v2/check", "/v1/unknown", "/v1/limiters/otp-request"} {
		rec := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Error, path)
	}
}

func TestWithHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager, err := throttle.NewManager(throttle.WithLogger(logger))
	require.NoError(t, err)

	extra := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("scrape")) })
	router := NewRouter(NewHandler(manager, testPolicies, logger), WithHandler("/metrics", extra), WithOTelMiddleware("throttle"))

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "scrape", rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/v1/check", CheckRequest{Limiter: throttle.LimiterClassJoin, Key: "a"}).Code)
}
