package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/metrics"
	"vision2viral/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier map[string]service.Identity

func (s stubVerifier) Verify(_ context.Context, token string) (service.Identity, error) {
	id, ok := s[token]
	if !ok {
		return service.Identity{}, &apperror.AuthenticationError{Reason: "bad token"}
	}
	return id, nil
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(id.UserID + "|" + id.Email + "|" + UserIDFrom(r.Context())))
	})
}

func TestAuthMiddleware(t *testing.T) {
	verifier := stubVerifier{"good": {UserID: "u1", Email: "u1@example.com"}}
	h := AuthMiddleware(verifier, zerolog.Nop())(echoIdentity())

	cases := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "Missing token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Invalid authorization header"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "Invalid authorization header"},
		{"bad token", "Bearer nope", http.StatusUnauthorized, "Invalid token"},
		{"ok", "Bearer good", http.StatusOK, "u1|u1@example.com|u1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
		})
	}
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := LoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/generate?x=1", nil))

	out := buf.String()
	assert.Contains(t, out, `"status":202`)
	assert.Contains(t, out, `"path":"/v1/generate?x=1"`)
	assert.Contains(t, out, `"method":"POST"`)
}

func newLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rl := NewRateLimiter(client, limit, time.Minute, "test")
	fixed := time.Date(2026, 1, 1, 12, 0, 30, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	return rl, mr
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, mr := newLimiter(t, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "user:u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, reset, err := rl.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, reset)

	ok, _, err = rl.Allow(ctx, "user:u2")
	require.NoError(t, err)
	assert.True(t, ok)

	// Next window starts fresh.
	rl.now = func() time.Time { return time.Date(2026, 1, 1, 12, 1, 5, 0, time.UTC) }
	ok, _, err = rl.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, mr.Exists("test:user:u1:"+strconv.FormatInt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Unix(), 10)))
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, mr := newLimiter(t, 1)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RateLimitMiddleware(rl, m, zerolog.Nop())(ok)
	ctx := WithIdentity(context.Background(), service.Identity{UserID: "u1"})

	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/generate", nil).WithContext(ctx))
		return rec
	}

	assert.Equal(t, http.StatusOK, do().Code)
	rec := do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitedTotal))

	// Redis outage fails open.
	mr.Close()
	assert.Equal(t, http.StatusOK, do().Code)

	// Anonymous requests are not limited.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RateLimitMiddleware(nil, nil, zerolog.Nop())(next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
