package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health")(okHandler)

	tests := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public path", "/api/health", nil, http.StatusTeapot},
		{"missing", "/api/auctions", nil, http.StatusUnauthorized},
		{"bearer", "/api/auctions", map[string]string{"Authorization": "Bearer secret"}, http.StatusTeapot},
		{"api key", "/api/auctions", map[string]string{"X-API-Key": "secret"}, http.StatusTeapot},
		{"wrong", "/api/auctions", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, serve(h, req).Code)
		})
	}

	assert.Equal(t, http.StatusTeapot, serve(Auth("")(okHandler), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.agentmint.xyz"})(okHandler)

	req := httptest.NewRequest(http.MethodOptions, "/api/auctions", nil)
	req.Header.Set("Origin", "https://app.agentmint.xyz")
	rec := serve(h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.agentmint.xyz", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/auctions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(h, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingSetsRequestID(t *testing.T) {
	h := Logging(slog.New(slog.NewTextHandler(io.Discard, nil)))(okHandler)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	assert.Equal(t, "req-1", serve(h, req).Header().Get(HeaderRequestID))
}

type countingLimiter struct {
	seen map[string]int
	err  error
}

func (c *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.seen[key]++
	return c.seen[key] <= limit, nil
}

func TestRateLimit(t *testing.T) {
	lim := &countingLimiter{seen: map[string]int{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RateLimit(lim, 2, time.Second, logger)(okHandler)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/auctions/a/bids", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		return serve(h, req).Code
	}
	assert.Equal(t, http.StatusTeapot, post())
	assert.Equal(t, http.StatusTeapot, post())
	assert.Equal(t, http.StatusTooManyRequests, post())
	assert.Equal(t, 3, lim.seen["api:10.0.0.1"])

	// Reads are never limited.
	assert.Equal(t, http.StatusTeapot, serve(h, httptest.NewRequest(http.MethodGet, "/api/auctions", nil)).Code)

	lim.err = errors.New("redis down")
	require.Equal(t, http.StatusTeapot, post(), "limiter errors fail open")
}
