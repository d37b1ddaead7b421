package httphandler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestTenantRateLimiter_BurstThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewTenantRateLimiter(rate.Limit(1), 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("g1"))
	assert.True(t, rl.Allow("g1"))
	assert.False(t, rl.Allow("g1"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("g1"))
}

func TestTenantRateLimiter_CleanupDropsIdleTenants(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewTenantRateLimiter(rate.Limit(1), 1)
	rl.now = func() time.Time { return now }

	rl.Allow("idle")
	now = now.Add(limiterIdleTTL - time.Minute)
	rl.Allow("active")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, rl.Cleanup())
	assert.Equal(t, 1, rl.Len())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 2, retryAfterSeconds(rate.Limit(0.5)))
	assert.Equal(t, 1, retryAfterSeconds(rate.Limit(4)))
	assert.Equal(t, 1, retryAfterSeconds(rate.Inf))
}

func TestTenantRateLimiter_MiddlewareRejectsInvalidTenantIDs(t *testing.T) {
	rl := NewTenantRateLimiter(rate.Limit(1), 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	called := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tenants/{tenant}", rl.Middleware(logger, func(w http.ResponseWriter, _ *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 50 {
		path := "/api/v1/tenants/" + strings.Repeat("x", 101) + strconv.Itoa(i)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/g%201", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Zero(t, called)
	assert.Zero(t, rl.Len())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/g1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, rl.Len())
}
