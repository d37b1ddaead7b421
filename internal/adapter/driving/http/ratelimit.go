package httphandler

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// Default limits for the tenant configuration API.
const (
	DefaultTenantRate  = rate.Limit(30.0 / 60.0)
	DefaultTenantBurst = 10
	limiterIdleTTL     = 10 * time.Minute
)

type tenantLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// TenantRateLimiter throttles configuration requests per tenant so one
// community cannot exhaust the installation's GitHub quota.
type TenantRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*tenantLimiter
}

// NewTenantRateLimiter creates a limiter allowing limit requests per second
// with the given burst for each tenant.
func NewTenantRateLimiter(limit rate.Limit, burst int) *TenantRateLimiter {
	return &TenantRateLimiter{
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*tenantLimiter),
	}
}

// Allow reports whether a request for tenantID may proceed now.
func (rl *TenantRateLimiter) Allow(tenantID string) bool {
	now := rl.now()

	rl.mu.Lock()
	tl, ok := rl.limiters[tenantID]
	if !ok {
		tl = &tenantLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[tenantID] = tl
	}
	tl.lastAccess = now
	rl.mu.Unlock()

	return tl.limiter.AllowN(now, 1)
}

// Len returns the number of tracked tenants.
func (rl *TenantRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Cleanup drops limiters idle for longer than the idle TTL and returns how
// many were removed.
func (rl *TenantRateLimiter) Cleanup() int {
	cutoff := rl.now().Add(-limiterIdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for tenantID, tl := range rl.limiters {
		if tl.lastAccess.Before(cutoff) {
			delete(rl.limiters, tenantID)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is canceled.
func (rl *TenantRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Middleware rejects requests over the tenant's budget with 429. The tenant
// is taken from the {tenant} path value; malformed IDs are refused with 400
// before a limiter is allocated for them.
func (rl *TenantRateLimiter) Middleware(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.PathValue("tenant")
		if err := model.ValidateTenantID(tenantID); err != nil {
			writeError(w, http.StatusBadRequest, model.UserMessage(err))
			return
		}
		if rl.Allow(tenantID) {
			next(w, r)
			return
		}

		logger.Warn("rate limit exceeded", "tenant_id", tenantID, "path", r.URL.Path)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rl.limit)))
		writeError(w, http.StatusTooManyRequests, "too many requests, slow down")
	}
}

// retryAfterSeconds is the time until one token refills, rounded up.
func retryAfterSeconds(limit rate.Limit) int {
	if limit <= 0 || limit == rate.Inf {
		return 1
	}
	return int(math.Ceil(1 / float64(limit)))
}
