package application

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

const (
	// tokenRefreshMargin is how long before expiry a cached token stops
	// being handed out, so callers never start work with a token about to
	// lapse.
	tokenRefreshMargin = time.Minute

	// DefaultTokenTimeout bounds one exchange with GitHub.
	DefaultTokenTimeout = 10 * time.Second
)

// TokenSource hands out installation access tokens.
type TokenSource interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

// TokenInvalidator evicts a cached installation token.
type TokenInvalidator interface {
	Invalidate(installationID int64)
}

// CredentialIssuer mints installation access tokens and caches each one until
// shortly before it expires. Concurrent misses for the same installation share
// a single exchange. Tokens are never issued for an installation recorded as
// suspended.
type CredentialIssuer struct {
	app           driven.GitHubApp
	installations driven.InstallationStore
	recorder      metrics.Recorder
	logger        *slog.Logger
	timeout       time.Duration
	now           func() time.Time

	mu    sync.Mutex
	cache map[int64]model.IssuedToken
	// epoch is bumped by Invalidate so an exchange already in flight cannot
	// repopulate the cache with a token for an evicted installation.
	epoch map[int64]uint64
	group singleflight.Group
}

// Compile-time interface satisfaction checks.
var (
	_ TokenSource      = (*CredentialIssuer)(nil)
	_ TokenInvalidator = (*CredentialIssuer)(nil)
)

// IssuerOption customizes a CredentialIssuer.
type IssuerOption func(*CredentialIssuer)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *CredentialIssuer) { i.now = now }
}

// WithTokenTimeout bounds each exchange with GitHub.
func WithTokenTimeout(timeout time.Duration) IssuerOption {
	return func(i *CredentialIssuer) {
		if timeout > 0 {
			i.timeout = timeout
		}
	}
}

// WithIssuerMetrics records token outcomes on recorder.
func WithIssuerMetrics(recorder metrics.Recorder) IssuerOption {
	return func(i *CredentialIssuer) { i.recorder = recorder }
}

// WithIssuerLogger replaces slog.Default.
func WithIssuerLogger(logger *slog.Logger) IssuerOption {
	return func(i *CredentialIssuer) { i.logger = logger }
}

// NewCredentialIssuer creates a CredentialIssuer backed by app for token
// exchange and installations for the suspension gate.
func NewCredentialIssuer(app driven.GitHubApp, installations driven.InstallationStore, opts ...IssuerOption) *CredentialIssuer {
	i := &CredentialIssuer{
		app:           app,
		installations: installations,
		recorder:      metrics.Nop{},
		logger:        slog.Default(),
		timeout:       DefaultTokenTimeout,
		now:           time.Now,
		cache:         make(map[int64]model.IssuedToken),
		epoch:         make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Token returns a valid access token for the installation, exchanging a new
// one with GitHub when nothing usable is cached.
func (i *CredentialIssuer) Token(ctx context.Context, installationID int64) (string, error) {
	if installationID <= 0 {
		return "", model.ValidationError("invalid installation id %d", installationID)
	}

	if err := i.checkNotSuspended(ctx, installationID); err != nil {
		return "", err
	}

	if token, ok := i.cached(installationID); ok {
		i.recorder.RecordToken(metrics.TokenCacheHit)
		return token, nil
	}

	ch := i.group.DoChan(strconv.FormatInt(installationID, 10), func() (any, error) {
		return i.issue(ctx, installationID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate evicts any cached token for the installation.
func (i *CredentialIssuer) Invalidate(installationID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.cache, installationID)
	i.epoch[installationID]++
}

func (i *CredentialIssuer) checkNotSuspended(ctx context.Context, installationID int64) error {
	installation, err := i.installations.Get(ctx, installationID)
	if err != nil {
		return err
	}
	if installation == nil || !installation.IsSuspended() {
		return nil
	}

	i.Invalidate(installationID)
	i.recorder.RecordToken(metrics.TokenRefused)
	return model.ValidationError("installation %d is suspended; unsuspend the GitHub App to continue", installationID)
}

// cached returns the cached token if it is still valid with margin, pruning
// it otherwise.
func (i *CredentialIssuer) cached(installationID int64) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, ok := i.cache[installationID]
	if !ok {
		return "", false
	}
	if !entry.ValidAt(i.now(), tokenRefreshMargin) {
		delete(i.cache, installationID)
		return "", false
	}
	return entry.Token, true
}

// issue runs inside the singleflight group. The exchange is detached from the
// first caller's cancellation, since other callers may be waiting on it, and
// bounded by the issuer timeout instead.
func (i *CredentialIssuer) issue(ctx context.Context, installationID int64) (string, error) {
	// A flight that finished just before this one started may have filled
	// the cache already.
	if token, ok := i.cached(installationID); ok {
		i.recorder.RecordToken(metrics.TokenCacheHit)
		return token, nil
	}

	i.mu.Lock()
	epoch := i.epoch[installationID]
	i.mu.Unlock()

	exchangeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()

	start := time.Now()
	issued, err := i.app.CreateInstallationToken(exchangeCtx, installationID)
	i.recorder.RecordTokenExchangeLatency(time.Since(start))
	if err != nil {
		i.recorder.RecordToken(metrics.TokenFailed)
		i.logger.Error("installation token exchange failed",
			"installation_id", installationID,
			"error", err,
		)
		return "", err
	}

	i.mu.Lock()
	if i.epoch[installationID] == epoch {
		i.cache[installationID] = *issued
	}
	i.mu.Unlock()

	i.recorder.RecordToken(metrics.TokenIssued)
	i.logger.Info("installation token issued",
		"installation_id", installationID,
		"expires_at", issued.ExpiresAt,
	)
	return issued.Token, nil
}
