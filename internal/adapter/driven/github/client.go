// Package github implements the GitHubApp and RepositoryLister ports using
// the go-github library, and decodes GitHub App webhook payloads.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
)

// DefaultBaseURL is the public GitHub REST API.
const DefaultBaseURL = "https://api.github.com/"

// Compile-time interface satisfaction checks.
var (
	_ driven.GitHubApp        = (*Client)(nil)
	_ driven.RepositoryLister = (*Client)(nil)
)

// Client talks to GitHub in two roles: as the App (JWT-authenticated, for
// token exchange and installation lookup) and as an installation (token-
// authenticated, for repository listing).
type Client struct {
	app       *gh.Client
	tokenHTTP *http.Client
	baseURL   *url.URL
	signer    *appSigner
}

// NewClient creates a GitHub App client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching, installation calls only;
//     every cached entry is revalidated, so GitHub is always asked)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with App JWT or installation token auth)
func NewClient(appID int64, privateKeyPEM []byte, baseURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	tokenHTTP := github_ratelimit.NewClient(cacheTransport)
	appHTTP := github_ratelimit.NewClient(http.DefaultTransport)

	return newClient(appHTTP.Transport, tokenHTTP, appID, privateKeyPEM, baseURL)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, appID int64, privateKeyPEM []byte) (*Client, error) {
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return newClient(base, httpClient, appID, privateKeyPEM, baseURL)
}

func newClient(appBase http.RoundTripper, tokenHTTP *http.Client, appID int64, privateKeyPEM []byte, baseURL string) (*Client, error) {
	signer, err := newAppSigner(appID, privateKeyPEM)
	if err != nil {
		return nil, err
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	app := gh.NewClient(&http.Client{Transport: &appTransport{signer: signer, base: appBase}})
	app.BaseURL = u

	return &Client{
		app:       app,
		tokenHTTP: &http.Client{Transport: &revalidateTransport{base: transportOf(tokenHTTP)}, Timeout: tokenHTTP.Timeout},
		baseURL:   u,
		signer:    signer,
	}, nil
}

// revalidateCacheControl makes httpcache treat any cached entry as stale and
// send a conditional request. min-fresh covers a GitHub Date header ahead of
// the local clock, which would otherwise leave the entry fresh.
const revalidateCacheControl = "max-age=0, min-fresh=300"

// revalidateTransport marks every installation request as needing
// revalidation, so a grant or revocation is visible on the next listing.
type revalidateTransport struct {
	base http.RoundTripper
}

func (t *revalidateTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Cache-Control", revalidateCacheControl)
	return t.base.RoundTrip(r)
}

func transportOf(c *http.Client) http.RoundTripper {
	if c.Transport == nil {
		return http.DefaultTransport
	}
	return c.Transport
}

// installationClient returns a go-github client authenticated with an
// installation access token.
func (c *Client) installationClient(token string) *gh.Client {
	client := gh.NewClient(c.tokenHTTP).WithAuthToken(token)
	client.BaseURL = c.baseURL
	return client
}

// CreateInstallationToken exchanges a freshly signed App assertion for an
// installation access token.
func (c *Client) CreateInstallationToken(ctx context.Context, installationID int64) (*model.IssuedToken, error) {
	issuedAt := c.signer.now()

	tok, resp, err := c.app.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return nil, classifyError(err, resp, fmt.Sprintf("exchanging token for installation %d", installationID))
	}
	if tok.GetToken() == "" {
		return nil, model.ExternalServiceError(nil, fmt.Sprintf("empty token for installation %d", installationID))
	}

	expiresAt := tok.GetExpiresAt().Time
	if expiresAt.IsZero() {
		expiresAt = issuedAt.Add(model.DefaultTokenValidity)
	}

	return &model.IssuedToken{
		InstallationID: installationID,
		Token:          tok.GetToken(),
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
	}, nil
}

// GetInstallation fetches the installation's account, permissions and
// suspension state as seen by the App.
func (c *Client) GetInstallation(ctx context.Context, installationID int64) (*model.Installation, error) {
	inst, resp, err := c.app.Apps.GetInstallation(ctx, installationID)
	if err != nil {
		return nil, classifyError(err, resp, fmt.Sprintf("getting installation %d", installationID))
	}

	installation := MapInstallation(inst)
	return &installation, nil
}

// ListAccessibleRepositories returns the full names of every repository the
// installation token can see, sorted. It handles pagination automatically.
func (c *Client) ListAccessibleRepositories(ctx context.Context, token string) ([]string, error) {
	client := c.installationClient(token)
	opts := &gh.ListOptions{PerPage: 100}

	var names []string
	for {
		repos, resp, err := client.Apps.ListRepos(ctx, opts)
		if err != nil {
			return nil, classifyError(err, resp, fmt.Sprintf("listing installation repositories (page %d)", opts.Page))
		}

		logRateLimit(resp, "installation/repositories", opts.Page, len(repos.Repositories))

		for _, repo := range repos.Repositories {
			names = append(names, repo.GetFullName())
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	sort.Strings(names)
	return names, nil
}

// classifyError maps a go-github failure onto the domain taxonomy. A 404
// means the installation was revoked or never existed and is not worth
// retrying; everything else is an upstream failure.
func classifyError(err error, resp *gh.Response, action string) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	var errResp *gh.ErrorResponse
	if status == 0 && errors.As(err, &errResp) && errResp.Response != nil {
		status = errResp.Response.StatusCode
	}

	if status == http.StatusNotFound {
		return model.NotFoundError("%s: not found on GitHub", action)
	}
	return model.ExternalServiceError(err, action)
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}
