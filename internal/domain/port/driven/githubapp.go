package driven

import (
	"context"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// GitHubApp defines the driven port for calls made with the App's own
// identity (a signed JWT) rather than an installation token.
//
// Implementations classify failures: a 404 from GitHub is returned as a
// model.KindNotFound error, anything else as model.KindExternalService.
type GitHubApp interface {
	// CreateInstallationToken exchanges a freshly signed App assertion for a
	// scoped installation access token.
	CreateInstallationToken(ctx context.Context, installationID int64) (*model.IssuedToken, error)

	// GetInstallation fetches the installation's account and permissions.
	GetInstallation(ctx context.Context, installationID int64) (*model.Installation, error)
}

// RepositoryLister lists the repositories an installation token can see.
type RepositoryLister interface {
	// ListAccessibleRepositories returns the full names ("owner/name") of
	// every repository visible to token.
	ListAccessibleRepositories(ctx context.Context, token string) ([]string, error)
}
