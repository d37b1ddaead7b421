package application

import (
	"context"
	"strings"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
)

// AccessValidator confirms an installation token can actually see a
// repository before anything is persisted that refers to it.
type AccessValidator struct {
	lister driven.RepositoryLister
}

// NewAccessValidator creates an AccessValidator backed by lister.
func NewAccessValidator(lister driven.RepositoryLister) *AccessValidator {
	return &AccessValidator{lister: lister}
}

// Validate checks that fullName ("owner/name") is among the repositories
// visible to token. GitHub names are case-insensitive, so the match is too;
// the returned reference carries GitHub's canonical casing.
//
// A repository the token cannot see is a configuration mistake the user can
// fix and is reported as a validation error, distinct from GitHub failures.
func (v *AccessValidator) Validate(ctx context.Context, token, fullName string) (model.RepoRef, error) {
	want, err := model.ParseRepoRef(fullName)
	if err != nil {
		return model.RepoRef{}, err
	}

	visible, err := v.lister.ListAccessibleRepositories(ctx, token)
	if err != nil {
		return model.RepoRef{}, err
	}

	for _, name := range visible {
		if strings.EqualFold(name, want.FullName()) {
			return model.ParseRepoRef(name)
		}
	}

	return model.RepoRef{}, model.ValidationError(
		"repository %s is not accessible to this installation; grant the GitHub App access to it and try again",
		want.FullName(),
	)
}
