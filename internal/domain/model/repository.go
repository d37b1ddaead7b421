package model

import (
	"regexp"
	"strings"
)

var repoFullNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)

// RepoRef identifies a GitHub repository by owner and name.
type RepoRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the reference is unset.
func (r RepoRef) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// ParseRepoRef validates an "owner/name" string. Both halves are restricted
// to ASCII letters, digits and "-._".
func ParseRepoRef(fullName string) (RepoRef, error) {
	fullName = strings.TrimSpace(fullName)
	if !repoFullNamePattern.MatchString(fullName) {
		return RepoRef{}, ValidationError("invalid repository %q: expected owner/name", fullName)
	}
	owner, name, _ := strings.Cut(fullName, "/")
	return RepoRef{Owner: owner, Name: name}, nil
}
