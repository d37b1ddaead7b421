package model

import "time"

// Account is the GitHub user or organization an installation acts for.
type Account struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "User" or "Organization"
}

// Installation is one grant of the GitHub App to an account.
type Installation struct {
	ID                  int64             `json:"installation_id"`
	AppID               int64             `json:"app_id"`
	Account             Account           `json:"account"`
	Permissions         map[string]string `json:"permissions,omitempty"` // scope -> "read" | "write" | "admin"
	RepositorySelection string            `json:"repository_selection,omitempty"`
	Repositories        []string          `json:"repositories,omitempty"` // latest known full names
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
	SuspendedAt         *time.Time        `json:"suspended_at,omitempty"`
}

// IsSuspended reports whether the account owner has suspended the App.
func (i *Installation) IsSuspended() bool {
	return i.SuspendedAt != nil
}
