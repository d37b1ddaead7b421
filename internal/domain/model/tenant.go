package model

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	tenantIDPattern       = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	installationIDPattern = regexp.MustCompile(`^[0-9]+$`)
)

// TenantMapping binds one chat community (tenant) to a GitHub App
// installation and a default repository. ChannelRepositories overrides the
// default per chat channel.
type TenantMapping struct {
	TenantID            string             `json:"tenant_id"`
	TenantName          string             `json:"tenant_name,omitempty"`
	InstallationID      int64              `json:"installation_id"`
	DefaultRepository   RepoRef            `json:"default_repository"`
	ChannelRepositories map[string]RepoRef `json:"channel_repositories,omitempty"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// RepositoryFor returns the repository a channel should use: its override if
// one exists, otherwise the tenant default.
func (m *TenantMapping) RepositoryFor(channelID string) RepoRef {
	if repo, ok := m.ChannelRepositories[channelID]; ok {
		return repo
	}
	return m.DefaultRepository
}

// ValidateTenantID checks that a tenant ID is non-empty and safe to use as a
// file name.
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return ValidationError("invalid tenant id %q", tenantID)
	}
	return nil
}

// ValidateChannelID checks a chat channel ID with the same rules as tenant IDs.
func ValidateChannelID(channelID string) error {
	if !tenantIDPattern.MatchString(channelID) {
		return ValidationError("invalid channel id %q", channelID)
	}
	return nil
}

// ParseInstallationID validates a numeric installation ID as typed by a user.
// Only ASCII digits are accepted; signs and separators are rejected.
func ParseInstallationID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if !installationIDPattern.MatchString(raw) {
		return 0, ValidationError("invalid installation id %q: expected a positive number", raw)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ValidationError("invalid installation id %q: expected a positive number", raw)
	}
	return id, nil
}
