package driven

import (
	"context"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

// MappingStore defines the driven port for tenant mapping persistence.
// Writes are atomic per record but not serialized; callers performing a
// read-modify-write must hold the tenant's key lock.
type MappingStore interface {
	// Get returns the mapping for tenantID, or (nil, nil) if none exists.
	Get(ctx context.Context, tenantID string) (*model.TenantMapping, error)
	Save(ctx context.Context, mapping model.TenantMapping) error
	// Delete removes the mapping. Deleting an absent mapping is a no-op.
	Delete(ctx context.Context, tenantID string) error
	// FindByInstallation returns every mapping that references installationID.
	FindByInstallation(ctx context.Context, installationID int64) ([]model.TenantMapping, error)
}

// InstallationStore defines the driven port for installation metadata
// persistence.
type InstallationStore interface {
	// Get returns the installation, or (nil, nil) if none exists.
	Get(ctx context.Context, installationID int64) (*model.Installation, error)
	Save(ctx context.Context, installation model.Installation) error
	// Delete removes the installation. Deleting an absent record is a no-op.
	Delete(ctx context.Context, installationID int64) error
}
