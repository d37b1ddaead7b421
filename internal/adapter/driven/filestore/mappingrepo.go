package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.MappingStore = (*MappingRepo)(nil)

// MappingRepo is the file-backed implementation of the MappingStore port.
// Each tenant mapping lives in tenants/<tenant_id>.json.
//
// FindByInstallation is served from an in-memory index of installation ID to
// tenant IDs, built from a directory scan on first use and kept current by
// Save and Delete. The index assumes this process is the only writer.
type MappingRepo struct {
	dir string

	mu    sync.Mutex
	index map[int64]map[string]struct{} // nil until first FindByInstallation
}

// NewMappingRepo creates a MappingRepo rooted at dataDir.
func NewMappingRepo(dataDir string) *MappingRepo {
	return &MappingRepo{dir: filepath.Join(dataDir, tenantsDir)}
}

func (r *MappingRepo) path(tenantID string) string {
	return filepath.Join(r.dir, tenantID+recordExt)
}

// Get returns the mapping for tenantID, or nil, nil if none exists.
func (r *MappingRepo) Get(ctx context.Context, tenantID string) (*model.TenantMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := model.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	var mapping model.TenantMapping
	found, err := readJSON(r.path(tenantID), &mapping)
	if err != nil {
		return nil, fmt.Errorf("get mapping %q: %w", tenantID, err)
	}
	if !found {
		return nil, nil
	}
	return &mapping, nil
}

// Save writes the mapping, replacing any previous record for the tenant.
func (r *MappingRepo) Save(ctx context.Context, mapping model.TenantMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := model.ValidateTenantID(mapping.TenantID); err != nil {
		return err
	}

	previous, err := r.Get(ctx, mapping.TenantID)
	if err != nil {
		return err
	}

	if err := writeJSON(r.path(mapping.TenantID), mapping, dirPerm); err != nil {
		return fmt.Errorf("save mapping %q: %w", mapping.TenantID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if previous != nil {
		r.unindexLocked(previous.InstallationID, mapping.TenantID)
	}
	r.indexLocked(mapping.InstallationID, mapping.TenantID)
	return nil
}

// Delete removes the tenant's mapping. Deleting an absent mapping is a no-op.
func (r *MappingRepo) Delete(ctx context.Context, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	previous, err := r.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if previous == nil {
		return nil
	}

	if err := removeFile(r.path(tenantID)); err != nil {
		return fmt.Errorf("delete mapping %q: %w", tenantID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.unindexLocked(previous.InstallationID, tenantID)
	return nil
}

// FindByInstallation returns all mappings that reference installationID,
// ordered by tenant ID.
func (r *MappingRepo) FindByInstallation(ctx context.Context, installationID int64) ([]model.TenantMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tenantIDs, err := r.tenantsFor(installationID)
	if err != nil {
		return nil, err
	}

	mappings := make([]model.TenantMapping, 0, len(tenantIDs))
	for _, tenantID := range tenantIDs {
		mapping, err := r.Get(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		// The file may have been rewritten since it was indexed.
		if mapping == nil || mapping.InstallationID != installationID {
			continue
		}
		mappings = append(mappings, *mapping)
	}
	return mappings, nil
}

// tenantsFor returns the indexed tenant IDs for an installation, building the
// index on first call.
func (r *MappingRepo) tenantsFor(installationID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.index == nil {
		if err := r.buildIndexLocked(); err != nil {
			return nil, err
		}
	}

	tenantIDs := make([]string, 0, len(r.index[installationID]))
	for tenantID := range r.index[installationID] {
		tenantIDs = append(tenantIDs, tenantID)
	}
	sort.Strings(tenantIDs)
	return tenantIDs, nil
}

// buildIndexLocked scans every mapping file. Must be called with r.mu held.
func (r *MappingRepo) buildIndexLocked() error {
	keys, err := listRecordKeys(r.dir)
	if err != nil {
		return fmt.Errorf("index mappings: %w", err)
	}

	r.index = make(map[int64]map[string]struct{})
	for _, tenantID := range keys {
		var mapping model.TenantMapping
		found, err := readJSON(r.path(tenantID), &mapping)
		if err != nil {
			return fmt.Errorf("index mappings: %w", err)
		}
		if found {
			r.indexLocked(mapping.InstallationID, mapping.TenantID)
		}
	}
	return nil
}

// indexLocked records a tenant under an installation. A no-op until the index
// has been built. Must be called with r.mu held.
func (r *MappingRepo) indexLocked(installationID int64, tenantID string) {
	if r.index == nil {
		return
	}
	tenants, ok := r.index[installationID]
	if !ok {
		tenants = make(map[string]struct{})
		r.index[installationID] = tenants
	}
	tenants[tenantID] = struct{}{}
}

// unindexLocked must be called with r.mu held.
func (r *MappingRepo) unindexLocked(installationID int64, tenantID string) {
	if r.index == nil {
		return
	}
	tenants := r.index[installationID]
	delete(tenants, tenantID)
	if len(tenants) == 0 {
		delete(r.index, installationID)
	}
}
