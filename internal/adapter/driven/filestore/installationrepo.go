package filestore

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.InstallationStore = (*InstallationRepo)(nil)

// InstallationRepo is the file-backed implementation of the InstallationStore
// port. Each installation lives in installations/<installation_id>.json.
type InstallationRepo struct {
	dir string
}

// NewInstallationRepo creates an InstallationRepo rooted at dataDir.
func NewInstallationRepo(dataDir string) *InstallationRepo {
	return &InstallationRepo{dir: filepath.Join(dataDir, installationsDir)}
}

func (r *InstallationRepo) path(installationID int64) string {
	return filepath.Join(r.dir, strconv.FormatInt(installationID, 10)+recordExt)
}

// Get returns the installation, or nil, nil if none exists.
func (r *InstallationRepo) Get(ctx context.Context, installationID int64) (*model.Installation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var installation model.Installation
	found, err := readJSON(r.path(installationID), &installation)
	if err != nil {
		return nil, fmt.Errorf("get installation %d: %w", installationID, err)
	}
	if !found {
		return nil, nil
	}
	return &installation, nil
}

// Save writes the installation, replacing any previous record.
func (r *InstallationRepo) Save(ctx context.Context, installation model.Installation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if installation.ID <= 0 {
		return model.ValidationError("invalid installation id %d", installation.ID)
	}

	if err := writeJSON(r.path(installation.ID), installation, dirPerm); err != nil {
		return fmt.Errorf("save installation %d: %w", installation.ID, err)
	}
	return nil
}

// Delete removes the installation. Deleting an absent record is a no-op.
func (r *InstallationRepo) Delete(ctx context.Context, installationID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := removeFile(r.path(installationID)); err != nil {
		return fmt.Errorf("delete installation %d: %w", installationID, err)
	}
	return nil
}
