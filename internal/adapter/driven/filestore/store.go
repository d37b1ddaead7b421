// Package filestore implements the persistence ports on top of flat JSON
// files: one file per tenant mapping, per installation and per tenant secret
// set. Every write goes to a temporary file that is renamed over the target,
// so readers observe either the old or the new record, never a torn one.
package filestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// Directory layout beneath the data directory.
const (
	tenantsDir       = "tenants"
	installationsDir = "installations"
	secretsDir       = "secrets"
	masterKeyFile    = "master.key"

	recordExt = ".json"
)

const (
	dirPerm       os.FileMode = 0o755
	secretDirPerm os.FileMode = 0o700
	secretPerm    os.FileMode = 0o600
)

// readJSON decodes the file at path into v. Returns (false, nil) if the file
// does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// writeJSON atomically replaces the file at path with the JSON encoding of v,
// creating the parent directory with dirMode if needed. New files are created
// owner-only; existing files keep their mode.
func writeJSON(path string, v any, dirMode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// removeFile deletes path, treating a missing file as success.
func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// listRecordKeys returns the sorted record keys (file names without the
// extension) in dir. Temporary files left by an interrupted write do not end
// in the record extension and are skipped.
func listRecordKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(keys)
	return keys, nil
}
