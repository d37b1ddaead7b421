package filestore

import (
	"bytes"
	"testing"
)

// testKey returns a fixed 32-byte master key.
func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, MasterKeySize)
}

// setupTestVault creates a SecretVault in a fresh temporary directory.
func setupTestVault(t *testing.T) (*SecretVault, string) {
	t.Helper()

	dir := t.TempDir()
	vault, err := NewSecretVault(dir, testKey())
	if err != nil {
		t.Fatalf("create test vault: %v", err)
	}
	return vault, dir
}
