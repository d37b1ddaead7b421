package filestore

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

func TestSecretVault_PutAndGet(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	err := vault.Put(ctx, "g1", "api_key", "sk-ABCDEFGH")
	require.NoError(t, err)

	val, found, err := vault.Get(ctx, "g1", "api_key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "sk-ABCDEFGH", val)
}

func TestSecretVault_RoundTripVariousPlaintexts(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	plaintexts := []string{"", "x", "sk-ABCDEFGH", strings.Repeat("long-secret-", 200), "ünïcødé 🔑"}
	for i, plaintext := range plaintexts {
		tenant := "tenant-" + string(rune('a'+i))
		require.NoError(t, vault.Put(ctx, tenant, "api_key", plaintext))

		got, found, err := vault.Get(ctx, tenant, "api_key")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, plaintext, got)
	}
}

func TestSecretVault_GetMissing(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	val, found, err := vault.Get(ctx, "g1", "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "", val)
}

func TestSecretVault_PutOverwrites(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "old-value"))
	require.NoError(t, vault.Put(ctx, "g1", "api_key", "new-value"))

	val, _, err := vault.Get(ctx, "g1", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "new-value", val)
}

func TestSecretVault_MergesSecretsPerTenant(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "one"))
	require.NoError(t, vault.Put(ctx, "g1", "other_key", "two"))
	require.NoError(t, vault.Put(ctx, "g2", "api_key", "three"))

	var set model.SecretSet
	found, err := readJSON(filepath.Join(dir, secretsDir, "g1.json"), &set)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, set.Secrets, 2)
	for _, record := range set.Secrets {
		assert.Equal(t, model.SecretAlgorithmAES256GCM, record.Algorithm)
		assert.Equal(t, model.SecretFormatVersion, record.Version)
		assert.NotContains(t, record.Ciphertext, "one")
	}

	val, _, err := vault.Get(ctx, "g2", "api_key")
	require.NoError(t, err)
	assert.Equal(t, "three", val)
}

func TestSecretVault_Has(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	has, err := vault.Has(ctx, "g1", "api_key")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "value"))

	has, err = vault.Has(ctx, "g1", "api_key")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSecretVault_Remove(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "value"))
	require.NoError(t, vault.Put(ctx, "g1", "other", "value"))

	require.NoError(t, vault.Remove(ctx, "g1", "api_key"))

	has, err := vault.Has(ctx, "g1", "api_key")
	require.NoError(t, err)
	assert.False(t, has)

	has, err = vault.Has(ctx, "g1", "other")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, vault.Remove(ctx, "g1", "other"))
	_, err = os.Stat(filepath.Join(dir, secretsDir, "g1.json"))
	assert.True(t, os.IsNotExist(err), "file should be removed with the last secret")
}

func TestSecretVault_RemoveNonexistent(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()

	err := vault.Remove(ctx, "g1", "nonexistent")
	assert.NoError(t, err, "removing nonexistent secret should not error")

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "value"))
	before, err := os.ReadFile(filepath.Join(dir, secretsDir, "g1.json"))
	require.NoError(t, err)

	require.NoError(t, vault.Remove(ctx, "g1", "nonexistent"))

	after, err := os.ReadFile(filepath.Join(dir, secretsDir, "g1.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "state should be unchanged")
}

func TestSecretVault_TamperDetection(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()
	path := filepath.Join(dir, secretsDir, "g1.json")

	require.NoError(t, vault.Put(ctx, "g1", "api_key", "sk-ABCDEFGH"))

	var original model.SecretSet
	_, err := readJSON(path, &original)
	require.NoError(t, err)
	blob, err := base64.StdEncoding.DecodeString(original.Secrets["api_key"].Ciphertext)
	require.NoError(t, err)

	for i := range blob {
		for bit := range 8 {
			tampered := append([]byte(nil), blob...)
			tampered[i] ^= 1 << bit

			set := original
			set.Secrets = map[string]model.EncryptedSecretRecord{"api_key": original.Secrets["api_key"]}
			record := set.Secrets["api_key"]
			record.Ciphertext = base64.StdEncoding.EncodeToString(tampered)
			set.Secrets["api_key"] = record
			require.NoError(t, writeJSON(path, set, secretDirPerm))

			val, _, err := vault.Get(ctx, "g1", "api_key")
			require.Error(t, err, "byte %d bit %d", i, bit)
			assert.ErrorIs(t, err, model.ErrIntegrity)
			assert.Equal(t, "", val)
		}
	}
}

func TestSecretVault_WrongKeyFailsIntegrity(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()
	require.NoError(t, vault.Put(ctx, "g1", "api_key", "sk-ABCDEFGH"))

	otherKey := testKey()
	otherKey[0] ^= 0xff
	other, err := NewSecretVault(dir, otherKey)
	require.NoError(t, err)

	_, _, err = other.Get(ctx, "g1", "api_key")
	assert.ErrorIs(t, err, model.ErrIntegrity)
}

func TestSecretVault_RecordBoundToTenantAndName(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()
	require.NoError(t, vault.Put(ctx, "g1", "api_key", "sk-ABCDEFGH"))

	// Copy g1's record into g2's set verbatim.
	var set model.SecretSet
	_, err := readJSON(filepath.Join(dir, secretsDir, "g1.json"), &set)
	require.NoError(t, err)
	set.TenantID = "g2"
	require.NoError(t, writeJSON(filepath.Join(dir, secretsDir, "g2.json"), set, secretDirPerm))

	_, _, err = vault.Get(ctx, "g2", "api_key")
	assert.ErrorIs(t, err, model.ErrIntegrity)
}

func TestSecretVault_UnsupportedFormat(t *testing.T) {
	vault, dir := setupTestVault(t)
	ctx := context.Background()
	path := filepath.Join(dir, secretsDir, "g1.json")
	require.NoError(t, vault.Put(ctx, "g1", "api_key", "value"))

	var set model.SecretSet
	_, err := readJSON(path, &set)
	require.NoError(t, err)
	record := set.Secrets["api_key"]
	record.Version = 99
	set.Secrets["api_key"] = record
	require.NoError(t, writeJSON(path, set, secretDirPerm))

	_, _, err = vault.Get(ctx, "g1", "api_key")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSecretVault_FilePermissions(t *testing.T) {
	vault, dir := setupTestVault(t)
	require.NoError(t, vault.Put(context.Background(), "g1", "api_key", "value"))

	info, err := os.Stat(filepath.Join(dir, secretsDir, "g1.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Join(dir, secretsDir))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0), dirInfo.Mode().Perm()&0o077)
}

func TestSecretVault_RejectsUnsafeNames(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	err := vault.Put(ctx, "../escape", "api_key", "value")
	assert.ErrorIs(t, err, model.ErrValidation)

	err = vault.Put(ctx, "g1", "a/b", "value")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, _, err = vault.Get(ctx, "", "api_key")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestSecretVault_ConcurrentPutsSameTenant(t *testing.T) {
	vault, _ := setupTestVault(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := range writers {
		go func() {
			defer wg.Done()
			name := "key_" + string(rune('a'+i))
			assert.NoError(t, vault.Put(ctx, "g1", name, name))
		}()
	}
	wg.Wait()

	for i := range writers {
		name := "key_" + string(rune('a'+i))
		val, found, err := vault.Get(ctx, "g1", name)
		require.NoError(t, err)
		assert.True(t, found, "secret %s lost to a concurrent write", name)
		assert.Equal(t, name, val)
	}
}

func TestNewSecretVault_InvalidKey(t *testing.T) {
	_, err := NewSecretVault(t.TempDir(), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidMasterKey)
}
