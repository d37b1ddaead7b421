package filestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
	"github.com/ericfisherdev/repobridge/internal/keylock"
)

// MasterKeySize is the AES-256 key length in bytes.
const MasterKeySize = 32

// ErrInvalidMasterKey is returned by NewSecretVault when the key is not 32 bytes.
var ErrInvalidMasterKey = errors.New("master key must be 32 bytes")

// Compile-time interface satisfaction check.
var _ driven.SecretVault = (*SecretVault)(nil)

// SecretVault is the file-backed implementation of the SecretVault port.
// All secrets of one tenant are stored together in secrets/<tenant_id>.json.
// Values are encrypted with AES-256-GCM before write and decrypted after read;
// the tenant ID and secret name are bound in as additional data so a record
// copied to another tenant or name fails authentication.
type SecretVault struct {
	dir   string
	key   []byte
	locks keylock.Locker
	now   func() time.Time
}

// NewSecretVault creates a SecretVault rooted at dataDir using key, which
// must be MasterKeySize bytes.
func NewSecretVault(dataDir string, key []byte) (*SecretVault, error) {
	if len(key) != MasterKeySize {
		return nil, ErrInvalidMasterKey
	}
	return &SecretVault{
		dir: filepath.Join(dataDir, secretsDir),
		key: append([]byte(nil), key...),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (v *SecretVault) path(tenantID string) string {
	return filepath.Join(v.dir, tenantID+recordExt)
}

// Put encrypts plaintext and stores it under name for the tenant.
func (v *SecretVault) Put(ctx context.Context, tenantID, name, plaintext string) error {
	if err := validateSecretKey(tenantID, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := v.locks.Lock(tenantID)
	defer unlock()

	set, err := v.load(tenantID)
	if err != nil {
		return err
	}

	ciphertext, err := v.encrypt(tenantID, name, plaintext)
	if err != nil {
		return fmt.Errorf("encrypt secret %q for tenant %q: %w", name, tenantID, err)
	}
	set.Secrets[name] = model.EncryptedSecretRecord{
		Ciphertext: ciphertext,
		Algorithm:  model.SecretAlgorithmAES256GCM,
		Version:    model.SecretFormatVersion,
		UpdatedAt:  v.now(),
	}

	return v.store(set)
}

// Get decrypts the named secret. Returns ("", false, nil) if it does not exist.
func (v *SecretVault) Get(ctx context.Context, tenantID, name string) (string, bool, error) {
	if err := validateSecretKey(tenantID, name); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	set, err := v.load(tenantID)
	if err != nil {
		return "", false, err
	}

	record, ok := set.Secrets[name]
	if !ok {
		return "", false, nil
	}

	if record.Algorithm != model.SecretAlgorithmAES256GCM || record.Version != model.SecretFormatVersion {
		return "", false, model.ValidationError("secret %q uses unsupported format %s/v%d", name, record.Algorithm, record.Version)
	}

	plaintext, err := v.decrypt(tenantID, name, record.Ciphertext)
	if err != nil {
		return "", false, model.IntegrityError(err, fmt.Sprintf("secret %q for tenant %q failed authentication", name, tenantID))
	}
	return plaintext, true, nil
}

// Has reports whether the tenant has a secret with that name.
func (v *SecretVault) Has(ctx context.Context, tenantID, name string) (bool, error) {
	if err := validateSecretKey(tenantID, name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	set, err := v.load(tenantID)
	if err != nil {
		return false, err
	}
	_, ok := set.Secrets[name]
	return ok, nil
}

// Remove deletes the named secret. When the tenant's last secret is removed
// the file itself is deleted. Removing an absent secret is a no-op.
func (v *SecretVault) Remove(ctx context.Context, tenantID, name string) error {
	if err := validateSecretKey(tenantID, name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := v.locks.Lock(tenantID)
	defer unlock()

	set, err := v.load(tenantID)
	if err != nil {
		return err
	}
	if _, ok := set.Secrets[name]; !ok {
		return nil
	}

	delete(set.Secrets, name)
	if len(set.Secrets) == 0 {
		return removeFile(v.path(tenantID))
	}
	return v.store(set)
}

// load reads the tenant's secret set, returning an empty set if none exists.
func (v *SecretVault) load(tenantID string) (*model.SecretSet, error) {
	set := &model.SecretSet{TenantID: tenantID}
	if _, err := readJSON(v.path(tenantID), set); err != nil {
		return nil, fmt.Errorf("load secrets for tenant %q: %w", tenantID, err)
	}
	if set.Secrets == nil {
		set.Secrets = make(map[string]model.EncryptedSecretRecord)
	}
	return set, nil
}

// store writes the set owner-only.
func (v *SecretVault) store(set *model.SecretSet) error {
	path := v.path(set.TenantID)
	if err := writeJSON(path, set, secretDirPerm); err != nil {
		return fmt.Errorf("store secrets for tenant %q: %w", set.TenantID, err)
	}
	if err := os.Chmod(path, secretPerm); err != nil {
		return fmt.Errorf("restrict permissions on %s: %w", path, err)
	}
	return nil
}

func (v *SecretVault) newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext and tag.
func (v *SecretVault) encrypt(tenantID, name, plaintext string) (string, error) {
	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), additionalData(tenantID, name))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (v *SecretVault) decrypt(tenantID, name, encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := v.newGCM()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData(tenantID, name))
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func additionalData(tenantID, name string) []byte {
	return []byte(tenantID + "\x00" + name)
}

func validateSecretKey(tenantID, name string) error {
	if err := model.ValidateTenantID(tenantID); err != nil {
		return err
	}
	return model.ValidateSecretName(name)
}
