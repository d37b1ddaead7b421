package model

import (
	"regexp"
	"time"
)

// Secret record format identifiers. Records carrying any other pair are
// rejected on read.
const (
	SecretAlgorithmAES256GCM = "aes-256-gcm"
	SecretFormatVersion      = 1
)

// Well-known secret names.
const (
	SecretSummarizerAPIKey = "summarizer_api_key"
)

// MaskPlaceholder replaces everything but the last four characters of a
// displayed secret.
const MaskPlaceholder = "****"

var secretNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// EncryptedSecretRecord is one named secret at rest. Ciphertext is
// base64(nonce || ciphertext || tag).
type EncryptedSecretRecord struct {
	Ciphertext string    `json:"ciphertext"`
	Algorithm  string    `json:"algorithm"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SecretSet is the durable unit holding every secret of one tenant.
type SecretSet struct {
	TenantID string                           `json:"tenant_id"`
	Secrets  map[string]EncryptedSecretRecord `json:"secrets"`
}

// ValidateSecretName checks a secret name is non-empty and free of path
// separators.
func ValidateSecretName(name string) error {
	if !secretNamePattern.MatchString(name) || name == "." || name == ".." {
		return ValidationError("invalid secret name %q", name)
	}
	return nil
}

// MaskSecret reveals only the last four characters of s. Values of four
// characters or fewer are fully masked.
func MaskSecret(s string) string {
	runes := []rune(s)
	if len(runes) <= 4 {
		return MaskPlaceholder
	}
	return MaskPlaceholder + string(runes[len(runes)-4:])
}

