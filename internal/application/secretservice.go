package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

// maxSecretLength caps a stored value in bytes.
const maxSecretLength = 8 << 10

// SecretService stores tenant-supplied API keys in the vault. Plaintext is
// only ever returned by GetSecret; everything user-facing goes through
// MaskedSecret.
type SecretService struct {
	vault    driven.SecretVault
	recorder metrics.Recorder
	logger   *slog.Logger
}

// NewSecretService creates a SecretService backed by vault.
func NewSecretService(vault driven.SecretVault, recorder metrics.Recorder, logger *slog.Logger) *SecretService {
	return &SecretService{
		vault:    vault,
		recorder: recorder,
		logger:   logger,
	}
}

// PutSecret stores value under name for the tenant, replacing any previous
// value. Trailing line breaks left by copy and paste are dropped; every other
// character is stored exactly.
func (s *SecretService) PutSecret(ctx context.Context, tenantID, name, value string) error {
	value = strings.TrimRight(value, "\r\n")
	if strings.TrimSpace(value) == "" {
		return model.ValidationError("secret value must not be empty")
	}
	if len(value) > maxSecretLength {
		return model.ValidationError("secret value is too long")
	}

	err := s.vault.Put(ctx, tenantID, name, value)
	s.record("put", err)
	if err != nil {
		return err
	}

	s.logger.Info("secret stored",
		"tenant_id", tenantID,
		"name", name,
		"masked", model.MaskSecret(value),
	)
	return nil
}

// GetSecret returns the decrypted value. found is false if the tenant has no
// secret by that name. A value that fails authentication is never returned.
func (s *SecretService) GetSecret(ctx context.Context, tenantID, name string) (string, bool, error) {
	value, found, err := s.vault.Get(ctx, tenantID, name)
	s.record("get", err)
	if err != nil {
		if errors.Is(err, model.ErrIntegrity) {
			s.logger.Error("stored secret failed authentication",
				"tenant_id", tenantID,
				"name", name,
				"error", err,
			)
		}
		return "", false, err
	}
	return value, found, nil
}

// HasSecret reports whether the tenant has a secret by that name.
func (s *SecretService) HasSecret(ctx context.Context, tenantID, name string) (bool, error) {
	has, err := s.vault.Has(ctx, tenantID, name)
	s.record("has", err)
	return has, err
}

// RemoveSecret deletes the named secret. Removing an absent secret is a no-op.
func (s *SecretService) RemoveSecret(ctx context.Context, tenantID, name string) error {
	err := s.vault.Remove(ctx, tenantID, name)
	s.record("remove", err)
	if err != nil {
		return err
	}

	s.logger.Info("secret removed", "tenant_id", tenantID, "name", name)
	return nil
}

// MaskedSecret returns the display form of a stored secret: everything but
// the last four characters hidden. configured is false when nothing is stored.
func (s *SecretService) MaskedSecret(ctx context.Context, tenantID, name string) (masked string, configured bool, err error) {
	value, found, err := s.GetSecret(ctx, tenantID, name)
	if err != nil || !found {
		return "", false, err
	}
	return model.MaskSecret(value), true, nil
}

func (s *SecretService) record(operation string, err error) {
	if err != nil {
		s.recorder.RecordSecretOperation(operation, outcomeOf(err))
		return
	}
	s.recorder.RecordSecretOperation(operation, "ok")
}
