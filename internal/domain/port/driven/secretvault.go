package driven

import (
	"context"
)

// SecretVault defines the driven port for per-tenant encrypted secret
// persistence. The adapter owns the master key and all ciphertext; this
// interface operates on plaintext values at the domain boundary.
type SecretVault interface {
	// Put encrypts plaintext and stores it under name, replacing any
	// previous value for the same tenant and name.
	Put(ctx context.Context, tenantID, name, plaintext string) error

	// Get decrypts the named secret. Returns ("", false, nil) if the tenant
	// has no secret with that name. Returns a model.KindIntegrity error if
	// the stored ciphertext fails authentication.
	Get(ctx context.Context, tenantID, name string) (string, bool, error)

	// Has reports whether the tenant has a secret with that name without
	// decrypting it.
	Has(ctx context.Context, tenantID, name string) (bool, error)

	// Remove deletes the named secret. Removing an absent secret is a no-op.
	Remove(ctx context.Context, tenantID, name string) error
}
