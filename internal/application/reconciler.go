package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
	"github.com/ericfisherdev/repobridge/internal/keylock"
)

// Reconciler applies verified installation webhooks to the installation and
// mapping stores. Every handler is idempotent: GitHub delivers at least once,
// and a redelivery after a partial failure completes the work.
type Reconciler struct {
	installations driven.InstallationStore
	mappings      driven.MappingStore
	tokens        TokenInvalidator
	locks         *keylock.Locker
	logger        *slog.Logger
	now           func() time.Time
}

// NewReconciler creates a Reconciler. locks must be the Locker shared with
// the ConfigService.
func NewReconciler(
	installations driven.InstallationStore,
	mappings driven.MappingStore,
	tokens TokenInvalidator,
	locks *keylock.Locker,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		installations: installations,
		mappings:      mappings,
		tokens:        tokens,
		locks:         locks,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Apply dispatches one event. Unknown kinds are ignored.
func (r *Reconciler) Apply(ctx context.Context, event model.InstallationEvent) error {
	installationID := event.Installation.ID
	if installationID <= 0 {
		return model.ValidationError("event has no installation id")
	}

	unlock := r.locks.Lock(installationLockKey(installationID))
	defer unlock()

	switch event.Kind {
	case model.EventInstallationCreated, model.EventInstallationUpdated:
		return r.upsert(ctx, event, func(_ *model.Installation, next *model.Installation) {})
	case model.EventRepositoriesAdded, model.EventRepositoriesRemoved:
		return r.upsert(ctx, event, func(prev *model.Installation, next *model.Installation) {
			var known []string
			if prev != nil {
				known = prev.Repositories
			}
			next.Repositories = applyRepositoryDelta(known, event.RepositoriesAdded, event.RepositoriesRemoved)
		})
	case model.EventInstallationSuspended:
		defer r.tokens.Invalidate(installationID)
		return r.upsert(ctx, event, func(_ *model.Installation, next *model.Installation) {
			if next.SuspendedAt == nil {
				now := r.now()
				next.SuspendedAt = &now
			}
		})
	case model.EventInstallationUnsuspended:
		defer r.tokens.Invalidate(installationID)
		return r.upsert(ctx, event, func(_ *model.Installation, next *model.Installation) {
			next.SuspendedAt = nil
		})
	case model.EventInstallationDeleted:
		return r.delete(ctx, installationID, event.Sender)
	default:
		r.logger.Debug("ignoring installation event", "kind", event.Kind, "installation_id", installationID)
		return nil
	}
}

// upsert merges the event's snapshot over the stored record. adjust may
// rewrite the merged record before it is saved. Must be called with the
// installation lock held.
func (r *Reconciler) upsert(ctx context.Context, event model.InstallationEvent, adjust func(prev, next *model.Installation)) error {
	prev, err := r.installations.Get(ctx, event.Installation.ID)
	if err != nil {
		return err
	}

	next := event.Installation
	now := r.now()
	if prev != nil {
		if !prev.CreatedAt.IsZero() {
			next.CreatedAt = prev.CreatedAt
		}
		// Payloads for suspend and permission events omit the repository list.
		if next.Repositories == nil {
			next.Repositories = prev.Repositories
		}
		if next.Permissions == nil {
			next.Permissions = prev.Permissions
		}
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	next.UpdatedAt = now

	adjust(prev, &next)

	if err := r.installations.Save(ctx, next); err != nil {
		return err
	}

	r.logger.Info("installation updated",
		"kind", event.Kind,
		"installation_id", next.ID,
		"account", next.Account.Login,
		"repositories", len(next.Repositories),
		"suspended", next.IsSuspended(),
	)
	return nil
}

// delete removes the installation and every mapping that references it. A
// failure on one mapping does not stop the others; the joined error makes
// GitHub redeliver, and the redelivery finishes whatever is left. Must be
// called with the installation lock held.
func (r *Reconciler) delete(ctx context.Context, installationID int64, sender string) error {
	if err := r.installations.Delete(ctx, installationID); err != nil {
		return err
	}
	r.tokens.Invalidate(installationID)

	mappings, err := r.mappings.FindByInstallation(ctx, installationID)
	if err != nil {
		return err
	}

	var errs []error
	removed := 0
	for _, m := range mappings {
		deleted, err := r.deleteMapping(ctx, m.TenantID, installationID)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", m.TenantID, err))
			continue
		}
		if deleted {
			removed++
		}
	}

	r.logger.Info("installation deleted",
		"installation_id", installationID,
		"sender", sender,
		"mappings_removed", removed,
		"mappings_failed", len(errs),
	)
	return errors.Join(errs...)
}

// deleteMapping re-reads the mapping under the tenant lock and deletes it
// only if it still points at the installation.
func (r *Reconciler) deleteMapping(ctx context.Context, tenantID string, installationID int64) (bool, error) {
	unlock := r.locks.Lock(tenantLockKey(tenantID))
	defer unlock()

	mapping, err := r.mappings.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if mapping == nil || mapping.InstallationID != installationID {
		return false, nil
	}
	if err := r.mappings.Delete(ctx, tenantID); err != nil {
		return false, err
	}
	return true, nil
}

// applyRepositoryDelta returns known plus added minus removed, sorted and
// without duplicates. Names compare case-insensitively.
func applyRepositoryDelta(known, added, removed []string) []string {
	set := make(map[string]string, len(known)+len(added))
	for _, name := range known {
		set[strings.ToLower(name)] = name
	}
	for _, name := range added {
		set[strings.ToLower(name)] = name
	}
	for _, name := range removed {
		delete(set, strings.ToLower(name))
	}

	out := make([]string, 0, len(set))
	for _, name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
