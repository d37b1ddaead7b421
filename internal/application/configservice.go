package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/domain/port/driven"
	"github.com/ericfisherdev/repobridge/internal/keylock"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

// configureAttempts is the total number of tries for a configuration step
// that fails with an external service error.
const configureAttempts = 3

// ConfigService binds tenants to installations and repositories. Every
// repository is checked against the installation before it is persisted.
type ConfigService struct {
	tokens        TokenSource
	validator     *AccessValidator
	app           driven.GitHubApp
	mappings      driven.MappingStore
	installations driven.InstallationStore
	locks         *keylock.Locker
	recorder      metrics.Recorder
	logger        *slog.Logger
	now           func() time.Time
	newBackOff    func() backoff.BackOff
}

// NewConfigService creates a ConfigService. locks must be the Locker shared
// with the Reconciler.
func NewConfigService(
	tokens TokenSource,
	validator *AccessValidator,
	app driven.GitHubApp,
	mappings driven.MappingStore,
	installations driven.InstallationStore,
	locks *keylock.Locker,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *ConfigService {
	return &ConfigService{
		tokens:        tokens,
		validator:     validator,
		app:           app,
		mappings:      mappings,
		installations: installations,
		locks:         locks,
		recorder:      recorder,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// SetBackOff replaces the retry schedule between attempts.
func (s *ConfigService) SetBackOff(newBackOff func() backoff.BackOff) {
	s.newBackOff = newBackOff
}

// ConfigureTenant validates the input, confirms the installation can see the
// repository and persists the tenant mapping along with the installation
// record. Input is validated before any network call. Upstream failures are
// retried with backoff; validation and not-found errors are not.
func (s *ConfigService) ConfigureTenant(ctx context.Context, tenantID, tenantName, repo, installationID string) (*model.TenantMapping, error) {
	mapping, err := s.configureTenant(ctx, tenantID, tenantName, repo, installationID)
	if err != nil {
		s.recorder.RecordTenantConfigured(outcomeOf(err))
		return nil, err
	}
	s.recorder.RecordTenantConfigured("ok")
	return mapping, nil
}

func (s *ConfigService) configureTenant(ctx context.Context, tenantID, tenantName, repo, rawInstallationID string) (*model.TenantMapping, error) {
	if err := model.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if _, err := model.ParseRepoRef(repo); err != nil {
		return nil, err
	}
	installationID, err := model.ParseInstallationID(rawInstallationID)
	if err != nil {
		return nil, err
	}

	canonical, err := s.confirmAccess(ctx, installationID, repo)
	if err != nil {
		return nil, err
	}

	unlockInstallation := s.locks.Lock(installationLockKey(installationID))
	defer unlockInstallation()

	if err := s.ensureInstallation(ctx, installationID); err != nil {
		return nil, err
	}

	unlockTenant := s.locks.Lock(tenantLockKey(tenantID))
	defer unlockTenant()

	existing, err := s.mappings.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	mapping := model.TenantMapping{
		TenantID:          tenantID,
		TenantName:        tenantName,
		InstallationID:    installationID,
		DefaultRepository: canonical,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if existing != nil {
		mapping.CreatedAt = existing.CreatedAt
		if tenantName == "" {
			mapping.TenantName = existing.TenantName
		}
		// Overrides were validated against the old installation.
		if existing.InstallationID == installationID {
			mapping.ChannelRepositories = existing.ChannelRepositories
		}
	}

	if err := s.mappings.Save(ctx, mapping); err != nil {
		return nil, err
	}

	s.logger.Info("tenant configured",
		"tenant_id", tenantID,
		"installation_id", installationID,
		"repository", canonical.FullName(),
	)
	return &mapping, nil
}

// SetChannelRepository overrides the repository used for one channel. The
// repository is checked against the tenant's installation first.
func (s *ConfigService) SetChannelRepository(ctx context.Context, tenantID, channelID, repo string) (*model.TenantMapping, error) {
	if err := model.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := model.ValidateChannelID(channelID); err != nil {
		return nil, err
	}
	if _, err := model.ParseRepoRef(repo); err != nil {
		return nil, err
	}

	current, err := s.GetMapping(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	canonical, err := s.confirmAccess(ctx, current.InstallationID, repo)
	if err != nil {
		return nil, err
	}

	return s.updateMapping(ctx, tenantID, current.InstallationID, func(m *model.TenantMapping) {
		if m.ChannelRepositories == nil {
			m.ChannelRepositories = make(map[string]model.RepoRef)
		}
		m.ChannelRepositories[channelID] = canonical
	})
}

// ClearChannelRepository removes a channel's override so it falls back to
// the tenant default. Clearing an absent override is a no-op.
func (s *ConfigService) ClearChannelRepository(ctx context.Context, tenantID, channelID string) (*model.TenantMapping, error) {
	if err := model.ValidateChannelID(channelID); err != nil {
		return nil, err
	}

	current, err := s.GetMapping(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	return s.updateMapping(ctx, tenantID, current.InstallationID, func(m *model.TenantMapping) {
		delete(m.ChannelRepositories, channelID)
		if len(m.ChannelRepositories) == 0 {
			m.ChannelRepositories = nil
		}
	})
}

// GetMapping returns the tenant's mapping or a not-found error.
func (s *ConfigService) GetMapping(ctx context.Context, tenantID string) (*model.TenantMapping, error) {
	mapping, err := s.mappings.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, model.NotFoundError("tenant %s is not configured", tenantID)
	}
	return mapping, nil
}

// RepositoryFor resolves the repository a channel of the tenant should use.
func (s *ConfigService) RepositoryFor(ctx context.Context, tenantID, channelID string) (model.RepoRef, error) {
	mapping, err := s.GetMapping(ctx, tenantID)
	if err != nil {
		return model.RepoRef{}, err
	}
	return mapping.RepositoryFor(channelID), nil
}

// updateMapping applies mutate under the installation and tenant locks. The
// mapping is re-read under the locks; if it was deleted or moved to another
// installation meanwhile, the change is refused.
func (s *ConfigService) updateMapping(ctx context.Context, tenantID string, installationID int64, mutate func(*model.TenantMapping)) (*model.TenantMapping, error) {
	unlockInstallation := s.locks.Lock(installationLockKey(installationID))
	defer unlockInstallation()
	unlockTenant := s.locks.Lock(tenantLockKey(tenantID))
	defer unlockTenant()

	mapping, err := s.GetMapping(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if mapping.InstallationID != installationID {
		return nil, model.ValidationError("tenant %s was reconfigured concurrently; try again", tenantID)
	}

	mutate(mapping)
	mapping.UpdatedAt = s.now()

	if err := s.mappings.Save(ctx, *mapping); err != nil {
		return nil, err
	}
	return mapping, nil
}

// confirmAccess mints a token and checks the repository against it,
// retrying upstream failures.
func (s *ConfigService) confirmAccess(ctx context.Context, installationID int64, repo string) (model.RepoRef, error) {
	var canonical model.RepoRef
	err := s.retry(ctx, "confirm repository access", func() error {
		token, err := s.tokens.Token(ctx, installationID)
		if err != nil {
			return err
		}
		canonical, err = s.validator.Validate(ctx, token, repo)
		return err
	})
	return canonical, err
}

// ensureInstallation records the installation if this is the first time it
// is seen. Must be called with the installation lock held.
func (s *ConfigService) ensureInstallation(ctx context.Context, installationID int64) error {
	existing, err := s.installations.Get(ctx, installationID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	var installation *model.Installation
	err = s.retry(ctx, "get installation", func() error {
		var err error
		installation, err = s.app.GetInstallation(ctx, installationID)
		return err
	})
	if err != nil {
		return err
	}

	now := s.now()
	if installation.CreatedAt.IsZero() {
		installation.CreatedAt = now
	}
	installation.UpdatedAt = now
	return s.installations.Save(ctx, *installation)
}

// retry runs op up to configureAttempts times, retrying only external service
// errors.
func (s *ConfigService) retry(ctx context.Context, action string, op func() error) error {
	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), configureAttempts-1), ctx)

	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrExternalService) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("github call failed",
			"action", action,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, b)
}

// outcomeOf labels a failed operation for metrics.
func outcomeOf(err error) string {
	if kind := model.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
