package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/repobridge/internal/application"
	"github.com/ericfisherdev/repobridge/internal/domain/model"
	"github.com/ericfisherdev/repobridge/internal/keylock"
	"github.com/ericfisherdev/repobridge/internal/metrics"
)

type configFixture struct {
	clock         *fakeClock
	app           *mockGitHubApp
	lister        *mockLister
	installations *memInstallationStore
	mappings      *memMappingStore
	issuer        *application.CredentialIssuer
	svc           *application.ConfigService
}

func newConfigFixture(t *testing.T) *configFixture {
	t.Helper()

	f := &configFixture{
		clock:         newFakeClock(),
		lister:        &mockLister{repos: []string{"acme/docs", "acme/api", "Acme/Site"}},
		installations: newMemInstallationStore(),
		mappings:      newMemMappingStore(),
	}
	f.app = newMockGitHubApp(f.clock)
	f.app.installations[123] = &model.Installation{
		ID:      123,
		AppID:   42,
		Account: model.Account{Login: "acme", ID: 7, Type: "Organization"},
	}
	f.app.installations[456] = &model.Installation{
		ID:      456,
		AppID:   42,
		Account: model.Account{Login: "globex", ID: 8, Type: "Organization"},
	}

	f.issuer = application.NewCredentialIssuer(f.app, f.installations, application.WithClock(f.clock.Now))
	f.svc = application.NewConfigService(
		f.issuer,
		application.NewAccessValidator(f.lister),
		f.app,
		f.mappings,
		f.installations,
		&keylock.Locker{},
		metrics.Nop{},
		discardLogger(),
	)
	f.svc.SetBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
	return f
}

func TestConfigureTenant_Success(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	mapping, err := f.svc.ConfigureTenant(ctx, "g1", "Guild One", "acme/docs", "123")
	require.NoError(t, err)
	assert.Equal(t, "g1", mapping.TenantID)
	assert.Equal(t, "Guild One", mapping.TenantName)
	assert.Equal(t, int64(123), mapping.InstallationID)
	assert.Equal(t, "acme/docs", mapping.DefaultRepository.FullName())

	stored, err := f.mappings.Get(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, *mapping, *stored)

	inst, err := f.installations.Get(ctx, 123)
	require.NoError(t, err)
	require.NotNil(t, inst, "installation should be recorded on first configure")
	assert.Equal(t, "acme", inst.Account.Login)
	assert.False(t, inst.CreatedAt.IsZero())
}

func TestConfigureTenant_StoresCanonicalCasing(t *testing.T) {
	f := newConfigFixture(t)

	mapping, err := f.svc.ConfigureTenant(context.Background(), "g1", "", "acme/site", "123")
	require.NoError(t, err)
	assert.Equal(t, "Acme/Site", mapping.DefaultRepository.FullName())
}

func TestConfigureTenant_InvalidInputMakesNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name           string
		tenantID       string
		repo           string
		installationID string
	}{
		{name: "repo without owner", tenantID: "g1", repo: "docs", installationID: "123"},
		{name: "repo with spaces", tenantID: "g1", repo: "acme/my docs", installationID: "123"},
		{name: "repo with extra segment", tenantID: "g1", repo: "acme/docs/wiki", installationID: "123"},
		{name: "non-numeric installation", tenantID: "g1", repo: "acme/docs", installationID: "abc"},
		{name: "negative installation", tenantID: "g1", repo: "acme/docs", installationID: "-5"},
		{name: "zero installation", tenantID: "g1", repo: "acme/docs", installationID: "0"},
		{name: "tenant with path separator", tenantID: "../g1", repo: "acme/docs", installationID: "123"},
		{name: "empty tenant", tenantID: "", repo: "acme/docs", installationID: "123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConfigFixture(t)

			_, err := f.svc.ConfigureTenant(context.Background(), tt.tenantID, "", tt.repo, tt.installationID)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Equal(t, 0, f.app.exchangeCount())
			assert.Equal(t, 0, f.lister.callCount())
			assert.Equal(t, 0, f.mappings.count())
		})
	}
}

func TestConfigureTenant_RepositoryNotAccessible(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/private", "123")
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, model.UserMessage(err), "not accessible")
	assert.Equal(t, 1, f.lister.callCount(), "validation errors are not retried")

	stored, err := f.mappings.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestConfigureTenant_UnknownInstallation(t *testing.T) {
	f := newConfigFixture(t)
	f.app.exchangeErr = model.NotFoundError("installation 999: not found on GitHub")

	_, err := f.svc.ConfigureTenant(context.Background(), "g1", "", "acme/docs", "999")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 1, f.app.exchangeCount(), "not-found is never retried")
	assert.Equal(t, 0, f.mappings.count())
}

func TestConfigureTenant_RetriesExternalFailures(t *testing.T) {
	f := newConfigFixture(t)
	f.lister.errs = []error{
		model.ExternalServiceError(nil, "listing installation repositories"),
		model.ExternalServiceError(nil, "listing installation repositories"),
	}

	mapping, err := f.svc.ConfigureTenant(context.Background(), "g1", "", "acme/docs", "123")
	require.NoError(t, err)
	assert.Equal(t, "acme/docs", mapping.DefaultRepository.FullName())
	assert.Equal(t, 3, f.lister.callCount())
}

func TestConfigureTenant_GivesUpAfterThreeAttempts(t *testing.T) {
	f := newConfigFixture(t)
	f.lister.err = model.ExternalServiceError(nil, "listing installation repositories")

	_, err := f.svc.ConfigureTenant(context.Background(), "g1", "", "acme/docs", "123")
	assert.ErrorIs(t, err, model.ErrExternalService)
	assert.Equal(t, 3, f.lister.callCount())
	assert.Equal(t, 0, f.mappings.count())
}

func TestConfigureTenant_SuspendedInstallation(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()
	suspendedAt := f.clock.Now()
	require.NoError(t, f.installations.Save(ctx, model.Installation{ID: 123, SuspendedAt: &suspendedAt}))

	_, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "123")
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, f.app.exchangeCount())
}

func TestConfigureTenant_ReconfigureSameInstallationKeepsOverrides(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	first, err := f.svc.ConfigureTenant(ctx, "g1", "Guild One", "acme/docs", "123")
	require.NoError(t, err)
	_, err = f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/api")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/api", "123")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "Guild One", second.TenantName, "empty name keeps the previous one")
	assert.Equal(t, "acme/api", second.DefaultRepository.FullName())
	assert.Equal(t, "acme/api", second.RepositoryFor("c9").FullName())
}

func TestConfigureTenant_MovingInstallationDropsOverrides(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "123")
	require.NoError(t, err)
	_, err = f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/api")
	require.NoError(t, err)

	moved, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "456")
	require.NoError(t, err)
	assert.Equal(t, int64(456), moved.InstallationID)
	assert.Empty(t, moved.ChannelRepositories)
}

func TestSetChannelRepository(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "123")
	require.NoError(t, err)

	mapping, err := f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/site")
	require.NoError(t, err)
	assert.Equal(t, "Acme/Site", mapping.RepositoryFor("c9").FullName())
	assert.Equal(t, "acme/docs", mapping.RepositoryFor("c1").FullName())

	repo, err := f.svc.RepositoryFor(ctx, "g1", "c9")
	require.NoError(t, err)
	assert.Equal(t, "Acme/Site", repo.FullName())
}

func TestSetChannelRepository_Errors(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/docs")
	assert.ErrorIs(t, err, model.ErrNotFound, "unconfigured tenant")

	_, err = f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "123")
	require.NoError(t, err)

	_, err = f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/private")
	assert.ErrorIs(t, err, model.ErrValidation, "inaccessible repository")

	_, err = f.svc.SetChannelRepository(ctx, "g1", "bad/channel", "acme/docs")
	assert.ErrorIs(t, err, model.ErrValidation, "invalid channel id")

	mapping, err := f.svc.GetMapping(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, mapping.ChannelRepositories)
}

func TestClearChannelRepository(t *testing.T) {
	f := newConfigFixture(t)
	ctx := context.Background()

	_, err := f.svc.ConfigureTenant(ctx, "g1", "", "acme/docs", "123")
	require.NoError(t, err)
	_, err = f.svc.SetChannelRepository(ctx, "g1", "c9", "acme/api")
	require.NoError(t, err)

	mapping, err := f.svc.ClearChannelRepository(ctx, "g1", "c9")
	require.NoError(t, err)
	assert.Nil(t, mapping.ChannelRepositories)
	assert.Equal(t, "acme/docs", mapping.RepositoryFor("c9").FullName())

	_, err = f.svc.ClearChannelRepository(ctx, "g1", "c9")
	assert.NoError(t, err, "clearing twice should not error")
}

func TestGetMapping_NotFound(t *testing.T) {
	f := newConfigFixture(t)

	_, err := f.svc.GetMapping(context.Background(), "g1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
