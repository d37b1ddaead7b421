package application_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ericfisherdev/repobridge/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockGitHubApp implements driven.GitHubApp in memory.
type mockGitHubApp struct {
	mu            sync.Mutex
	clock         *fakeClock
	validity      time.Duration
	exchangeErrs  []error // consumed one per exchange; nil entries succeed
	exchangeErr   error   // returned once exchangeErrs is drained
	exchanges     int
	release       chan struct{} // when non-nil, exchanges block until closed
	entered       chan struct{} // signalled when an exchange starts
	installations map[int64]*model.Installation
	getCalls      int
}

func newMockGitHubApp(clock *fakeClock) *mockGitHubApp {
	return &mockGitHubApp{
		clock:         clock,
		validity:      time.Hour,
		installations: make(map[int64]*model.Installation),
	}
}

func (m *mockGitHubApp) CreateInstallationToken(ctx context.Context, installationID int64) (*model.IssuedToken, error) {
	m.mu.Lock()
	m.exchanges++
	n := m.exchanges
	release := m.release
	entered := m.entered
	var err error
	if len(m.exchangeErrs) > 0 {
		err = m.exchangeErrs[0]
		m.exchangeErrs = m.exchangeErrs[1:]
	} else {
		err = m.exchangeErr
	}
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, model.ExternalServiceError(ctx.Err(), "exchange cancelled")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	return &model.IssuedToken{
		InstallationID: installationID,
		Token:          "ghs_token_" + strconv.Itoa(n),
		IssuedAt:       now,
		ExpiresAt:      now.Add(m.validity),
	}, nil
}

func (m *mockGitHubApp) GetInstallation(_ context.Context, installationID int64) (*model.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++

	inst, ok := m.installations[installationID]
	if !ok {
		return nil, model.NotFoundError("installation %d: not found on GitHub", installationID)
	}
	cp := *inst
	return &cp, nil
}

func (m *mockGitHubApp) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// mockLister implements driven.RepositoryLister.
type mockLister struct {
	mu    sync.Mutex
	repos []string
	errs  []error // consumed one per call; nil entries succeed
	err   error
	calls int
}

func (m *mockLister) ListAccessibleRepositories(_ context.Context, _ string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	} else if m.err != nil {
		return nil, m.err
	}
	return append([]string(nil), m.repos...), nil
}

func (m *mockLister) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// memInstallationStore implements driven.InstallationStore.
type memInstallationStore struct {
	mu      sync.Mutex
	records map[int64]model.Installation
}

func newMemInstallationStore() *memInstallationStore {
	return &memInstallationStore{records: make(map[int64]model.Installation)}
}

func (s *memInstallationStore) Get(_ context.Context, id int64) (*model.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &inst, nil
}

func (s *memInstallationStore) Save(_ context.Context, inst model.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[inst.ID] = inst
	return nil
}

func (s *memInstallationStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// memMappingStore implements driven.MappingStore. Tenants listed in
// failDelete make Delete fail until removed.
type memMappingStore struct {
	mu         sync.Mutex
	records    map[string]model.TenantMapping
	failDelete map[string]bool
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{
		records:    make(map[string]model.TenantMapping),
		failDelete: make(map[string]bool),
	}
}

func (s *memMappingStore) Get(_ context.Context, tenantID string) (*model.TenantMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.records[tenantID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memMappingStore) Save(_ context.Context, m model.TenantMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[m.TenantID] = m
	return nil
}

func (s *memMappingStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[tenantID] {
		return errors.New("disk full")
	}
	delete(s.records, tenantID)
	return nil
}

func (s *memMappingStore) FindByInstallation(_ context.Context, id int64) ([]model.TenantMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TenantMapping
	for _, m := range s.records {
		if m.InstallationID == id {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

func (s *memMappingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// mockInvalidator records Invalidate calls.
type mockInvalidator struct {
	mu          sync.Mutex
	invalidated []int64
}

func (m *mockInvalidator) Invalidate(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
}

func (m *mockInvalidator) calls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.invalidated...)
}
