package application

import (
	"context"
	"sync"
	"time"
)

// Pending input defaults.
const (
	DefaultPendingInputTTL        = 5 * time.Minute
	DefaultPendingInputMaxEntries = 1000
)

// PendingInput is a multi-step interaction waiting for a user's next message
// in a channel, for example a summarizer key prompt.
type PendingInput struct {
	Kind      string            `json:"kind"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type pendingKey struct {
	userID    string
	channelID string
}

// PendingInputStore holds at most one PendingInput per (user, channel).
// Entries expire after a fixed TTL and are handed out at most once. When
// full, the entry closest to expiry is evicted to make room.
type PendingInputStore struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[pendingKey]PendingInput
}

// NewPendingInputStore creates a store. Non-positive arguments select the
// defaults.
func NewPendingInputStore(ttl time.Duration, maxEntries int) *PendingInputStore {
	if ttl <= 0 {
		ttl = DefaultPendingInputTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultPendingInputMaxEntries
	}
	return &PendingInputStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[pendingKey]PendingInput),
	}
}

// SetClock replaces the wall clock.
func (s *PendingInputStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Put records a pending input, replacing any previous one for the same user
// and channel.
func (s *PendingInputStore) Put(userID, channelID, kind string, data map[string]string) PendingInput {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := pendingKey{userID: userID, channelID: channelID}
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.pruneLocked(now)
		if len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}

	input := PendingInput{
		Kind:      kind,
		Data:      data,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.entries[key] = input
	return input
}

// Take removes and returns the pending input for the user and channel. It
// reports false if there is none or it has expired.
func (s *PendingInputStore) Take(userID, channelID string) (PendingInput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pendingKey{userID: userID, channelID: channelID}
	input, ok := s.entries[key]
	if !ok {
		return PendingInput{}, false
	}
	delete(s.entries, key)

	if !s.now().Before(input.ExpiresAt) {
		return PendingInput{}, false
	}
	return input, true
}

// Len returns the number of stored entries, expired ones included until the
// next prune.
func (s *PendingInputStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Prune drops expired entries and returns how many were removed.
func (s *PendingInputStore) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(s.now())
}

// Run prunes on every tick until ctx is cancelled.
func (s *PendingInputStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Prune()
		}
	}
}

func (s *PendingInputStore) pruneLocked(now time.Time) int {
	removed := 0
	for key, input := range s.entries {
		if !now.Before(input.ExpiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *PendingInputStore) evictOldestLocked() {
	var (
		oldestKey pendingKey
		oldest    time.Time
		found     bool
	)
	for key, input := range s.entries {
		if !found || input.ExpiresAt.Before(oldest) {
			oldestKey, oldest, found = key, input.ExpiresAt, true
		}
	}
	if found {
		delete(s.entries, oldestKey)
	}
}
