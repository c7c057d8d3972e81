// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/logger"
)

// MemoryStore implements Store with in-process maps. This is the default
// backing for single-instance deployments; sessions do not survive a process
// restart, which the resolution path tolerates by lazily repopulating the
// store from a valid access token.
//
// Expired entries are evicted lazily on access and swept opportunistically
// on Create. An optional periodic sweep can be enabled with
// WithSweepInterval; it reuses the same eviction logic and does not change
// the public contract.
type MemoryStore struct {
	mu sync.RWMutex

	// sessions maps session token -> owned session entry.
	sessions map[string]*Session

	// byUser maps user ID -> set of that user's session tokens. A live
	// session is always reachable through both maps.
	byUser map[string]map[string]struct{}

	// sweepInterval is how often the optional background sweep runs.
	// Zero disables it.
	sweepInterval time.Duration

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithSweepInterval enables a periodic background sweep of expired entries.
func WithSweepInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.sweepInterval = interval
	}
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		sessions:  make(map[string]*Session),
		byUser:    make(map[string]map[string]struct{}),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.sweepDone)
	}

	return s
}

// Close stops the background sweep goroutine, if any.
func (s *MemoryStore) Close() error {
	if s.sweepInterval > 0 {
		close(s.stopSweep)
	}
	<-s.sweepDone
	return nil
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.sweepExpiredLocked(time.Now())
			s.mu.Unlock()
		}
	}
}

// Create inserts a new session and indexes it by user ID. It also sweeps
// any expired entries while it holds the write lock.
func (s *MemoryStore) Create(
	_ context.Context, token, userID string, user *identity.User, ttl time.Duration,
) (*Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Sweep first so a collision is only ever reported against a live
	// entry, never against one that already expired.
	s.sweepExpiredLocked(time.Now())

	if _, exists := s.sessions[token]; exists {
		return nil, ErrTokenCollision
	}

	now := time.Now()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		User:      user.Clone(),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[token] = sess

	tokens, ok := s.byUser[userID]
	if !ok {
		tokens = make(map[string]struct{})
		s.byUser[userID] = tokens
	}
	tokens[token] = struct{}{}

	return sess.Clone(), nil
}

// Get returns a live session and touches its UpdatedAt. Expired entries are
// evicted on the way out.
func (s *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	if sess.Expired(now) {
		s.evictLocked(token)
		return nil, ErrNotFound
	}

	sess.UpdatedAt = now
	return sess.Clone(), nil
}

// Update merges the given fields into a live session. Expired sessions are
// evicted rather than updated.
func (s *MemoryStore) Update(_ context.Context, token string, update Update) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return nil, ErrNotFound
	}

	now := time.Now()
	if sess.Expired(now) {
		s.evictLocked(token)
		return nil, ErrNotFound
	}

	if update.User != nil {
		sess.User = update.User.Clone()
	}
	if update.ExpiresAt != nil {
		sess.ExpiresAt = *update.ExpiresAt
	}
	sess.UpdatedAt = now

	return sess.Clone(), nil
}

// Delete removes a session and its index membership.
func (s *MemoryStore) Delete(_ context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[token]; !ok {
		return false, nil
	}
	s.evictLocked(token)
	return true, nil
}

// DeleteAllForUser removes every session of a user, expired or not, in one
// critical section so no session is ever momentarily orphaned from the
// index.
func (s *MemoryStore) DeleteAllForUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, ok := s.byUser[userID]
	if !ok {
		return 0, nil
	}

	count := 0
	for token := range tokens {
		if _, exists := s.sessions[token]; exists {
			delete(s.sessions, token)
			count++
		}
	}
	delete(s.byUser, userID)

	logger.Debugw("revoked all sessions for user", "user_id", userID, "count", count)
	return count, nil
}

// ListForUser returns the user's live sessions without mutating the store.
func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*Session
	for token := range s.byUser[userID] {
		sess, ok := s.sessions[token]
		if !ok || sess.Expired(now) {
			continue
		}
		out = append(out, sess.Clone())
	}
	return out, nil
}

// Count returns the number of entries currently held.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Stats contains statistics about the store contents, for tests and
// monitoring.
type Stats struct {
	Sessions     int
	IndexedUsers int
}

// Stats returns current statistics about store contents.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Sessions:     len(s.sessions),
		IndexedUsers: len(s.byUser),
	}
}

// evictLocked removes a session and its index membership. The caller must
// hold the write lock. The user's index entry is dropped once empty.
func (s *MemoryStore) evictLocked(token string) {
	sess, ok := s.sessions[token]
	if !ok {
		return
	}
	delete(s.sessions, token)

	tokens, ok := s.byUser[sess.UserID]
	if !ok {
		return
	}
	delete(tokens, token)
	if len(tokens) == 0 {
		delete(s.byUser, sess.UserID)
	}
}

// sweepExpiredLocked evicts every expired entry. The caller must hold the
// write lock.
func (s *MemoryStore) sweepExpiredLocked(now time.Time) {
	var expired []string
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		s.evictLocked(token)
	}
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)
