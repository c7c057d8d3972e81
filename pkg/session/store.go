// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session provides the server-side cache of authenticated sessions:
// an opaque session token maps to a cached user snapshot and expiry, with a
// secondary index from user ID to that user's session tokens for bulk
// revocation.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/MxHabob/safar-auth/pkg/identity"
)

// Common storage errors. Absence is part of the contract — callers match
// with errors.Is rather than inspecting error shapes.
var (
	// ErrNotFound is returned when no live session exists for a token.
	ErrNotFound = errors.New("session not found")

	// ErrTokenCollision is returned when Create is called with a token
	// that already exists. Given ≥256-bit token entropy this indicates an
	// internal error, not a condition to recover from.
	ErrTokenCollision = errors.New("session token collision")
)

// Update carries the mutable fields of a session. Nil fields are left
// untouched by Store.Update.
type Update struct {
	// User replaces the cached user snapshot.
	User *identity.User

	// ExpiresAt replaces the session expiry. It is set after a successful
	// token refresh so the session never outlives its backing token claim.
	ExpiresAt *time.Time
}

// Store is the session cache contract. Implementations must be safe for
// concurrent use and must keep the user index consistent with the primary
// map: a live session is always reachable through both.
type Store interface {
	// Create inserts a new session keyed by token and indexes it by user
	// ID. Creating over an existing token fails with ErrTokenCollision.
	Create(ctx context.Context, token, userID string, user *identity.User, ttl time.Duration) (*Session, error)

	// Get returns the session for a token if present and unexpired, and
	// touches its UpdatedAt. An expired entry is lazily evicted and
	// reported as ErrNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// Update merges the given fields into an existing live session.
	// Expired sessions are evicted rather than updated.
	Update(ctx context.Context, token string, update Update) (*Session, error)

	// Delete removes a session and its user-index membership. Deleting an
	// absent token is not an error; the boolean reports whether a session
	// was removed.
	Delete(ctx context.Context, token string) (bool, error)

	// DeleteAllForUser removes every session of a user and returns the
	// number removed. Used for "sign out everywhere" and security events.
	DeleteAllForUser(ctx context.Context, userID string) (int, error)

	// ListForUser returns the user's live sessions. Expired entries are
	// filtered out at read time without mutating the store.
	ListForUser(ctx context.Context, userID string) ([]*Session, error)

	// Count returns the number of entries currently held, including any
	// not yet lazily evicted.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
