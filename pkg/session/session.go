// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"time"

	"github.com/MxHabob/safar-auth/pkg/identity"
)

// DefaultTTL is the session lifetime used when the access token carries no
// usable expiry claim.
const DefaultTTL = 24 * time.Hour

// Session is one authenticated browser session. Its expiry is always derived
// from the access token it shadows (or DefaultTTL); the store never invents
// its own lifetime.
type Session struct {
	// Token is the opaque session identifier, the primary key.
	Token string `json:"token"`

	// UserID is the owning user's identifier.
	UserID string `json:"user_id"`

	// User is the profile snapshot cached at the last refresh.
	User *identity.User `json:"user"`

	// ExpiresAt is the absolute expiry; the session is unusable at or
	// after this instant.
	ExpiresAt time.Time `json:"expires_at"`

	// CreatedAt and UpdatedAt are bookkeeping timestamps.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the session is unusable at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy. Stores return clones so that every read is a
// value, never a handle into cached state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
