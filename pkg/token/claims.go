// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package token provides local, decode-only inspection of backend-issued
// JWT access tokens. The identity backend is the only party that verifies
// signatures; this package extracts timing and subject claims so the
// frontend can decide whether a token is worth sending at all.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpirationBuffer is subtracted from a token's lifetime so tokens about to
// expire are treated as already expired. This avoids the race where a token
// passes local checks but dies in flight to the backend.
const ExpirationBuffer = 30 * time.Second

// Claims is the subset of registered JWT claims the frontend cares about.
type Claims struct {
	// Subject is the user ID the token was issued for.
	Subject string

	// Email is the optional email claim carried by backend tokens.
	Email string

	// ExpiresAt is the token expiry. Zero when the token carries no exp
	// claim.
	ExpiresAt time.Time

	// IssuedAt is the token issue time. Zero when absent.
	IssuedAt time.Time
}

// Expired reports whether the token is expired at the given instant,
// applying ExpirationBuffer. A token without an exp claim never expires
// locally; the backend remains the authority.
func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(ExpirationBuffer).Before(c.ExpiresAt)
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	c := &Claims{}

	sub, err := mc.GetSubject()
	if err != nil {
		return nil, err
	}
	c.Subject = sub

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if email, ok := mc["email"].(string); ok {
		c.Email = email
	}

	return c, nil
}
