// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors
var (
	// ErrTokenInvalid means the token is structurally unusable: not a JWT,
	// missing required claims, or issued to a different subject.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired means the token parsed fine but is past its expiry
	// (including the skew buffer).
	ErrTokenExpired = errors.New("token expired")
)

// Decode parses a JWT without verifying its signature and returns its
// claims. It performs no timing checks; use Claims.Expired or Validate for
// that.
func Decode(raw string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, err := claimsFromMap(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	return claims, nil
}

// Validator performs local validation of backend access tokens.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator using wall-clock time.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// Validate decodes a token and checks it is live and, when expectedSubject
// is non-empty, that it was issued for that subject. A subject mismatch is
// an ErrTokenInvalid: it means the caller is holding someone else's token,
// which no amount of refreshing will fix.
func (v *Validator) Validate(raw, expectedSubject string) (*Claims, error) {
	claims, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	if expectedSubject != "" && claims.Subject != expectedSubject {
		return nil, fmt.Errorf("%w: subject mismatch", ErrTokenInvalid)
	}

	if claims.Expired(v.now()) {
		return claims, ErrTokenExpired
	}

	return claims, nil
}
