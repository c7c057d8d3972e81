// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package identity provides the client for the Safar identity backend, the
// REST service that issues token pairs and serves the authoritative user
// record.
package identity

import "time"

// User is a snapshot of a user profile as served by the identity backend.
// Sessions cache this snapshot; it is not live-queried per session hit.
type User struct {
	// ID is the backend's user identifier.
	ID string `json:"id"`

	// Email is the user's primary email address.
	Email string `json:"email"`

	// Name is the user's display name.
	Name string `json:"name,omitempty"`

	// AvatarURL is the user's profile image, if any.
	AvatarURL string `json:"avatar_url,omitempty"`

	// Role is the marketplace role ("guest", "host", "admin").
	Role string `json:"role,omitempty"`

	// JoinedAt is when the account was created.
	JoinedAt time.Time `json:"joined_at,omitempty"`
}

// Clone returns a copy of the user snapshot. Stores hand out clones so
// callers can never mutate cached state through a shared pointer.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// TokenPair is an access/refresh token pair issued by the identity backend.
type TokenPair struct {
	// AccessToken is the short-lived bearer token for API calls.
	AccessToken string `json:"access_token"`

	// RefreshToken is the long-lived token used solely to mint new access
	// tokens. May be empty on refresh responses that do not rotate it.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time `json:"-"`
}
