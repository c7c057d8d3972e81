// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cookies is the cookie/transport adapter: it owns how tokens and
// session identifiers are persisted in the client's cookie jar. The rest of
// the subsystem only ever sees logical values.
package cookies

import (
	"net/http"
	"time"

	"github.com/MxHabob/safar-auth/pkg/auth"
	"github.com/MxHabob/safar-auth/pkg/identity"
)

// Credential cookie names.
const (
	AccessTokenCookie  = "access-token"
	RefreshTokenCookie = "refresh-token"
	SessionTokenCookie = "session-token"
)

// Fallback lifetimes when a token carries no expiry of its own.
const (
	DefaultAccessTokenMaxAge = time.Hour
	RefreshTokenMaxAge       = 30 * 24 * time.Hour
)

// Config controls the attributes applied to every cookie this package
// writes.
type Config struct {
	// Secure marks cookies as HTTPS-only. On in production.
	Secure bool

	// Domain is the optional cookie domain.
	Domain string
}

// Jar reads and writes the auth cookies of a single request/response pair.
// It is request-scoped; construct one per request.
type Jar struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg Config
}

// NewJar creates a jar bound to one request and its response.
func NewJar(w http.ResponseWriter, r *http.Request, cfg Config) *Jar {
	return &Jar{w: w, r: r, cfg: cfg}
}

// Credentials reads the logical token values off the request.
func (j *Jar) Credentials() auth.Credentials {
	return auth.Credentials{
		SessionToken: j.get(SessionTokenCookie),
		AccessToken:  j.get(AccessTokenCookie),
		RefreshToken: j.get(RefreshTokenCookie),
	}
}

// SetTokenPair persists a token pair. The access cookie's lifetime follows
// the token's expiry; the refresh cookie is long-lived. An empty refresh
// token leaves the existing refresh cookie alone (backends that do not
// rotate refresh tokens omit it).
func (j *Jar) SetTokenPair(pair *identity.TokenPair) {
	accessMaxAge := DefaultAccessTokenMaxAge
	if !pair.ExpiresAt.IsZero() {
		if ttl := time.Until(pair.ExpiresAt); ttl > 0 {
			accessMaxAge = ttl
		}
	}
	j.set(AccessTokenCookie, pair.AccessToken, accessMaxAge)

	if pair.RefreshToken != "" {
		j.set(RefreshTokenCookie, pair.RefreshToken, RefreshTokenMaxAge)
	}
}

// SetSessionToken persists the opaque session token until the session's
// expiry.
func (j *Jar) SetSessionToken(token string, expiresAt time.Time) {
	maxAge := time.Until(expiresAt)
	if maxAge <= 0 {
		maxAge = DefaultAccessTokenMaxAge
	}
	j.set(SessionTokenCookie, token, maxAge)
}

// ClearCredentials removes all three credential cookies. Used on logout and
// on terminal token failures so a retried login always starts clean.
func (j *Jar) ClearCredentials() {
	j.clear(AccessTokenCookie)
	j.clear(RefreshTokenCookie)
	j.clear(SessionTokenCookie)
}

func (j *Jar) get(name string) string {
	c, err := j.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (j *Jar) set(name, value string, maxAge time.Duration) {
	seconds := int(maxAge.Seconds())
	if maxAge > 0 && seconds < 1 {
		// Sub-second lifetimes would truncate to Max-Age=0, which the
		// browser treats as a session cookie.
		seconds = 1
	}
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.cfg.Domain,
		MaxAge:   seconds,
		HttpOnly: true,
		Secure:   j.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j *Jar) clear(name string) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   j.cfg.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
