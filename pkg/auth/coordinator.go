// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth implements the token lifecycle coordinator: for every inbound
// request it decides whether to trust cached session data, refresh the access
// token, or re-authenticate against the identity backend, while keeping
// upstream calls to a minimum.
package auth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/logger"
	"github.com/MxHabob/safar-auth/pkg/session"
	"github.com/MxHabob/safar-auth/pkg/token"
)

// ErrNoSession is returned by RequireAuth when the caller could not be
// resolved to an authenticated session.
var ErrNoSession = errors.New("no authenticated session")

// Backend is the slice of the identity backend the coordinator needs.
// *identity.Client satisfies it.
type Backend interface {
	Refresh(ctx context.Context, refreshToken string) (*identity.TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// Credentials are the logical token values presented by a request. The
// transport layer (cookies) owns the wire format; the coordinator only sees
// values.
type Credentials struct {
	SessionToken string
	AccessToken  string
	RefreshToken string
}

// Resolution is the outcome of resolving a request's credentials.
type Resolution struct {
	// Session is the resolved session, nil when unauthenticated.
	Session *session.Session

	// Tokens is non-nil when the access token was refreshed during
	// resolution; the transport layer must persist the new pair.
	Tokens *identity.TokenPair

	// NewSessionToken is non-empty when resolution created a session the
	// caller did not yet reference; the transport layer must persist it.
	NewSessionToken string

	// Stale is set when a refresh failed and the cached session is being
	// served one more time with its old token.
	Stale bool

	// ClearCredentials is set when the presented tokens are terminally
	// unusable and must be removed from the client.
	ClearCredentials bool
}

// Coordinator resolves request credentials against the session store and the
// identity backend.
type Coordinator struct {
	store     session.Store
	backend   Backend
	validator *token.Validator

	// refreshGroup collapses concurrent refreshes of the same session into
	// a single upstream call.
	refreshGroup singleflight.Group
}

// NewCoordinator wires a coordinator to its store and backend.
func NewCoordinator(store session.Store, backend Backend) *Coordinator {
	return &Coordinator{
		store:     store,
		backend:   backend,
		validator: token.NewValidator(),
	}
}

// GetServerSession resolves the caller's credentials to a session. The
// resolution chain short-circuits at the first step that succeeds:
//
//  1. Live store entry with a valid access token: serve from cache.
//  2. Live store entry with an expired token: refresh, extend the session,
//     and serve from cache. A failed refresh serves the cached session one
//     more time rather than failing the request.
//  3. No store entry: validate the raw token, refreshing it if needed.
//  4. Valid token without a session: fetch the user once and populate the
//     store under a freshly generated session token.
//
// An unauthenticated caller yields a Resolution with a nil Session and a nil
// error; errors are reserved for internal failures.
func (c *Coordinator) GetServerSession(ctx context.Context, creds Credentials) (*Resolution, error) {
	if creds.SessionToken != "" {
		res, done, err := c.resolveFromStore(ctx, creds)
		if done {
			return res, err
		}
	}
	return c.resolveFromToken(ctx, creds, nil)
}

// resolveFromStore handles steps 1 and 2. The boolean reports whether the
// store path produced a final answer; false falls through to token
// resolution.
func (c *Coordinator) resolveFromStore(ctx context.Context, creds Credentials) (*Resolution, bool, error) {
	sess, err := c.store.Get(ctx, creds.SessionToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, false, nil
		}
		return nil, true, err
	}

	_, verr := c.validator.Validate(creds.AccessToken, sess.UserID)
	switch {
	case verr == nil:
		// Fast path: cached session, live token, no upstream call.
		return &Resolution{Session: sess}, true, nil

	// An absent access token is not a mismatch, just a token that needs
	// minting; take the refresh path alongside genuinely expired tokens.
	case errors.Is(verr, token.ErrTokenExpired) || creds.AccessToken == "":
		pair, rerr := c.refresh(ctx, creds.SessionToken, creds.RefreshToken)
		if rerr != nil {
			// Availability over strictness: serve the cached session
			// with its stale token once; the caller may retry later.
			logger.Warnw("token refresh failed, serving cached session",
				"user_id", sess.UserID, "error", rerr)
			return &Resolution{Session: sess, Stale: true}, true, nil
		}

		expiresAt := sessionExpiry(pair, time.Now())
		updated, uerr := c.store.Update(ctx, creds.SessionToken, session.Update{ExpiresAt: &expiresAt})
		if uerr != nil {
			// The session died between Get and Update (a concurrent
			// logout, say). The new tokens are still good, so resolve
			// them from scratch instead of re-spending the refresh
			// token, which a rotating backend has already consumed.
			creds.AccessToken = pair.AccessToken
			if pair.RefreshToken != "" {
				creds.RefreshToken = pair.RefreshToken
			}
			res, rerr := c.resolveFromToken(ctx, creds, pair)
			return res, true, rerr
		}
		return &Resolution{Session: updated, Tokens: pair}, true, nil

	default:
		// Structurally invalid or issued to a different subject. Not
		// recoverable: the tokens must go, and so must the session they
		// pointed at.
		logger.Warnw("access token rejected for cached session",
			"user_id", sess.UserID, "error", verr)
		_, _ = c.store.Delete(ctx, creds.SessionToken)
		return &Resolution{ClearCredentials: true}, true, nil
	}
}

// resolveFromToken handles steps 3 and 4: no usable store entry, so the raw
// access token is the only evidence of identity. A non-nil refreshed pair
// means the store path already spent the refresh token; it must not be spent
// again.
func (c *Coordinator) resolveFromToken(
	ctx context.Context, creds Credentials, refreshed *identity.TokenPair,
) (*Resolution, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return &Resolution{}, nil
	}

	claims, verr := c.validator.Validate(creds.AccessToken, "")
	if verr != nil {
		if refreshed != nil {
			logger.Errorw("refreshed access token failed validation", "error", verr)
			return &Resolution{ClearCredentials: true}, nil
		}

		pair, rerr := c.refresh(ctx, creds.SessionToken, creds.RefreshToken)
		if rerr != nil {
			// No usable token remains. Terminal: treat the caller as
			// unauthenticated and clear what they presented.
			return &Resolution{ClearCredentials: true}, nil
		}
		refreshed = pair
		creds.AccessToken = pair.AccessToken
		if pair.RefreshToken != "" {
			creds.RefreshToken = pair.RefreshToken
		}

		claims, verr = c.validator.Validate(creds.AccessToken, "")
		if verr != nil {
			logger.Errorw("refreshed access token failed validation", "error", verr)
			return &Resolution{ClearCredentials: true}, nil
		}
	}

	// The only full user-info round trip in the resolution chain. Reached
	// on first login or after the store lost its entries.
	user, err := c.backend.CurrentUser(ctx, creds.AccessToken)
	if err != nil {
		// No session, but any refreshed pair still goes back to the
		// client; the old refresh token is spent.
		logger.Warnw("user fetch failed, not creating session", "error", err)
		return &Resolution{Tokens: refreshed}, nil
	}

	sessionToken, err := session.NewToken()
	if err != nil {
		return nil, err
	}

	ttl := session.DefaultTTL
	if !claims.ExpiresAt.IsZero() {
		ttl = time.Until(claims.ExpiresAt)
	}

	sess, err := c.store.Create(ctx, sessionToken, user.ID, user, ttl)
	if err != nil {
		return nil, err
	}

	logger.Infow("session created", "user_id", user.ID)
	return &Resolution{
		Session:         sess,
		Tokens:          refreshed,
		NewSessionToken: sessionToken,
	}, nil
}

// RequireAuth resolves credentials and fails with ErrNoSession when the
// caller is unauthenticated.
func (c *Coordinator) RequireAuth(ctx context.Context, creds Credentials) (*Resolution, error) {
	res, err := c.GetServerSession(ctx, creds)
	if err != nil {
		return nil, err
	}
	if res.Session == nil {
		return res, ErrNoSession
	}
	return res, nil
}

// UpdateSession replaces the cached user snapshot of a session, e.g. after a
// profile edit.
func (c *Coordinator) UpdateSession(ctx context.Context, sessionToken string, user *identity.User) (*session.Session, error) {
	return c.store.Update(ctx, sessionToken, session.Update{User: user})
}

// Logout deletes a single session.
func (c *Coordinator) Logout(ctx context.Context, sessionToken string) (bool, error) {
	return c.store.Delete(ctx, sessionToken)
}

// InvalidateUserSessions revokes every session of a user ("sign out
// everywhere", password change).
func (c *Coordinator) InvalidateUserSessions(ctx context.Context, userID string) (int, error) {
	return c.store.DeleteAllForUser(ctx, userID)
}

// GetUserSessions lists a user's live sessions.
func (c *Coordinator) GetUserSessions(ctx context.Context, userID string) ([]*session.Session, error) {
	return c.store.ListForUser(ctx, userID)
}

// refresh exchanges the refresh token for a new pair. Concurrent callers
// holding the same session token share a single upstream call.
func (c *Coordinator) refresh(ctx context.Context, sessionToken, refreshToken string) (*identity.TokenPair, error) {
	if refreshToken == "" {
		return nil, identity.ErrRefreshFailed
	}

	key := sessionToken
	if key == "" {
		key = refreshToken
	}

	v, err, _ := c.refreshGroup.Do(key, func() (any, error) {
		return c.backend.Refresh(ctx, refreshToken)
	})
	if err != nil {
		return nil, err
	}
	return v.(*identity.TokenPair), nil
}

// sessionExpiry derives a session's expiry from a refreshed token pair: the
// new access token's exp claim when present, the pair's computed expiry
// otherwise, and the default TTL as a last resort. The store never invents
// its own lifetime.
func sessionExpiry(pair *identity.TokenPair, now time.Time) time.Time {
	if claims, err := token.Decode(pair.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		return claims.ExpiresAt
	}
	if !pair.ExpiresAt.IsZero() && pair.ExpiresAt.After(now) {
		return pair.ExpiresAt
	}
	return now.Add(session.DefaultTTL)
}
