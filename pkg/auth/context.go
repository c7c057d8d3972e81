// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/MxHabob/safar-auth/pkg/session"
)

// SessionContextKey is the key used to store the resolved session in the
// request context. An empty struct key prevents collisions with other
// packages' context keys.
type SessionContextKey struct{}

// WithSession stores a resolved session in the context. A nil session
// returns the original context unchanged.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	if sess == nil {
		return ctx
	}
	return context.WithValue(ctx, SessionContextKey{}, sess)
}

// SessionFromContext retrieves the resolved session from the context.
// Returns the session and true if present, nil and false otherwise.
func SessionFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(SessionContextKey{}).(*session.Session)
	return sess, ok
}
