// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/MxHabob/safar-auth/pkg/auth"
)

// SessionMiddleware resolves the request's credentials and, when a session
// exists, attaches it to the request context. Unauthenticated requests pass
// through untouched; downstream handlers decide whether that matters.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := h.resolve(w, r)
		if err == nil && res.Session != nil {
			r = r.WithContext(auth.WithSession(r.Context(), res.Session))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthMiddleware rejects requests that did not resolve to a session.
// It expects SessionMiddleware to have run first.
func RequireAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.SessionFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
