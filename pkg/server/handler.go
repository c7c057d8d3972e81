// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the authentication subsystem over HTTP: session
// resolution, logout, and the OAuth redirect/callback endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MxHabob/safar-auth/pkg/auth"
	"github.com/MxHabob/safar-auth/pkg/cookies"
	"github.com/MxHabob/safar-auth/pkg/logger"
	"github.com/MxHabob/safar-auth/pkg/oauth"
)

// loginPath is where unauthenticated browsers are sent.
const loginPath = "/login"

// Handler provides the HTTP handlers of the auth service.
type Handler struct {
	coordinator *auth.Coordinator
	flow        *oauth.Flow
	cookieCfg   cookies.Config
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(coordinator *auth.Coordinator, flow *oauth.Flow, cookieCfg cookies.Config) *Handler {
	return &Handler{
		coordinator: coordinator,
		flow:        flow,
		cookieCfg:   cookieCfg,
	}
}

// Routes returns a router with all auth endpoints registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthHandler)

	r.Get("/auth/session", h.SessionHandler)
	r.Get("/auth/sessions", h.ListSessionsHandler)
	r.Post("/auth/logout", h.LogoutHandler)
	r.Post("/auth/logout-all", h.LogoutAllHandler)

	r.Get("/oauth/{provider}", h.OAuthInitiateHandler)
	r.Get("/oauth/{provider}/callback", h.OAuthCallbackHandler)

	return r
}

// resolve runs the credential resolution chain for a request and applies
// its cookie side effects: rotated tokens, newly minted session tokens, and
// terminal clears.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*auth.Resolution, error) {
	jar := cookies.NewJar(w, r, h.cookieCfg)

	res, err := h.coordinator.GetServerSession(r.Context(), jar.Credentials())
	if err != nil {
		return nil, err
	}

	if res.ClearCredentials {
		jar.ClearCredentials()
	}
	if res.Tokens != nil {
		jar.SetTokenPair(res.Tokens)
	}
	if res.NewSessionToken != "" && res.Session != nil {
		jar.SetSessionToken(res.NewSessionToken, res.Session.ExpiresAt)
	}

	return res, nil
}

// sessionResponse is the wire shape of an authenticated session.
type sessionResponse struct {
	User      any       `json:"user"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionHandler resolves the caller's credentials and returns the session,
// or 401 when unauthenticated.
func (h *Handler) SessionHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolve(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session resolution failed")
		return
	}
	if res.Session == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		User:      res.Session.User,
		ExpiresAt: res.Session.ExpiresAt,
	})
}

// ListSessionsHandler returns the caller's live sessions across devices.
func (h *Handler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolve(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session resolution failed")
		return
	}
	if res.Session == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	sessions, err := h.coordinator.GetUserSessions(r.Context(), res.Session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	type entry struct {
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		ExpiresAt time.Time `json:"expires_at"`
		Current   bool      `json:"current"`
	}
	out := make([]entry, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, entry{
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
			ExpiresAt: s.ExpiresAt,
			Current:   s.Token == res.Session.Token,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// LogoutHandler deletes the caller's session and clears all credential
// cookies. Logging out an already-absent session still succeeds.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	jar := cookies.NewJar(w, r, h.cookieCfg)
	creds := jar.Credentials()

	if creds.SessionToken != "" {
		if _, err := h.coordinator.Logout(r.Context(), creds.SessionToken); err != nil {
			logger.Errorw("logout failed", "error", err)
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	jar.ClearCredentials()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// LogoutAllHandler revokes every session of the authenticated user.
func (h *Handler) LogoutAllHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolve(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session resolution failed")
		return
	}
	if res.Session == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	count, err := h.coordinator.InvalidateUserSessions(r.Context(), res.Session.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "revocation failed")
		return
	}

	cookies.NewJar(w, r, h.cookieCfg).ClearCredentials()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "revoked": count})
}

// OAuthInitiateHandler starts the provider flow and redirects the browser
// to the provider's authorization endpoint.
func (h *Handler) OAuthInitiateHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	redirectTo := safeRedirectTarget(r.URL.Query().Get("redirect_to"))

	jar := cookies.NewJar(w, r, h.cookieCfg)
	authURL, err := h.flow.Initiate(r.Context(), jar, provider, redirectTo)
	if err != nil {
		if errors.Is(err, oauth.ErrUnknownProvider) {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		logger.Errorw("oauth initiation failed", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "oauth initiation failed")
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

// OAuthCallbackHandler completes the provider flow. Failures clear all
// transactional cookies and send the browser back to the login page, so a
// retried login always starts clean.
func (h *Handler) OAuthCallbackHandler(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	jar := cookies.NewJar(w, r, h.cookieCfg)

	result, err := h.flow.HandleCallback(r.Context(), jar, provider, code, state)
	if err != nil {
		logger.Warnw("oauth callback failed", "provider", provider, "error", err)
		_ = jar.Destroy(r.Context(), provider)
		http.Redirect(w, r, loginPath+"?error=oauth", http.StatusFound)
		return
	}

	jar.SetTokenPair(result.Tokens)
	jar.SetSessionToken(result.SessionToken, result.Session.ExpiresAt)
	http.Redirect(w, r, result.RedirectTarget, http.StatusFound)
}

// HealthHandler reports liveness.
func (*Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// safeRedirectTarget constrains post-login redirects to same-origin paths,
// so the flow cannot be abused as an open redirector.
func safeRedirectTarget(target string) string {
	if target == "" {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" || target[0] != '/' {
		return oauth.DefaultRedirectTarget
	}
	return target
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
