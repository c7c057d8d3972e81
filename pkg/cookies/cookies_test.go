// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package cookies

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/oauth"
)

func newJar(t *testing.T, reqCookies ...*http.Cookie) (*Jar, *httptest.ResponseRecorder) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range reqCookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	return NewJar(w, r, Config{Secure: true}), w
}

func responseCookie(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set on response", name)
	return nil
}

func TestJar_Credentials(t *testing.T) {
	t.Parallel()

	jar, _ := newJar(t,
		&http.Cookie{Name: SessionTokenCookie, Value: "sess-1"},
		&http.Cookie{Name: AccessTokenCookie, Value: "access-1"},
		&http.Cookie{Name: RefreshTokenCookie, Value: "refresh-1"},
	)

	creds := jar.Credentials()
	assert.Equal(t, "sess-1", creds.SessionToken)
	assert.Equal(t, "access-1", creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
}

func TestJar_CredentialsEmpty(t *testing.T) {
	t.Parallel()

	jar, _ := newJar(t)
	creds := jar.Credentials()
	assert.Empty(t, creds.SessionToken)
	assert.Empty(t, creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
}

func TestJar_SetTokenPair(t *testing.T) {
	t.Parallel()

	jar, w := newJar(t)
	jar.SetTokenPair(&identity.TokenPair{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(15 * time.Minute),
	})

	access := responseCookie(t, w, AccessTokenCookie)
	assert.Equal(t, "access-1", access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Equal(t, http.SameSiteLaxMode, access.SameSite)
	assert.InDelta(t, (15 * time.Minute).Seconds(), float64(access.MaxAge), 5)

	refresh := responseCookie(t, w, RefreshTokenCookie)
	assert.Equal(t, "refresh-1", refresh.Value)
	assert.Equal(t, int(RefreshTokenMaxAge.Seconds()), refresh.MaxAge)
}

func TestJar_SetTokenPairNoRotation(t *testing.T) {
	t.Parallel()

	// An empty refresh token must not clobber the existing cookie.
	jar, w := newJar(t)
	jar.SetTokenPair(&identity.TokenPair{AccessToken: "access-2"})

	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, RefreshTokenCookie, c.Name)
	}
}

func TestJar_SetSessionToken(t *testing.T) {
	t.Parallel()

	jar, w := newJar(t)
	jar.SetSessionToken("sess-1", time.Now().Add(time.Hour))

	c := responseCookie(t, w, SessionTokenCookie)
	assert.Equal(t, "sess-1", c.Value)
	assert.True(t, c.HttpOnly)
	assert.InDelta(t, time.Hour.Seconds(), float64(c.MaxAge), 5)
}

func TestJar_SetSessionTokenSubSecondExpiry(t *testing.T) {
	t.Parallel()

	// A positive lifetime under one second must not truncate to
	// Max-Age=0, which browsers read as "session cookie".
	jar, w := newJar(t)
	jar.SetSessionToken("sess-1", time.Now().Add(500*time.Millisecond))

	c := responseCookie(t, w, SessionTokenCookie)
	assert.Equal(t, 1, c.MaxAge)
}

func TestJar_ClearCredentials(t *testing.T) {
	t.Parallel()

	jar, w := newJar(t)
	jar.ClearCredentials()

	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, SessionTokenCookie} {
		c := responseCookie(t, w, name)
		assert.Empty(t, c.Value)
		assert.Equal(t, -1, c.MaxAge)
	}
}

func TestJar_TransactionRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jar, w := newJar(t)

	tx := &oauth.Transaction{
		Provider:       "google",
		State:          "state-1",
		CodeVerifier:   "verifier-1",
		RedirectTarget: "/trips",
		ExpiresAt:      time.Now().Add(oauth.TransactionTTL),
	}
	require.NoError(t, jar.Store(ctx, tx))

	state := responseCookie(t, w, "oauth-state-google")
	assert.Equal(t, "state-1", state.Value)
	assert.True(t, state.HttpOnly)
	assert.InDelta(t, oauth.TransactionTTL.Seconds(), float64(state.MaxAge), 5)

	// The callback request carries the cookies back.
	callbackJar, _ := newJar(t,
		&http.Cookie{Name: "oauth-state-google", Value: "state-1"},
		&http.Cookie{Name: "oauth-verifier-google", Value: "verifier-1"},
		&http.Cookie{Name: "oauth-redirect-google", Value: "/trips"},
	)

	loaded, err := callbackJar.Load(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "state-1", loaded.State)
	assert.Equal(t, "verifier-1", loaded.CodeVerifier)
	assert.Equal(t, "/trips", loaded.RedirectTarget)
}

func TestJar_LoadAbsent(t *testing.T) {
	t.Parallel()

	jar, _ := newJar(t)
	_, err := jar.Load(context.Background(), "google")
	require.ErrorIs(t, err, oauth.ErrTransactionNotFound)
}

func TestJar_Destroy(t *testing.T) {
	t.Parallel()

	jar, w := newJar(t)
	require.NoError(t, jar.Destroy(context.Background(), "github"))

	for _, name := range []string{"oauth-state-github", "oauth-verifier-github", "oauth-redirect-github"} {
		c := responseCookie(t, w, name)
		assert.Equal(t, -1, c.MaxAge)
	}
}
