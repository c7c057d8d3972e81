// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/session"
)

// memoryTransactions is an in-memory Transactions implementation for tests;
// production uses the cookie adapter.
type memoryTransactions struct {
	m map[string]*Transaction
}

func newMemoryTransactions() *memoryTransactions {
	return &memoryTransactions{m: make(map[string]*Transaction)}
}

func (s *memoryTransactions) Store(_ context.Context, tx *Transaction) error {
	s.m[tx.Provider] = tx
	return nil
}

func (s *memoryTransactions) Load(_ context.Context, provider string) (*Transaction, error) {
	tx, ok := s.m[provider]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *memoryTransactions) Destroy(_ context.Context, provider string) error {
	delete(s.m, provider)
	return nil
}

// fakeBackend implements Backend, capturing what the flow submits.
type fakeBackend struct {
	loginProvider string
	loginToken    string
	loginErr      error
	pair          *identity.TokenPair
	user          *identity.User
	userErr       error
}

func (f *fakeBackend) OAuthLogin(_ context.Context, provider, providerToken string) (*identity.TokenPair, error) {
	f.loginProvider = provider
	f.loginToken = providerToken
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.pair, nil
}

func (f *fakeBackend) CurrentUser(_ context.Context, _ string) (*identity.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.user, nil
}

// tokenEndpointResponse is what the fake provider's token endpoint returns.
type tokenEndpointResponse struct {
	status  int
	body    map[string]any
	gotForm url.Values
}

// newProviderServer fakes an OAuth provider token endpoint.
func newProviderServer(t *testing.T, resp *tokenEndpointResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		resp.gotForm = r.PostForm

		if resp.status != 0 && resp.status != http.StatusOK {
			w.WriteHeader(resp.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp.body)
	}))
}

func newTestFlow(t *testing.T, desc *Descriptor, backend Backend) (*Flow, session.Store) {
	t.Helper()
	store := session.NewMemoryStore()
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	flow := NewFlow(NewRegistry(desc), backend, store, "https://app.safar.test")
	return flow, store
}

func oidcDescriptorFor(ts *httptest.Server) *Descriptor {
	return &Descriptor{
		Name:           "google",
		Endpoint:       oauth2.Endpoint{AuthURL: ts.URL + "/authorize", TokenURL: ts.URL + "/token"},
		Scopes:         []string{"openid", "email"},
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RequiresSecret: true,
		TokenField:     TokenFieldIDToken,
	}
}

func githubDescriptorFor(ts *httptest.Server) *Descriptor {
	return &Descriptor{
		Name:       "github",
		Endpoint:   oauth2.Endpoint{AuthURL: ts.URL + "/authorize", TokenURL: ts.URL + "/token"},
		Scopes:     []string{"read:user"},
		ClientID:   "client-id",
		TokenField: TokenFieldAccessToken,
	}
}

func TestFlow_Initiate(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	flow, _ := newTestFlow(t, oidcDescriptorFor(ts), &fakeBackend{})
	txns := newMemoryTransactions()

	authURL, err := flow.Initiate(context.Background(), txns, "google", "/trips")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "https://app.safar.test/oauth/google/callback", q.Get("redirect_uri"))

	// The transaction mirrors the URL's state and carries the verifier.
	tx, err := txns.Load(context.Background(), "google")
	require.NoError(t, err)
	assert.Equal(t, q.Get("state"), tx.State)
	assert.Equal(t, challengeFromVerifier(tx.CodeVerifier), q.Get("code_challenge"))
	assert.Equal(t, "/trips", tx.RedirectTarget)
	assert.WithinDuration(t, time.Now().Add(TransactionTTL), tx.ExpiresAt, 5*time.Second)
}

func TestFlow_InitiateUnknownProvider(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow(t, NewGitHubDescriptor("client-id"), &fakeBackend{})

	_, err := flow.Initiate(context.Background(), newMemoryTransactions(), "gitlab", "/")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestFlow_InitiateDefaultRedirect(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow(t, NewGitHubDescriptor("client-id"), &fakeBackend{})
	txns := newMemoryTransactions()

	_, err := flow.Initiate(context.Background(), txns, "github", "")
	require.NoError(t, err)

	tx, err := txns.Load(context.Background(), "github")
	require.NoError(t, err)
	assert.Equal(t, DefaultRedirectTarget, tx.RedirectTarget)
}

func TestFlow_CallbackOIDC(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "provider-access",
		"token_type":   "bearer",
		"expires_in":   3600,
		"id_token":     "provider-id-token",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	backend := &fakeBackend{
		pair: &identity.TokenPair{
			AccessToken:  "backend-access",
			RefreshToken: "backend-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
		},
		user: &identity.User{ID: "user-1", Email: "user-1@example.com"},
	}
	flow, store := newTestFlow(t, oidcDescriptorFor(ts), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "google", "/trips")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "google")
	require.NoError(t, err)

	result, err := flow.HandleCallback(ctx, txns, "google", "auth-code", tx.State)
	require.NoError(t, err)

	// OIDC providers hand the id_token to the backend login.
	assert.Equal(t, "google", backend.loginProvider)
	assert.Equal(t, "provider-id-token", backend.loginToken)

	// The exchange carried the verifier and, for a confidential client,
	// the secret.
	assert.Equal(t, tx.CodeVerifier, resp.gotForm.Get("code_verifier"))
	assert.Equal(t, "authorization_code", resp.gotForm.Get("grant_type"))

	require.NotNil(t, result.Session)
	assert.Equal(t, "user-1", result.Session.UserID)
	assert.Equal(t, "/trips", result.RedirectTarget)
	assert.Equal(t, "backend-access", result.Tokens.AccessToken)

	// The session is in the store and the transaction is consumed.
	_, err = store.Get(ctx, result.SessionToken)
	require.NoError(t, err)
	_, err = txns.Load(ctx, "google")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestFlow_CallbackGitHubPublicClient(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "gh-access",
		"token_type":   "bearer",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	backend := &fakeBackend{
		pair: &identity.TokenPair{AccessToken: "backend-access", RefreshToken: "backend-refresh"},
		user: &identity.User{ID: "user-1"},
	}
	flow, _ := newTestFlow(t, githubDescriptorFor(ts), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "github", "auth-code", tx.State)
	require.NoError(t, err)

	// Public client: opaque access token to the backend, no secret on the
	// wire, PKCE does the binding.
	assert.Equal(t, "gh-access", backend.loginToken)
	assert.Empty(t, resp.gotForm.Get("client_secret"))
	assert.NotEmpty(t, resp.gotForm.Get("code_verifier"))
}

func TestFlow_CallbackStateMismatch(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	flow, store := newTestFlow(t, NewGitHubDescriptor("client-id"), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	// Near-miss states must fail: prefixes, case changes, empty.
	for _, state := range []string{tx.State[:len(tx.State)-1], tx.State + "x", "", "other"} {
		freshTxns := newMemoryTransactions()
		require.NoError(t, freshTxns.Store(ctx, &Transaction{
			Provider:       "github",
			State:          tx.State,
			CodeVerifier:   tx.CodeVerifier,
			RedirectTarget: "/",
			ExpiresAt:      time.Now().Add(TransactionTTL),
		}))

		_, cbErr := flow.HandleCallback(ctx, freshTxns, "github", "auth-code", state)
		require.ErrorIs(t, cbErr, ErrStateMismatch)

		// The transaction is destroyed and no session was created.
		_, loadErr := freshTxns.Load(ctx, "github")
		require.ErrorIs(t, loadErr, ErrTransactionNotFound)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFlow_CallbackNoTransaction(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow(t, NewGitHubDescriptor("client-id"), &fakeBackend{})

	_, err := flow.HandleCallback(context.Background(), newMemoryTransactions(), "github", "code", "state")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestFlow_CallbackReplay(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "gh-access",
		"token_type":   "bearer",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	backend := &fakeBackend{
		pair: &identity.TokenPair{AccessToken: "backend-access", RefreshToken: "backend-refresh"},
		user: &identity.User{ID: "user-1"},
	}
	flow, store := newTestFlow(t, githubDescriptorFor(ts), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "github", "auth-code", tx.State)
	require.NoError(t, err)

	// Replaying the consumed code/state pair fails before the provider
	// and creates no second session.
	_, err = flow.HandleCallback(ctx, txns, "github", "auth-code", tx.State)
	require.ErrorIs(t, err, ErrStateMismatch)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFlow_CallbackVerifierMissing(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow(t, NewGitHubDescriptor("client-id"), &fakeBackend{})
	txns := newMemoryTransactions()
	ctx := context.Background()

	require.NoError(t, txns.Store(ctx, &Transaction{
		Provider:  "github",
		State:     "state-1",
		ExpiresAt: time.Now().Add(TransactionTTL),
	}))

	_, err := flow.HandleCallback(ctx, txns, "github", "code", "state-1")
	require.ErrorIs(t, err, ErrVerifierMissing)
}

func TestFlow_CallbackExpiredTransaction(t *testing.T) {
	t.Parallel()

	flow, _ := newTestFlow(t, NewGitHubDescriptor("client-id"), &fakeBackend{})
	txns := newMemoryTransactions()
	ctx := context.Background()

	require.NoError(t, txns.Store(ctx, &Transaction{
		Provider:     "github",
		State:        "state-1",
		CodeVerifier: "verifier",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}))

	_, err := flow.HandleCallback(ctx, txns, "github", "code", "state-1")
	require.ErrorIs(t, err, ErrStateMismatch)
}

func TestFlow_CallbackExchangeRejected(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{status: http.StatusBadRequest}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	flow, _ := newTestFlow(t, githubDescriptorFor(ts), &fakeBackend{})
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "github", "bad-code", tx.State)
	require.ErrorIs(t, err, ErrExchangeFailed)

	_, err = txns.Load(ctx, "github")
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestFlow_CallbackMissingIDToken(t *testing.T) {
	t.Parallel()

	// The provider answers without the id_token the descriptor demands.
	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "provider-access",
		"token_type":   "bearer",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	flow, _ := newTestFlow(t, oidcDescriptorFor(ts), &fakeBackend{})
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "google", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "google")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "google", "code", tx.State)
	require.ErrorIs(t, err, ErrResponseMalformed)
}

func TestFlow_CallbackBackendMissingPair(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "gh-access",
		"token_type":   "bearer",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	backend := &fakeBackend{loginErr: identity.ErrMissingTokenPair}
	flow, _ := newTestFlow(t, githubDescriptorFor(ts), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "github", "code", tx.State)
	require.ErrorIs(t, err, ErrResponseMalformed)
}

func TestFlow_CallbackBackendRejected(t *testing.T) {
	t.Parallel()

	resp := &tokenEndpointResponse{body: map[string]any{
		"access_token": "gh-access",
		"token_type":   "bearer",
	}}
	ts := newProviderServer(t, resp)
	defer ts.Close()

	backend := &fakeBackend{loginErr: identity.ErrLoginRejected}
	flow, _ := newTestFlow(t, githubDescriptorFor(ts), backend)
	txns := newMemoryTransactions()
	ctx := context.Background()

	_, err := flow.Initiate(ctx, txns, "github", "/")
	require.NoError(t, err)
	tx, err := txns.Load(ctx, "github")
	require.NoError(t, err)

	_, err = flow.HandleCallback(ctx, txns, "github", "code", tx.State)
	require.ErrorIs(t, err, ErrExchangeFailed)
}
