// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/logger"
	"github.com/MxHabob/safar-auth/pkg/session"
	"github.com/MxHabob/safar-auth/pkg/token"
)

// DefaultRedirectTarget is the safe landing page when the initiating
// request named none.
const DefaultRedirectTarget = "/"

// Backend is the slice of the identity backend the flow controller needs.
// *identity.Client satisfies it.
type Backend interface {
	OAuthLogin(ctx context.Context, provider, providerToken string) (*identity.TokenPair, error)
	CurrentUser(ctx context.Context, accessToken string) (*identity.User, error)
}

// CallbackResult is the outcome of a successful OAuth callback. The
// transport layer persists the tokens and session token as cookies.
type CallbackResult struct {
	Session        *session.Session
	SessionToken   string
	Tokens         *identity.TokenPair
	RedirectTarget string
}

// Flow runs the Authorization Code + PKCE state machine: Initiate mints the
// cryptographic material and the authorization URL, HandleCallback consumes
// it exactly once.
type Flow struct {
	registry    *Registry
	backend     Backend
	store       session.Store
	callbackURL func(provider string) string
}

// NewFlow wires a flow controller. baseURL is the externally visible origin
// of this service, e.g. "https://app.safar.example".
func NewFlow(registry *Registry, backend Backend, store session.Store, baseURL string) *Flow {
	return &Flow{
		registry: registry,
		backend:  backend,
		store:    store,
		callbackURL: func(provider string) string {
			return fmt.Sprintf("%s/oauth/%s/callback", baseURL, provider)
		},
	}
}

func (f *Flow) config(d *Descriptor) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:    d.ClientID,
		Endpoint:    d.Endpoint,
		RedirectURL: f.callbackURL(d.Name),
		Scopes:      d.Scopes,
	}
	if d.RequiresSecret {
		cfg.ClientSecret = d.ClientSecret
	}
	return cfg
}

// Initiate starts a flow for the provider: generates verifier, challenge
// and state, stores the transaction, and returns the authorization URL to
// redirect the user to.
func (f *Flow) Initiate(ctx context.Context, txns Transactions, provider, redirectTarget string) (string, error) {
	desc, err := f.registry.Get(provider)
	if err != nil {
		return "", err
	}

	verifier := newVerifier()
	state, err := newState()
	if err != nil {
		return "", err
	}

	if redirectTarget == "" {
		redirectTarget = DefaultRedirectTarget
	}

	tx := &Transaction{
		Provider:       provider,
		State:          state,
		CodeVerifier:   verifier,
		RedirectTarget: redirectTarget,
		ExpiresAt:      time.Now().Add(TransactionTTL),
	}
	if err := txns.Store(ctx, tx); err != nil {
		return "", fmt.Errorf("failed to store oauth transaction: %w", err)
	}

	authURL := f.config(desc).AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
	)

	logger.Debugw("oauth flow initiated", "provider", provider)
	return authURL, nil
}

// HandleCallback consumes the stored transaction and completes the flow:
// state check, code exchange, backend login, session creation. Success and
// failure both destroy the transaction, so a replayed code or state always
// fails before reaching the provider.
func (f *Flow) HandleCallback(
	ctx context.Context, txns Transactions, provider, code, state string,
) (*CallbackResult, error) {
	desc, err := f.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	tx, err := txns.Load(ctx, provider)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: no transaction for provider %q", ErrStateMismatch, provider)
		}
		return nil, err
	}

	// Consumed exactly once: whatever happens from here, the transaction
	// is gone before the result is returned.
	defer func() {
		_ = txns.Destroy(ctx, provider)
	}()

	// The comparison is exact-match; anything else is a CSRF violation.
	if state == "" || tx.State != state {
		logger.Warnw("oauth state mismatch", "provider", provider)
		return nil, ErrStateMismatch
	}

	if tx.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: transaction expired", ErrStateMismatch)
	}

	if tx.CodeVerifier == "" {
		return nil, ErrVerifierMissing
	}

	providerTok, err := f.config(desc).Exchange(ctx, code,
		oauth2.VerifierOption(tx.CodeVerifier),
	)
	if err != nil {
		logger.Warnw("oauth code exchange rejected", "provider", provider, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	backendInput, err := selectToken(desc, providerTok)
	if err != nil {
		return nil, err
	}

	pair, err := f.backend.OAuthLogin(ctx, provider, backendInput)
	if err != nil {
		if errors.Is(err, identity.ErrMissingTokenPair) {
			return nil, fmt.Errorf("%w: %w", ErrResponseMalformed, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	user, err := f.backend.CurrentUser(ctx, pair.AccessToken)
	if err != nil {
		return nil, err
	}

	sessionToken, err := session.NewToken()
	if err != nil {
		return nil, err
	}

	ttl := sessionTTL(pair, time.Now())
	sess, err := f.store.Create(ctx, sessionToken, user.ID, user, ttl)
	if err != nil {
		return nil, err
	}

	logger.Infow("oauth login completed", "provider", provider, "user_id", user.ID)
	return &CallbackResult{
		Session:        sess,
		SessionToken:   sessionToken,
		Tokens:         pair,
		RedirectTarget: tx.RedirectTarget,
	}, nil
}

// selectToken picks the token field this provider is configured to yield.
// A missing field is a hard error; it means the provider's contract moved.
func selectToken(desc *Descriptor, tok *oauth2.Token) (string, error) {
	switch desc.TokenField {
	case TokenFieldIDToken:
		idToken, ok := tok.Extra("id_token").(string)
		if !ok || idToken == "" {
			logger.Errorw("provider token response malformed",
				"provider", desc.Name,
				"missing_field", string(TokenFieldIDToken),
			)
			return "", fmt.Errorf("%w: missing %s", ErrResponseMalformed, TokenFieldIDToken)
		}
		return idToken, nil
	case TokenFieldAccessToken:
		if tok.AccessToken == "" {
			logger.Errorw("provider token response malformed",
				"provider", desc.Name,
				"missing_field", string(TokenFieldAccessToken),
			)
			return "", fmt.Errorf("%w: missing %s", ErrResponseMalformed, TokenFieldAccessToken)
		}
		return tok.AccessToken, nil
	default:
		return "", fmt.Errorf("%w: unsupported token field %q", ErrResponseMalformed, desc.TokenField)
	}
}

// sessionTTL derives the new session's lifetime from the backend token
// pair, preferring the access token's own exp claim.
func sessionTTL(pair *identity.TokenPair, now time.Time) time.Duration {
	if claims, err := token.Decode(pair.AccessToken); err == nil && !claims.ExpiresAt.IsZero() {
		if ttl := claims.ExpiresAt.Sub(now); ttl > 0 {
			return ttl
		}
	}
	if !pair.ExpiresAt.IsZero() {
		if ttl := pair.ExpiresAt.Sub(now); ttl > 0 {
			return ttl
		}
	}
	return session.DefaultTTL
}
