// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package cookies

import (
	"context"
	"time"

	"github.com/MxHabob/safar-auth/pkg/oauth"
)

// Per-provider OAuth transaction cookie name prefixes.
const (
	oauthStatePrefix    = "oauth-state-"
	oauthVerifierPrefix = "oauth-verifier-"
	oauthRedirectPrefix = "oauth-redirect-"
)

// Store persists an OAuth transaction as three per-provider cookies whose
// max-age enforces the transaction TTL; the browser drops them when the
// flow expires.
func (j *Jar) Store(_ context.Context, tx *oauth.Transaction) error {
	ttl := time.Until(tx.ExpiresAt)
	if ttl <= 0 {
		ttl = oauth.TransactionTTL
	}
	j.set(oauthStatePrefix+tx.Provider, tx.State, ttl)
	j.set(oauthVerifierPrefix+tx.Provider, tx.CodeVerifier, ttl)
	j.set(oauthRedirectPrefix+tx.Provider, tx.RedirectTarget, ttl)
	return nil
}

// Load reconstructs the transaction for a provider from the request's
// cookies. A missing state cookie means no transaction: either none was
// initiated or its TTL lapsed and the browser dropped it.
func (j *Jar) Load(_ context.Context, provider string) (*oauth.Transaction, error) {
	state := j.get(oauthStatePrefix + provider)
	if state == "" {
		return nil, oauth.ErrTransactionNotFound
	}

	return &oauth.Transaction{
		Provider:       provider,
		State:          state,
		CodeVerifier:   j.get(oauthVerifierPrefix + provider),
		RedirectTarget: j.get(oauthRedirectPrefix + provider),
		// The browser enforces the TTL by dropping the cookies; a
		// transaction that still arrives is within its window.
		ExpiresAt: time.Now().Add(oauth.TransactionTTL),
	}, nil
}

// Destroy removes the transaction cookies for a provider.
func (j *Jar) Destroy(_ context.Context, provider string) error {
	j.clear(oauthStatePrefix + provider)
	j.clear(oauthVerifierPrefix + provider)
	j.clear(oauthRedirectPrefix + provider)
	return nil
}

// Compile-time interface compliance check.
var _ oauth.Transactions = (*Jar)(nil)
