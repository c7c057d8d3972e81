// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"time"
)

// TransactionTTL bounds how long an initiated flow may wait for its
// callback. An abandoned flow simply expires; its eventual callback fails
// closed at the state check.
const TransactionTTL = 10 * time.Minute

// Transaction is the ephemeral per-flow-attempt record: the CSRF state and
// PKCE verifier minted at initiation, consumed exactly once at callback.
type Transaction struct {
	Provider       string
	State          string
	CodeVerifier   string
	RedirectTarget string
	ExpiresAt      time.Time
}

// Expired reports whether the transaction's TTL has lapsed.
func (t *Transaction) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Transactions persists OAuth transactions for one browser, keyed by
// provider. The cookie adapter is the production implementation; the
// contract only speaks in values.
type Transactions interface {
	// Store saves the transaction, replacing any previous one for the
	// same provider.
	Store(ctx context.Context, tx *Transaction) error

	// Load returns the transaction for a provider, or
	// ErrTransactionNotFound.
	Load(ctx context.Context, provider string) (*Transaction, error)

	// Destroy removes the transaction for a provider. Destroying an
	// absent transaction is a no-op.
	Destroy(ctx context.Context, provider string) error
}
