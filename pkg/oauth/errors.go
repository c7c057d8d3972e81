// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import "errors"

// Common errors. Security-relevant failures (state, verifier) always
// destroy the in-flight transaction before they are returned.
var (
	// ErrUnknownProvider means no descriptor is registered under the
	// requested provider name.
	ErrUnknownProvider = errors.New("unknown oauth provider")

	// ErrTransactionNotFound means no transaction exists for the provider.
	ErrTransactionNotFound = errors.New("oauth transaction not found")

	// ErrStateMismatch means the callback state did not byte-for-byte
	// match the stored value, or no transaction existed at all. Treated as
	// a CSRF violation.
	ErrStateMismatch = errors.New("oauth state mismatch")

	// ErrVerifierMissing means the transaction carried no PKCE verifier;
	// the flow was expired or replayed.
	ErrVerifierMissing = errors.New("pkce verifier missing")

	// ErrExchangeFailed means the code exchange with the provider, or the
	// subsequent backend login, was rejected.
	ErrExchangeFailed = errors.New("oauth exchange failed")

	// ErrResponseMalformed means a token response lacked the field this
	// provider is configured to yield. Indicates an upstream contract
	// change; logged with the offending field and surfaced verbatim.
	ErrResponseMalformed = errors.New("oauth response malformed")
)
