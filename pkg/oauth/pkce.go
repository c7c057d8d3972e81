// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// stateBytes is the entropy of the CSRF state value.
const stateBytes = 32

// newVerifier generates a PKCE code verifier per RFC 7636. The oauth2
// package produces 32 bytes of entropy, base64url-encoded.
func newVerifier() string {
	return oauth2.GenerateVerifier()
}

// challengeFromVerifier derives the S256 code challenge for a verifier.
func challengeFromVerifier(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// newState generates the CSRF state echoed through the redirect flow.
func newState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
