// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth implements the OAuth2 Authorization Code + PKCE flow against
// third-party identity providers, handing the resulting provider token to
// the identity backend's own login exchange.
package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// TokenField names the field of the provider's token response that the
// identity backend expects. Fixed per provider, never runtime-negotiated.
type TokenField string

// Token fields the backend accepts.
const (
	// TokenFieldIDToken submits the OIDC id_token (Google).
	TokenFieldIDToken TokenField = "id_token"

	// TokenFieldAccessToken submits the opaque access_token (GitHub).
	TokenFieldAccessToken TokenField = "access_token"
)

// GoogleIssuer is the OIDC issuer for Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// Descriptor is the static configuration of one OAuth provider. Adding a
// provider is a data addition, not new branching.
type Descriptor struct {
	// Name is the provider key used in routes and cookie names.
	Name string

	// Endpoint holds the provider's authorization and token URLs.
	Endpoint oauth2.Endpoint

	// Scopes requested during authorization.
	Scopes []string

	// ClientID and ClientSecret identify us to the provider. The secret is
	// empty for public clients.
	ClientID     string
	ClientSecret string

	// RequiresSecret marks confidential clients; the secret is only sent
	// on the exchange when set.
	RequiresSecret bool

	// TokenField selects which response field goes to the backend login.
	TokenField TokenField
}

// NewOIDCDescriptor builds a descriptor for an OpenID Connect provider by
// discovering its endpoints from the issuer. OIDC providers yield an
// id_token for the backend login.
func NewOIDCDescriptor(
	ctx context.Context, name, issuer, clientID, clientSecret string, scopes []string,
) (*Descriptor, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover oidc endpoints for %s: %w", name, err)
	}

	return &Descriptor{
		Name:           name,
		Endpoint:       provider.Endpoint(),
		Scopes:         scopes,
		ClientID:       clientID,
		ClientSecret:   clientSecret,
		RequiresSecret: clientSecret != "",
		TokenField:     TokenFieldIDToken,
	}, nil
}

// NewGoogleDescriptor builds the Google provider via OIDC discovery.
func NewGoogleDescriptor(ctx context.Context, clientID, clientSecret string) (*Descriptor, error) {
	return NewOIDCDescriptor(ctx, "google", GoogleIssuer, clientID, clientSecret,
		[]string{oidc.ScopeOpenID, "email", "profile"})
}

// NewGitHubDescriptor builds the GitHub provider. GitHub runs as a public
// client here: PKCE binds the code, no client secret is sent, and the
// backend receives the opaque access token.
func NewGitHubDescriptor(clientID string) *Descriptor {
	return &Descriptor{
		Name:       "github",
		Endpoint:   endpoints.GitHub,
		Scopes:     []string{"read:user", "user:email"},
		ClientID:   clientID,
		TokenField: TokenFieldAccessToken,
	}
}

// Registry holds the configured provider descriptors.
type Registry struct {
	providers map[string]*Descriptor
}

// NewRegistry builds a registry from the given descriptors.
func NewRegistry(descriptors ...*Descriptor) *Registry {
	r := &Registry{providers: make(map[string]*Descriptor, len(descriptors))}
	for _, d := range descriptors {
		r.providers[d.Name] = d
	}
	return r
}

// Get returns the descriptor for a provider name.
func (r *Registry) Get(name string) (*Descriptor, error) {
	d, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return d, nil
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
