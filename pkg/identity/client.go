// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MxHabob/safar-auth/pkg/logger"
)

// maxResponseSize limits how much of a backend response body we read.
const maxResponseSize = 1 << 20 // 1MB

// defaultTimeout bounds individual backend calls when the caller's context
// carries no deadline of its own.
const defaultTimeout = 10 * time.Second

// Common errors returned by the client.
var (
	// ErrRefreshFailed means the backend rejected the refresh token.
	// The refresh token is no longer usable.
	ErrRefreshFailed = errors.New("token refresh rejected by identity backend")

	// ErrUserFetchFailed means the user-info call failed after retry.
	// The condition may be transient; no session should be created from it.
	ErrUserFetchFailed = errors.New("failed to fetch user from identity backend")

	// ErrMissingTokenPair means a token response lacked the expected
	// access/refresh token fields. This indicates an upstream contract
	// change and is surfaced verbatim rather than silently tolerated.
	ErrMissingTokenPair = errors.New("token response missing access/refresh token pair")

	// ErrLoginRejected means the backend's OAuth login endpoint rejected
	// the provider token.
	ErrLoginRejected = errors.New("oauth login rejected by identity backend")
)

// Client talks to the Safar identity backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for the identity backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tokenResponse is the wire shape of the backend's token-issuing endpoints.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (r *tokenResponse) toPair(now time.Time) *TokenPair {
	return &TokenPair{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// Refresh exchanges a refresh token for a new token pair via
// POST /auth/token/refresh. The returned pair's RefreshToken may be empty
// when the backend does not rotate refresh tokens; callers keep the old one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrRefreshFailed)
	}

	body, status, err := c.postJSON(ctx, "/auth/token/refresh", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if status != http.StatusOK {
		logger.Debugw("refresh rejected", "status", status)
		return nil, fmt.Errorf("%w: status %d", ErrRefreshFailed, status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: access_token", ErrMissingTokenPair)
	}

	return tr.toPair(time.Now()), nil
}

// CurrentUser fetches the authoritative user record via GET /users/me.
// Transient failures (network errors, 5xx) are retried once; client errors
// are not.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	operation := func() (*User, error) {
		user, retryable, err := c.currentUserOnce(ctx, accessToken)
		if err != nil {
			if !retryable {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return user, nil
	}

	user, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserFetchFailed, err)
	}
	return user, nil
}

func (c *Client) currentUserOnce(ctx context.Context, accessToken string) (*User, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, false, err
	}
	if user.ID == "" {
		return nil, false, errors.New("user record missing id")
	}
	return &user, false, nil
}

// OAuthLogin submits a provider-issued token to POST /auth/oauth/login and
// returns the backend's own token pair. Both access and refresh tokens must
// be present in the response.
func (c *Client) OAuthLogin(ctx context.Context, provider, providerToken string) (*TokenPair, error) {
	body, status, err := c.postJSON(ctx, "/auth/oauth/login", map[string]string{
		"provider": provider,
		"token":    providerToken,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginRejected, err)
	}
	if status != http.StatusOK {
		logger.Warnw("oauth login rejected", "provider", provider, "status", status)
		return nil, fmt.Errorf("%w: status %d", ErrLoginRejected, status)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoginRejected, err)
	}

	// The login exchange must yield a full pair; a missing field is an
	// upstream contract change, not a condition to paper over.
	var missing []string
	if tr.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if tr.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		logger.Errorw("oauth login response malformed",
			"provider", provider,
			"missing_fields", missing,
		)
		return nil, fmt.Errorf("%w: %v", ErrMissingTokenPair, missing)
	}

	return tr.toPair(time.Now()), nil
}

// postJSON sends a JSON body to the given path and returns the raw response
// body and status code. Transport-level failures return an error.
func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
