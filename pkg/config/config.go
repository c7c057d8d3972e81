// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the service configuration from defaults, an optional
// YAML file, and SAFAR_-prefixed environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	// Address is the listen address of the HTTP server.
	Address string `mapstructure:"address"`

	// BaseURL is the externally visible origin of this service, used to
	// build OAuth callback URLs.
	BaseURL string `mapstructure:"base_url"`

	// BackendURL is the identity backend's base URL.
	BackendURL string `mapstructure:"backend_url"`

	// Debug enables debug logging.
	Debug bool `mapstructure:"debug"`

	// SecureCookies marks auth cookies HTTPS-only. On in production.
	SecureCookies bool `mapstructure:"secure_cookies"`

	// CookieDomain is the optional domain attribute for auth cookies.
	CookieDomain string `mapstructure:"cookie_domain"`

	// SessionSweepInterval enables the memory store's periodic sweep when
	// positive. Zero keeps eviction purely lazy.
	SessionSweepInterval time.Duration `mapstructure:"session_sweep_interval"`

	Redis     RedisConfig     `mapstructure:"redis"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// RedisConfig selects and configures the Redis-backed session store.
type RedisConfig struct {
	// Enabled switches the session store from in-memory to Redis.
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ProvidersConfig holds per-provider OAuth credentials. A provider with an
// empty client ID is simply not registered.
type ProvidersConfig struct {
	Google GoogleConfig `mapstructure:"google"`
	GitHub GitHubConfig `mapstructure:"github"`
}

// GoogleConfig is the Google OAuth client (confidential, OIDC).
type GoogleConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// GitHubConfig is the GitHub OAuth client (public, PKCE-only).
type GitHubConfig struct {
	ClientID string `mapstructure:"client_id"`
}

// setDefaults registers every key; viper only maps environment variables
// onto keys it knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("address", ":8080")
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("backend_url", "")
	v.SetDefault("debug", false)
	v.SetDefault("secure_cookies", true)
	v.SetDefault("cookie_domain", "")
	v.SetDefault("session_sweep_interval", time.Duration(0))
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "safar:auth:")
	v.SetDefault("providers.google.client_id", "")
	v.SetDefault("providers.google.client_secret", "")
	v.SetDefault("providers.github.client_id", "")
}

// Load reads configuration. path optionally names a YAML file; environment
// variables use the SAFAR_ prefix with underscores for nesting, e.g.
// SAFAR_REDIS_ADDR.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SAFAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address is required")
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.BackendURL == "" {
		return errors.New("backend_url is required")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required when redis is enabled")
		}
		if c.Redis.KeyPrefix == "" {
			return errors.New("redis.key_prefix is required when redis is enabled")
		}
	}
	if c.Providers.Google.ClientSecret != "" && c.Providers.Google.ClientID == "" {
		return errors.New("providers.google.client_id is required when a client secret is set")
	}
	return nil
}
