// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MxHabob/safar-auth/pkg/auth"
	"github.com/MxHabob/safar-auth/pkg/config"
	"github.com/MxHabob/safar-auth/pkg/cookies"
	"github.com/MxHabob/safar-auth/pkg/identity"
	"github.com/MxHabob/safar-auth/pkg/logger"
	"github.com/MxHabob/safar-auth/pkg/oauth"
	"github.com/MxHabob/safar-auth/pkg/server"
	"github.com/MxHabob/safar-auth/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication server",
	Long: `Start the HTTP server that resolves sessions, refreshes backend
tokens, and runs the OAuth login flows.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second

	providerSetupTimeout = 10 * time.Second // OIDC discovery happens at startup
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides config)")
	serveCmd.Flags().String("config", "", "Path to a YAML config file")

	if err := viper.BindPFlag("flag.address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Errorf("failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("flag.config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Errorf("failed to bind config flag: %v", err)
	}
}

// newSessionStore selects the session store implementation from config.
func newSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.Redis.Enabled {
		store, err := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Infow("using redis session store", "addr", cfg.Redis.Addr)
		return store, nil
	}

	var opts []session.MemoryStoreOption
	if cfg.SessionSweepInterval > 0 {
		opts = append(opts, session.WithSweepInterval(cfg.SessionSweepInterval))
	}
	logger.Infow("using in-memory session store", "sweep_interval", cfg.SessionSweepInterval)
	return session.NewMemoryStore(opts...), nil
}

// newProviderRegistry registers every provider that has credentials
// configured. OIDC providers discover their endpoints here, so a misconfigured
// issuer fails the process at startup instead of on the first login.
func newProviderRegistry(ctx context.Context, cfg *config.Config) (*oauth.Registry, error) {
	var descriptors []*oauth.Descriptor

	if cfg.Providers.Google.ClientID != "" {
		ctx, cancel := context.WithTimeout(ctx, providerSetupTimeout)
		defer cancel()
		google, err := oauth.NewGoogleDescriptor(ctx,
			cfg.Providers.Google.ClientID, cfg.Providers.Google.ClientSecret)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, google)
	}

	if cfg.Providers.GitHub.ClientID != "" {
		descriptors = append(descriptors, oauth.NewGitHubDescriptor(cfg.Providers.GitHub.ClientID))
	}

	registry := oauth.NewRegistry(descriptors...)
	logger.Infow("oauth providers registered", "providers", registry.Names())
	return registry, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := config.Load(viper.GetString("flag.config"))
	if err != nil {
		return err
	}
	if address := viper.GetString("flag.address"); address != "" {
		cfg.Address = address
	}

	logger.Initialize(cfg.Debug)
	defer func() {
		_ = logger.Sync()
	}()

	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Errorw("failed to close session store", "error", err)
		}
	}()

	registry, err := newProviderRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	backend := identity.NewClient(cfg.BackendURL)
	coordinator := auth.NewCoordinator(store, backend)
	flow := oauth.NewFlow(registry, backend, store, cfg.BaseURL)

	handler := server.NewHandler(coordinator, flow, cookies.Config{
		Secure: cfg.SecureCookies,
		Domain: cfg.CookieDomain,
	})

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler.Routes(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("server listening on %s", cfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server forced to shutdown: %v", err)
		return err
	}

	logger.Infof("server shutdown complete")
	return nil
}
