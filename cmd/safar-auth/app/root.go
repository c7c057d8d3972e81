// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface of the safar-auth service.
package app

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:               "safar-auth",
	DisableAutoGenTag: true,
	Short:             "Authentication service for the Safar marketplace",
	Long: `safar-auth terminates browser authentication for the Safar travel
marketplace: it resolves session cookies against the session store, keeps
backend token pairs fresh, and drives the OAuth2 + PKCE login flows against
the configured identity providers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

// NewRootCmd creates the root command for the safar-auth CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd)
	return rootCmd
}
