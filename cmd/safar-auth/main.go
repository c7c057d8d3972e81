// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the safar-auth service.
package main

import (
	"os"

	"github.com/MxHabob/safar-auth/cmd/safar-auth/app"
	"github.com/MxHabob/safar-auth/pkg/logger"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
