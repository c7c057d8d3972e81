// SPDX-FileCopyrightText: Copyright 2025 Safar, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides process-wide structured logging for safar-auth.
//
// This is a thin shim over a zap sugared logger that keeps call sites short
// (logger.Infow("msg", "key", value)). New code that wants an injectable
// logger can obtain the underlying instance via [Get].
package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// singleton is the package-level logger created by Initialize.
// Accessed atomically to be safe for concurrent use across goroutines.
var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	// Set a default logger so callers that skip Initialize() don't panic.
	singleton.Store(newLogger(false))
}

func newLogger(debug bool) *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Encoding = "console"
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap only fails to build on invalid config; ours is static.
		panic(err)
	}
	return l.Sugar()
}

// Initialize configures the process-wide logger. When debug is true, log
// level is lowered to debug and output switches to console encoding.
func Initialize(debug bool) {
	singleton.Store(newLogger(debug))
}

// Get returns the underlying *zap.SugaredLogger for injection into structs.
func Get() *zap.SugaredLogger {
	return singleton.Load()
}

// Set replaces the singleton logger. This is intended for tests that need to
// capture log output; production code should use [Initialize] instead.
func Set(l *zap.SugaredLogger) {
	singleton.Store(l)
}

// Sync flushes any buffered log entries. Call before process exit.
func Sync() error {
	return singleton.Load().Sync()
}

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	singleton.Load().Debugw(msg, keysAndValues...)
}

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	singleton.Load().Infow(msg, keysAndValues...)
}

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	singleton.Load().Warnw(msg, keysAndValues...)
}

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	singleton.Load().Errorw(msg, keysAndValues...)
}

// Infof logs a printf-style message at info level.
func Infof(msg string, args ...any) {
	singleton.Load().Infof(msg, args...)
}

// Errorf logs a printf-style message at error level.
func Errorf(msg string, args ...any) {
	singleton.Load().Errorf(msg, args...)
}
