// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

// Package main is the entry point for the egbots rule engine.
package main

import (
	"log/slog"
	"os"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
