// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds the embedded migration files.
//
//go:embed *.sql
var FS embed.FS
