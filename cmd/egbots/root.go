// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the egbots CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "egbots",
		Short: "egbots - rule-driven group management",
		Long: `egbots runs a small rule DSL against chat group events:
messages, commands, joins, media albums and cron schedules.`,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewCheckCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
