// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/supmind/egbots/internal/script"
)

// NewCheckCmd creates the check subcommand: syntactic validation of a rule
// file without executing anything.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a rule file",
		Long:  `Parse a rule source file and report the first syntax error, if any.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return oops.Code("CHECK_READ_FAILED").With("file", args[0]).Wrap(err)
	}

	ok, msg := script.Precompile(string(source))
	if !ok {
		cmd.PrintErrln(msg)
		return oops.Code("CHECK_FAILED").Errorf("%s", msg)
	}
	cmd.Println("ok")
	return nil
}
