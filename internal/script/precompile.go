// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

// Precompile validates rule source without executing anything. It returns
// (true, "") when lexing and parsing succeed, otherwise (false, diagnostic)
// where the diagnostic carries the offending token's line and column.
func Precompile(source string) (bool, string) {
	if _, err := Parse(source); err != nil {
		return false, err.Error()
	}
	return true, ""
}
