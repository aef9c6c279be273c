// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantNil  bool
		wantName string
		wantArgs []string
		wantFull string
	}{
		{
			name:     "bare command",
			input:    "/rules",
			wantName: "rules",
		},
		{
			name:     "command with args",
			input:    "/warn 77 spam",
			wantName: "warn",
			wantArgs: []string{"77", "spam"},
			wantFull: "77 spam",
		},
		{
			name:     "quoted group stays together",
			input:    `/warn 77 "being very rude"`,
			wantName: "warn",
			wantArgs: []string{"77", "being very rude"},
			wantFull: `77 "being very rude"`,
		},
		{
			name:     "bot suffix stripped",
			input:    "/warn@groupkeeper_bot 77",
			wantName: "warn",
			wantArgs: []string{"77"},
			wantFull: "77",
		},
		{
			name:     "extra whitespace between args",
			input:    "/warn   77\t spam",
			wantName: "warn",
			wantArgs: []string{"77", "spam"},
			wantFull: "77\t spam",
		},
		{
			name:     "unterminated quote runs to end",
			input:    `/say "half open`,
			wantName: "say",
			wantArgs: []string{"half open"},
			wantFull: `"half open`,
		},
		{
			name:    "not a command",
			input:   "hello /world",
			wantNil: true,
		},
		{
			name:    "lone slash",
			input:   "/",
			wantNil: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := ParseCommand(tt.input)
			if tt.wantNil {
				assert.Nil(t, cmd)
				return
			}
			require.NotNil(t, cmd)
			assert.Equal(t, tt.wantName, cmd.Name)
			assert.Equal(t, tt.wantArgs, cmd.Args)
			assert.Equal(t, tt.wantFull, cmd.FullArgs)
			assert.Equal(t, len(tt.wantArgs)+1, cmd.ArgCount(), "arg_count includes the command token")
		})
	}
}

func TestEventContext_TargetUser(t *testing.T) {
	ev := NewEventContext(script.TagMessage, testGroup)
	assert.Equal(t, int64(0), ev.TargetUser(0), "no user at all")

	ev.User = &platform.User{ID: 3}
	assert.Equal(t, int64(3), ev.TargetUser(0), "triggering user is the fallback")

	ev.Message = &platform.Message{ReplyTo: &platform.Message{From: &platform.User{ID: 8}}}
	assert.Equal(t, int64(8), ev.TargetUser(0), "reply author beats sender")

	assert.Equal(t, int64(42), ev.TargetUser(42), "explicit id beats everything")
}

func TestEventContext_MemoizeCachesOnlySuccesses(t *testing.T) {
	ev := NewEventContext(script.TagMessage, testGroup)

	calls := 0
	compute := func() (any, error) {
		calls++
		if calls == 1 {
			return nil, assert.AnError
		}
		return "v", nil
	}

	_, err := ev.Memoize("k", compute)
	require.Error(t, err)

	v, err := ev.Memoize("k", compute)
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	_, err = ev.Memoize("k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "successful value is cached")
}

func TestSplitVarPath(t *testing.T) {
	tests := []struct {
		in      string
		scope   string
		name    string
		user    int64
		wantErr bool
	}{
		{"group.locked", "group", "locked", 0, false},
		{"user.warnings", "user", "warnings", 0, false},
		{"user_123.notes", "user", "notes", 123, false},
		{"user.a.b", "user", "a.b", 0, false},
		{"warnings", "", "", 0, true},
		{"user.", "", "", 0, true},
		{"planet.x", "", "", 0, true},
		{"user_0.x", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			scope, name, user, err := SplitVarPath(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scope, string(scope))
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.user, user)
		})
	}
}
