// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
	"github.com/supmind/egbots/internal/store"
)

func newResolver(ev *EventContext, st *store.MemoryStore, client *platform.FakeClient) *Resolver {
	return &Resolver{Event: ev, Client: client, Vars: st, Stats: st}
}

func TestResolver_UserFields(t *testing.T) {
	ev := messageEvent("hi", 7)
	ev.User.Username = "sam"
	ev.User.LastName = "stone"
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())
	ctx := context.Background()

	tests := []struct {
		path []string
		want any
	}{
		{[]string{"user", "id"}, float64(7)},
		{[]string{"user", "username"}, "sam"},
		{[]string{"user", "first_name"}, "u"},
		{[]string{"user", "last_name"}, "stone"},
		{[]string{"user", "is_bot"}, false},
	}
	for _, tt := range tests {
		v, err := r.Resolve(ctx, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
	}
}

func TestResolver_IsAdminCachedPerEvent(t *testing.T) {
	client := platform.NewFakeClient()
	client.SetMember(7, platform.ChatMember{User: platform.User{ID: 7}, Status: "creator"})
	ev := messageEvent("hi", 7)
	r := newResolver(ev, store.NewMemoryStore(), client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := r.Resolve(ctx, []string{"user", "is_admin"})
		require.NoError(t, err)
		assert.Equal(t, true, v)
	}
	assert.Equal(t, 1, client.MemberCalls)
}

func TestResolver_MessageNullPropagation(t *testing.T) {
	ev := messageEvent("hi", 7)
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())
	ctx := context.Background()

	v, err := r.Resolve(ctx, []string{"message", "reply_to_message"})
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = r.Resolve(ctx, []string{"message", "reply_to_message", "from_user", "id"})
	require.NoError(t, err)
	assert.Nil(t, v, "segments under a null parent keep yielding null")

	ev.Message.ReplyTo = &platform.Message{ID: 5, From: &platform.User{ID: 42}}
	v, err = r.Resolve(ctx, []string{"message", "reply_to_message", "from_user", "id"})
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)
}

func TestResolver_UnknownFieldFails(t *testing.T) {
	ev := messageEvent("hi", 7)
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())

	_, err := r.Resolve(context.Background(), []string{"message", "bogus"})
	require.Error(t, err)
	var re *script.ResolveError
	assert.ErrorAs(t, err, &re)

	_, err = r.Resolve(context.Background(), []string{"nonsense"})
	require.Error(t, err)
}

func TestResolver_Command(t *testing.T) {
	ev := NewEventContext(script.TagCommand, testGroup)
	ev.User = &platform.User{ID: 1}
	ev.Command = ParseCommand(`/warn 77 "being rude" now`)
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())
	ctx := context.Background()

	tests := []struct {
		path []string
		want any
	}{
		{[]string{"command", "name"}, "warn"},
		{[]string{"command", "arg", "0"}, "77"},
		{[]string{"command", "arg", "1"}, "being rude"},
		{[]string{"command", "arg", "2"}, "now"},
		{[]string{"command", "arg", "9"}, nil},
		{[]string{"command", "arg_count"}, float64(4)},
		{[]string{"command", "full_args"}, `77 "being rude" now`},
	}
	for _, tt := range tests {
		v, err := r.Resolve(ctx, tt.path)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v)
	}
}

func TestResolver_CommandOutsideCommandEventIsNull(t *testing.T) {
	ev := messageEvent("hi", 7)
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())

	v, err := r.Resolve(context.Background(), []string{"command", "name"})
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestResolver_MediaGroup(t *testing.T) {
	ev := NewEventContext(script.TagMediaGroup, testGroup)
	ev.User = &platform.User{ID: 1}
	ev.MediaMessages = []*platform.Message{
		{ID: 1, MediaGroupID: "X"},
		{ID: 2, MediaGroupID: "X", Caption: "album"},
	}
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())
	ctx := context.Background()

	v, err := r.Resolve(ctx, []string{"media_group", "message_count"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	v, err = r.Resolve(ctx, []string{"media_group", "caption"})
	require.NoError(t, err)
	assert.Equal(t, "album", v, "first non-empty caption wins")

	v, err = r.Resolve(ctx, []string{"media_group", "messages"})
	require.NoError(t, err)
	msgs, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first, ok := msgs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), first["id"])
}

func TestResolver_TimeUnix(t *testing.T) {
	ev := messageEvent("hi", 7)
	fixed := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	r := newResolver(ev, store.NewMemoryStore(), platform.NewFakeClient())
	r.Now = func() time.Time { return fixed }

	v, err := r.Resolve(context.Background(), []string{"time", "unix"})
	require.NoError(t, err)
	assert.Equal(t, float64(fixed.Unix()), v)
}

func TestResolver_StatsWindows(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.Record(ctx, testGroup, store.StatMessages, 7, now.Add(-30*time.Second)))
	require.NoError(t, st.Record(ctx, testGroup, store.StatMessages, 8, now.Add(-30*time.Second)))
	require.NoError(t, st.Record(ctx, testGroup, store.StatJoins, 9, now.Add(-30*time.Second)))

	ev := messageEvent("hi", 7)
	r := newResolver(ev, st, platform.NewFakeClient())

	v, err := r.Resolve(ctx, []string{"user", "stats", "messages_5m"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	v, err = r.Resolve(ctx, []string{"group", "stats", "messages_1h"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	v, err = r.Resolve(ctx, []string{"group", "stats", "joins_1d"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), v)

	_, err = r.Resolve(ctx, []string{"group", "stats", "nonsense"})
	require.Error(t, err)

	_, err = r.Resolve(ctx, []string{"user", "stats", "joins_1h"})
	require.Error(t, err, "per-user stats support messages only")
}

func TestResolver_VarsScopes(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, st.WriteVar(ctx, testGroup, store.ScopeGroup, "locked", true, 0))
	require.NoError(t, st.WriteVar(ctx, testGroup, store.ScopeUser, "warnings", float64(2), 7))
	require.NoError(t, st.WriteVar(ctx, testGroup, store.ScopeUser, "warnings", float64(9), 55))

	ev := messageEvent("hi", 7)
	r := newResolver(ev, st, platform.NewFakeClient())

	v, err := r.Resolve(ctx, []string{"vars", "group", "locked"})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// "user" scope targets the triggering user absent a reply.
	v, err = r.Resolve(ctx, []string{"vars", "user", "warnings"})
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	// "user_<digits>" pins a specific user.
	v, err = r.Resolve(ctx, []string{"vars", "user_55", "warnings"})
	require.NoError(t, err)
	assert.Equal(t, float64(9), v)

	// Missing variables read as null, not an error.
	v, err = r.Resolve(ctx, []string{"vars", "group", "absent"})
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = r.Resolve(ctx, []string{"vars", "planet", "x"})
	require.Error(t, err)
}

func TestParseStatsSuffix(t *testing.T) {
	tests := []struct {
		in      string
		kind    store.StatKind
		window  time.Duration
		wantErr bool
	}{
		{"messages_30s", store.StatMessages, 30 * time.Second, false},
		{"messages_5m", store.StatMessages, 5 * time.Minute, false},
		{"joins_2h", store.StatJoins, 2 * time.Hour, false},
		{"leaves_7d", store.StatLeaves, 7 * 24 * time.Hour, false},
		{"messages", "", 0, true},
		{"messages_", "", 0, true},
		{"messages_0m", "", 0, true},
		{"messages_5x", "", 0, true},
		{"_5m", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, window, err := parseStatsSuffix(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.window, window)
		})
	}
}
