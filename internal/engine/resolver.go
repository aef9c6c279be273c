// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
	"github.com/supmind/egbots/internal/store"
)

// Resolver resolves context-variable paths for one event. It implements
// script.Resolver: the evaluator hands over complete paths with index
// segments already rendered. Externally sourced lookups — admin status,
// persistent variables, statistics windows — are memoized in the event's
// cache keyed by the canonical path.
type Resolver struct {
	Event  *EventContext
	Client platform.Client
	Vars   store.VarStore
	Stats  store.StatsStore

	// Now is the clock; defaults to time.Now when nil.
	Now func() time.Time
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Resolve maps a canonical path to its value. Missing persistent variables
// and absent event fields resolve to null; unknown path roots or fields
// against a live parent fail with a ResolveError.
func (r *Resolver) Resolve(ctx context.Context, parts []string) (any, error) {
	full := strings.Join(parts, ".")
	switch parts[0] {
	case "time":
		if len(parts) == 2 && parts[1] == "unix" {
			return float64(r.now().Unix()), nil
		}
		return nil, &script.ResolveError{Path: full}

	case "user":
		return r.resolveUser(ctx, parts, full)

	case "group":
		return r.resolveGroup(ctx, parts, full)

	case "message":
		if r.Event.Message == nil {
			return nil, nil
		}
		return walkMessage(r.Event.Message, parts[1:], full)

	case "command":
		return r.resolveCommand(parts, full)

	case "media_group":
		return r.resolveMediaGroup(parts, full)

	case "vars":
		return r.resolveVar(ctx, parts, full)
	}
	return nil, &script.ResolveError{Path: full}
}

func (r *Resolver) resolveUser(ctx context.Context, parts []string, full string) (any, error) {
	if len(parts) < 2 {
		return nil, &script.ResolveError{Path: full}
	}

	if parts[1] == "stats" {
		if len(parts) != 3 {
			return nil, &script.ResolveError{Path: full}
		}
		if r.Event.User == nil {
			return nil, nil
		}
		return r.statsWindow(ctx, full, parts[2], r.Event.User.ID, store.StatMessages)
	}

	u := r.Event.User
	if u == nil {
		return nil, nil
	}
	switch parts[1] {
	case "id":
		return float64(u.ID), nil
	case "username":
		return u.Username, nil
	case "first_name":
		return u.FirstName, nil
	case "last_name":
		return u.LastName, nil
	case "is_bot":
		return u.IsBot, nil
	case "is_admin":
		key := fmt.Sprintf("user.is_admin:%d:%d", u.ID, r.Event.GroupID)
		return r.Event.Memoize(key, func() (any, error) {
			member, err := r.Client.GetChatMember(ctx, r.Event.GroupID, u.ID)
			if err != nil {
				return nil, &script.ResolveError{Path: full, Err: err}
			}
			return member.IsAdmin(), nil
		})
	}
	return nil, &script.ResolveError{Path: full}
}

func (r *Resolver) resolveGroup(ctx context.Context, parts []string, full string) (any, error) {
	if len(parts) == 2 && parts[1] == "id" {
		return float64(r.Event.GroupID), nil
	}
	if len(parts) == 3 && parts[1] == "stats" {
		kind, window, err := parseStatsSuffix(parts[2])
		if err != nil {
			return nil, &script.ResolveError{Path: full, Err: err}
		}
		if kind != store.StatMessages && kind != store.StatJoins && kind != store.StatLeaves {
			return nil, &script.ResolveError{Path: full}
		}
		return r.Event.Memoize(full, func() (any, error) {
			n, err := r.Stats.Count(ctx, r.Event.GroupID, kind, window, 0)
			if err != nil {
				return nil, &script.ResolveError{Path: full, Err: err}
			}
			return float64(n), nil
		})
	}
	return nil, &script.ResolveError{Path: full}
}

// statsWindow resolves a user-scoped statistics window. Only message
// counts exist per user.
func (r *Resolver) statsWindow(ctx context.Context, full, suffix string, userID int64, allowed store.StatKind) (any, error) {
	kind, window, err := parseStatsSuffix(suffix)
	if err != nil {
		return nil, &script.ResolveError{Path: full, Err: err}
	}
	if kind != allowed {
		return nil, &script.ResolveError{Path: full}
	}
	return r.Event.Memoize(full, func() (any, error) {
		n, err := r.Stats.Count(ctx, r.Event.GroupID, kind, window, userID)
		if err != nil {
			return nil, &script.ResolveError{Path: full, Err: err}
		}
		return float64(n), nil
	})
}

// parseStatsSuffix parses "<kind>_<N><unit>" where unit is s, m, h or d,
// e.g. "messages_5m" or "joins_1h".
func parseStatsSuffix(s string) (store.StatKind, time.Duration, error) {
	idx := strings.LastIndexByte(s, '_')
	if idx <= 0 || idx == len(s)-1 {
		return "", 0, fmt.Errorf("malformed stats window %q", s)
	}
	kind := store.StatKind(s[:idx])
	spec := s[idx+1:]

	unit := spec[len(spec)-1]
	n, err := strconv.Atoi(spec[:len(spec)-1])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("malformed stats window %q", s)
	}

	var d time.Duration
	switch unit {
	case 's':
		d = time.Second
	case 'm':
		d = time.Minute
	case 'h':
		d = time.Hour
	case 'd':
		d = 24 * time.Hour
	default:
		return "", 0, fmt.Errorf("malformed stats window %q", s)
	}
	return kind, time.Duration(n) * d, nil
}

func (r *Resolver) resolveCommand(parts []string, full string) (any, error) {
	cmd := r.Event.Command
	if r.Event.Tag != script.TagCommand || cmd == nil {
		return nil, nil
	}
	if len(parts) < 2 {
		return nil, &script.ResolveError{Path: full}
	}
	switch parts[1] {
	case "name":
		return cmd.Name, nil
	case "arg_count":
		return float64(cmd.ArgCount()), nil
	case "full_args":
		return cmd.FullArgs, nil
	case "arg":
		if len(parts) != 3 {
			return nil, &script.ResolveError{Path: full}
		}
		n, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, &script.ResolveError{Path: full}
		}
		if n < 0 || n >= len(cmd.Args) {
			return nil, nil
		}
		return cmd.Args[n], nil
	}
	return nil, &script.ResolveError{Path: full}
}

func (r *Resolver) resolveMediaGroup(parts []string, full string) (any, error) {
	if r.Event.Tag != script.TagMediaGroup {
		return nil, nil
	}
	if len(parts) < 2 {
		return nil, &script.ResolveError{Path: full}
	}
	switch parts[1] {
	case "messages":
		items := make([]any, len(r.Event.MediaMessages))
		for i, m := range r.Event.MediaMessages {
			items[i] = messageValue(m)
		}
		return items, nil
	case "message_count":
		return float64(len(r.Event.MediaMessages)), nil
	case "caption":
		for _, m := range r.Event.MediaMessages {
			if m.Caption != "" {
				return m.Caption, nil
			}
		}
		return nil, nil
	}
	return nil, &script.ResolveError{Path: full}
}

// resolveVar reads a persistent variable. The scope segment is "group",
// "user" (the event's effective target), or "user_<digits>" for a specific
// user. Missing variables read as null; a scheduled event with no target
// user also reads null.
func (r *Resolver) resolveVar(ctx context.Context, parts []string, full string) (any, error) {
	if len(parts) != 3 {
		return nil, &script.ResolveError{Path: full}
	}
	scope, userID, err := ParseVarScope(parts[1])
	if err != nil {
		return nil, &script.ResolveError{Path: full, Err: err}
	}
	if scope == store.ScopeUser && userID == 0 {
		userID = r.Event.TargetUser(0)
		if userID == 0 {
			return nil, nil
		}
	}

	key := fmt.Sprintf("vars.%s.%s:%d", scope, parts[2], userID)
	v, err := r.Event.Memoize(key, func() (any, error) {
		return r.Vars.ReadVar(ctx, r.Event.GroupID, scope, parts[2], userID)
	})
	if err != nil {
		// Missing data is not an error, and neither is a flaky store read:
		// vars.* degrades to null instead of failing the rule.
		return nil, nil
	}
	return v, nil
}

// ParseVarScope interprets a variable scope segment: "group", "user", or
// "user_<digits>". The returned user id is zero unless explicitly encoded.
func ParseVarScope(seg string) (store.Scope, int64, error) {
	switch {
	case seg == "group":
		return store.ScopeGroup, 0, nil
	case seg == "user":
		return store.ScopeUser, 0, nil
	case strings.HasPrefix(seg, "user_"):
		id, err := strconv.ParseInt(seg[len("user_"):], 10, 64)
		if err != nil || id <= 0 {
			return "", 0, fmt.Errorf("malformed variable scope %q", seg)
		}
		return store.ScopeUser, id, nil
	}
	return "", 0, fmt.Errorf("unknown variable scope %q", seg)
}

// walkMessage navigates message fields null-safely: absent optional fields
// yield null, and further segments under a null keep yielding null.
func walkMessage(m *platform.Message, parts []string, full string) (any, error) {
	if len(parts) == 0 {
		return messageValue(m), nil
	}
	switch parts[0] {
	case "id":
		return scalarLeaf(float64(m.ID), parts, full)
	case "text":
		return scalarLeaf(m.Text, parts, full)
	case "caption":
		return scalarLeaf(m.Caption, parts, full)
	case "date":
		return scalarLeaf(float64(m.Date.Unix()), parts, full)
	case "media_group_id":
		return scalarLeaf(m.MediaGroupID, parts, full)
	case "is_edited":
		return scalarLeaf(m.Edited, parts, full)
	case "from_user":
		if m.From == nil {
			return nil, nil
		}
		return walkUser(m.From, parts[1:], full)
	case "reply_to_message":
		if m.ReplyTo == nil {
			return nil, nil
		}
		return walkMessage(m.ReplyTo, parts[1:], full)
	}
	return nil, &script.ResolveError{Path: full}
}

func walkUser(u *platform.User, parts []string, full string) (any, error) {
	if len(parts) == 0 {
		return userValue(u), nil
	}
	switch parts[0] {
	case "id":
		return scalarLeaf(float64(u.ID), parts, full)
	case "username":
		return scalarLeaf(u.Username, parts, full)
	case "first_name":
		return scalarLeaf(u.FirstName, parts, full)
	case "last_name":
		return scalarLeaf(u.LastName, parts, full)
	case "is_bot":
		return scalarLeaf(u.IsBot, parts, full)
	}
	return nil, &script.ResolveError{Path: full}
}

// scalarLeaf returns v when it terminates the path; trailing segments on a
// scalar are a resolve failure.
func scalarLeaf(v any, parts []string, full string) (any, error) {
	if len(parts) > 1 {
		return nil, &script.ResolveError{Path: full}
	}
	return v, nil
}

// messageValue converts a message to a DSL dict so loop bodies can
// navigate aggregated messages with ordinary path segments.
func messageValue(m *platform.Message) map[string]any {
	v := map[string]any{
		"id":      float64(m.ID),
		"text":    m.Text,
		"caption": m.Caption,
		"date":    float64(m.Date.Unix()),
	}
	if m.MediaGroupID != "" {
		v["media_group_id"] = m.MediaGroupID
	}
	if m.From != nil {
		v["from_user"] = userValue(m.From)
	}
	return v
}

func userValue(u *platform.User) map[string]any {
	return map[string]any{
		"id":         float64(u.ID),
		"username":   u.Username,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"is_bot":     u.IsBot,
	}
}
