// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

// Package engine executes parsed rules: it resolves context variables,
// walks statement ASTs, and dispatches actions to the chat platform
// through pluggable adapters.
package engine

import (
	"context"
	"strings"

	"github.com/supmind/egbots/internal/platform"
)

// EventContext carries one logical event through a single rule execution
// pass. The memo map caches externally sourced lookups (admin status,
// persistent variables, statistics windows) for the lifetime of the event;
// it is task-local and never shared.
type EventContext struct {
	Tag     string
	GroupID int64
	User    *platform.User
	Message *platform.Message
	Command *Command

	// MediaMessages is the ordered aggregation payload of a media_group
	// event; nil otherwise.
	MediaMessages []*platform.Message

	memo map[string]any
}

// NewEventContext creates a context for one dispatch.
func NewEventContext(tag string, groupID int64) *EventContext {
	return &EventContext{
		Tag:     tag,
		GroupID: groupID,
		memo:    make(map[string]any),
	}
}

// Memoize returns the cached value for key, computing and caching it on
// first use. Errors are not cached.
func (ev *EventContext) Memoize(key string, compute func() (any, error)) (any, error) {
	if v, ok := ev.memo[key]; ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	ev.memo[key] = v
	return v, nil
}

// TargetUser resolves the user an administrative action applies to:
// the explicit user_id argument when given, else the replied-to message's
// author, else the triggering user. Zero means no target exists.
func (ev *EventContext) TargetUser(explicit int64) int64 {
	if explicit != 0 {
		return explicit
	}
	if ev.Message != nil && ev.Message.ReplyTo != nil && ev.Message.ReplyTo.From != nil {
		return ev.Message.ReplyTo.From.ID
	}
	if ev.User != nil {
		return ev.User.ID
	}
	return 0
}

// Command is the parsed form of a "/name arg ..." message.
type Command struct {
	Name string
	// Args are the whitespace-separated arguments after the command token,
	// with double-quoted groups kept together.
	Args []string
	// FullArgs is the raw text from the first argument's offset onward.
	FullArgs string
}

// ArgCount counts tokens including the command token itself.
func (c *Command) ArgCount() int { return len(c.Args) + 1 }

// ParseCommand splits a command message into name and arguments. Returns
// nil when text is not a command.
func ParseCommand(text string) *Command {
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return nil
	}

	body := text[1:]
	idx := strings.IndexAny(body, " \t")
	if idx == -1 {
		return &Command{Name: normalizeCommandName(body)}
	}

	name := body[:idx]
	rest := strings.TrimLeft(body[idx+1:], " \t")
	return &Command{
		Name:     normalizeCommandName(name),
		Args:     splitArgs(rest),
		FullArgs: rest,
	}
}

// normalizeCommandName strips the "@botname" suffix platforms append in
// group chats.
func normalizeCommandName(name string) string {
	if at := strings.IndexByte(name, '@'); at != -1 {
		return name[:at]
	}
	return name
}

// splitArgs splits on whitespace, keeping double-quoted groups together.
// Quotes are stripped; an unterminated quote runs to the end of input.
func splitArgs(s string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	pending := false

	flush := func() {
		if pending {
			args = append(args, cur.String())
			cur.Reset()
			pending = false
		}
	}

	for _, ch := range s {
		switch {
		case ch == '"':
			inQuote = !inQuote
			pending = true
		case (ch == ' ' || ch == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(ch)
			pending = true
		}
	}
	flush()
	return args
}

type contextKey string

const eventContextKey contextKey = "event_context"

// ContextWithEvent attaches the event context so built-ins that need the
// current event (get_var) can reach it through the standard context.
func ContextWithEvent(ctx context.Context, ev *EventContext) context.Context {
	return context.WithValue(ctx, eventContextKey, ev)
}

// EventFromContext retrieves the attached event context, or nil.
func EventFromContext(ctx context.Context) *EventContext {
	if ev, ok := ctx.Value(eventContextKey).(*EventContext); ok {
		return ev
	}
	return nil
}
