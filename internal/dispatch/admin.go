// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/supmind/egbots/internal/engine"
)

// adminCommands is the built-in system rule handling rule management:
// /rules lists the group's rules, /togglerule flips one and invalidates
// the cache, /reload_rules invalidates unconditionally. It runs before
// user rules; a handled command stops further processing of the event.
type adminCommands struct {
	d *Dispatcher
}

// handle processes the event when it is an administrative command issued
// by a group admin. Returns true when the event was consumed.
func (a *adminCommands) handle(ctx context.Context, ev *engine.EventContext) bool {
	cmd := ev.Command
	if cmd == nil {
		return false
	}
	switch cmd.Name {
	case "rules", "togglerule", "reload_rules":
	default:
		return false
	}

	if ev.User == nil {
		return true
	}
	member, err := a.d.client.GetChatMember(ctx, ev.GroupID, ev.User.ID)
	if err != nil {
		a.d.logger.Warn("admin check failed", "group_id", ev.GroupID, "error", err)
		return true
	}
	if !member.IsAdmin() {
		return true
	}

	switch cmd.Name {
	case "rules":
		a.listRules(ctx, ev)
	case "togglerule":
		a.toggleRule(ctx, ev, cmd.Args)
	case "reload_rules":
		a.d.Invalidate(ev.GroupID)
		a.replyf(ctx, ev, "rules reloaded")
	}
	return true
}

func (a *adminCommands) listRules(ctx context.Context, ev *engine.EventContext) {
	rules, err := a.d.rulesFor(ctx, ev.GroupID)
	if err != nil {
		a.replyf(ctx, ev, "rules unavailable, try again later")
		return
	}
	if len(rules) == 0 {
		a.replyf(ctx, ev, "no rules configured")
		return
	}

	var sb strings.Builder
	for _, r := range rules {
		state := "on"
		if !r.Active {
			state = "off"
		}
		triggers := make([]string, len(r.Rule.Triggers))
		for i, t := range r.Rule.Triggers {
			triggers[i] = t.String()
		}
		fmt.Fprintf(&sb, "#%d [%s] p%d %s (%s)\n", r.ID, state, r.Priority, r.Name, strings.Join(triggers, " or "))
	}
	a.replyf(ctx, ev, "%s", strings.TrimRight(sb.String(), "\n"))
}

func (a *adminCommands) toggleRule(ctx context.Context, ev *engine.EventContext, args []string) {
	if len(args) != 1 {
		a.replyf(ctx, ev, "usage: /togglerule <id>")
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		a.replyf(ctx, ev, "usage: /togglerule <id>")
		return
	}

	active, err := a.d.rules.ToggleRule(ctx, ev.GroupID, id)
	if err != nil {
		a.replyf(ctx, ev, "rule #%d not found", id)
		return
	}
	a.d.Invalidate(ev.GroupID)
	state := "enabled"
	if !active {
		state = "disabled"
	}
	a.replyf(ctx, ev, "rule #%d %s", id, state)
}

func (a *adminCommands) replyf(ctx context.Context, ev *engine.EventContext, format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	var err error
	if ev.Message != nil {
		err = a.d.client.Reply(ctx, ev.Message, text)
	} else {
		err = a.d.client.SendMessage(ctx, ev.GroupID, text)
	}
	if err != nil {
		a.d.logger.Warn("admin reply failed", "group_id", ev.GroupID, "error", err)
	}
}
