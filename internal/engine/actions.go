// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
	"github.com/supmind/egbots/internal/store"
)

// ActionFunc is a side-effecting operation invoked by a call statement.
// Arguments arrive evaluated; platform failures are returned as the client
// reported them and tolerated by the executor.
type ActionFunc func(ctx context.Context, ev *EventContext, args []any) error

// Action pairs a handler with its arity bounds. MaxArgs < 0 means
// unbounded.
type Action struct {
	Fn      ActionFunc
	MinArgs int
	MaxArgs int
}

// ActionRegistry maps lowercase action names to handlers. Populated once
// at startup and read-only afterwards.
type ActionRegistry struct {
	actions map[string]Action
}

// Has reports whether an action name is registered. The executor treats
// "stop" specially, but it is registered so the name is reserved.
func (r *ActionRegistry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// Lookup finds an action by name.
func (r *ActionRegistry) Lookup(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

func (r *ActionRegistry) register(name string, a Action) {
	r.actions[name] = a
}

// NewActionRegistry builds the action table over the platform client and
// the persistence stores.
func NewActionRegistry(client platform.Client, vars store.VarStore, logs store.LogStore) *ActionRegistry {
	r := &ActionRegistry{actions: make(map[string]Action)}
	a := &adapters{client: client, vars: vars, logs: logs}

	r.register("reply", Action{Fn: a.reply, MinArgs: 1, MaxArgs: 1})
	r.register("send_message", Action{Fn: a.sendMessage, MinArgs: 1, MaxArgs: 1})
	r.register("delete_message", Action{Fn: a.deleteMessage, MinArgs: 0, MaxArgs: 0})
	r.register("ban_user", Action{Fn: a.banUser, MinArgs: 0, MaxArgs: 2})
	r.register("kick_user", Action{Fn: a.kickUser, MinArgs: 0, MaxArgs: 1})
	r.register("mute_user", Action{Fn: a.muteUser, MinArgs: 0, MaxArgs: 2})
	r.register("unmute_user", Action{Fn: a.unmuteUser, MinArgs: 0, MaxArgs: 1})
	r.register("set_var", Action{Fn: a.setVar, MinArgs: 2, MaxArgs: 3})
	r.register("log", Action{Fn: a.logLine, MinArgs: 1, MaxArgs: 2})
	r.register("start_verification", Action{Fn: a.startVerification, MinArgs: 0, MaxArgs: 1})
	r.register("stop", Action{Fn: func(context.Context, *EventContext, []any) error { return nil }, MinArgs: 0, MaxArgs: 0})

	return r
}

// adapters holds the dependencies shared by every action handler.
type adapters struct {
	client platform.Client
	vars   store.VarStore
	logs   store.LogStore
}

func (a *adapters) reply(ctx context.Context, ev *EventContext, args []any) error {
	text := script.Render(args[0])
	// Synthetic events carry no message: a media group replies to its last
	// aggregated message, anything else falls back to a plain send.
	if ev.Message == nil {
		if len(ev.MediaMessages) > 0 {
			return a.client.Reply(ctx, ev.MediaMessages[len(ev.MediaMessages)-1], text)
		}
		return a.client.SendMessage(ctx, ev.GroupID, text)
	}
	return a.client.Reply(ctx, ev.Message, text)
}

func (a *adapters) sendMessage(ctx context.Context, ev *EventContext, args []any) error {
	return a.client.SendMessage(ctx, ev.GroupID, script.Render(args[0]))
}

func (a *adapters) deleteMessage(ctx context.Context, ev *EventContext, _ []any) error {
	if ev.Message == nil {
		return oops.Code("NO_MESSAGE").Errorf("delete_message requires a triggering message")
	}
	return a.client.Delete(ctx, ev.Message)
}

func (a *adapters) banUser(ctx context.Context, ev *EventContext, args []any) error {
	target, err := targetFromArgs(ev, args)
	if err != nil {
		return err
	}
	reason := ""
	if len(args) == 2 {
		reason = script.Render(args[1])
	}
	if err := a.client.Ban(ctx, ev.GroupID, target, reason); err != nil {
		return err
	}
	a.audit(ctx, ev, "ban_user", fmt.Sprintf("banned user %d", target))
	return nil
}

func (a *adapters) kickUser(ctx context.Context, ev *EventContext, args []any) error {
	target, err := targetFromArgs(ev, args)
	if err != nil {
		return err
	}
	if err := a.client.Kick(ctx, ev.GroupID, target); err != nil {
		return err
	}
	a.audit(ctx, ev, "kick_user", fmt.Sprintf("kicked user %d", target))
	return nil
}

func (a *adapters) muteUser(ctx context.Context, ev *EventContext, args []any) error {
	target, err := targetFromArgs(ev, args)
	if err != nil {
		return err
	}
	var until time.Time
	if len(args) == 2 {
		secs, ok := args[1].(float64)
		if !ok {
			return runtimeArgError("mute_user", "duration must be a number")
		}
		until = time.Now().Add(time.Duration(secs) * time.Second)
	}
	if err := a.client.Restrict(ctx, ev.GroupID, target, until); err != nil {
		return err
	}
	a.audit(ctx, ev, "mute_user", fmt.Sprintf("muted user %d", target))
	return nil
}

func (a *adapters) unmuteUser(ctx context.Context, ev *EventContext, args []any) error {
	target, err := targetFromArgs(ev, args)
	if err != nil {
		return err
	}
	if err := a.client.Unrestrict(ctx, ev.GroupID, target); err != nil {
		return err
	}
	a.audit(ctx, ev, "unmute_user", fmt.Sprintf("unmuted user %d", target))
	return nil
}

// setVar writes a persistent variable. The first argument is a
// "scope.name" path; a null value deletes. Group scope ignores user
// selection; user scope resolves the target by the shared three-step rule.
func (a *adapters) setVar(ctx context.Context, ev *EventContext, args []any) error {
	path, ok := args[0].(string)
	if !ok {
		return runtimeArgError("set_var", "variable path must be a string")
	}
	scope, name, encodedUser, err := SplitVarPath(path)
	if err != nil {
		return runtimeArgError("set_var", err.Error())
	}

	var userID int64
	if scope == store.ScopeUser {
		explicit := encodedUser
		if len(args) == 3 {
			n, ok := args[2].(float64)
			if !ok {
				return runtimeArgError("set_var", "user_id must be a number")
			}
			explicit = int64(n)
		}
		userID = ev.TargetUser(explicit)
		if userID == 0 {
			// No target user exists (scheduled event); writing is a no-op.
			return nil
		}
	}
	return a.vars.WriteVar(ctx, ev.GroupID, scope, name, args[1], userID)
}

func (a *adapters) logLine(ctx context.Context, ev *EventContext, args []any) error {
	tag := ""
	if len(args) == 2 {
		tag = script.Render(args[1])
	}
	return a.logs.RecordLog(ctx, ev.GroupID, script.Render(args[0]), tag)
}

func (a *adapters) startVerification(ctx context.Context, ev *EventContext, args []any) error {
	target, err := targetFromArgs(ev, args)
	if err != nil {
		return err
	}
	return a.client.StartVerification(ctx, ev.GroupID, target)
}

// audit records administrative actions in the group action log. Logging
// failures must not fail the action itself.
func (a *adapters) audit(ctx context.Context, ev *EventContext, tag, text string) {
	_ = a.logs.RecordLog(ctx, ev.GroupID, text, tag)
}

// targetFromArgs applies the shared target-user rule: explicit numeric
// first argument, else reply author, else triggering user.
func targetFromArgs(ev *EventContext, args []any) (int64, error) {
	var explicit int64
	if len(args) >= 1 && args[0] != nil {
		n, ok := args[0].(float64)
		if !ok {
			return 0, runtimeArgError("user action", "user_id must be a number")
		}
		explicit = int64(n)
	}
	target := ev.TargetUser(explicit)
	if target == 0 {
		return 0, runtimeArgError("user action", "no target user")
	}
	return target, nil
}

// runtimeArgError surfaces a bad action argument as a RuntimeError so the
// executor terminates the rule rather than tolerating it.
func runtimeArgError(action, msg string) error {
	return &script.RuntimeError{Msg: fmt.Sprintf("%s: %s", action, msg)}
}

// SplitVarPath splits a "scope.name" variable path as used by set_var and
// get_var, e.g. "user.warnings", "group.locked", "user_123.notes".
func SplitVarPath(path string) (store.Scope, string, int64, error) {
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			scopeSeg, name := path[:i], path[i+1:]
			if name == "" {
				break
			}
			scope, userID, err := ParseVarScope(scopeSeg)
			if err != nil {
				return "", "", 0, err
			}
			return scope, name, userID, nil
		}
	}
	return "", "", 0, fmt.Errorf("malformed variable path %q", path)
}
