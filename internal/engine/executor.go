// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/supmind/egbots/internal/platform"
	"github.com/supmind/egbots/internal/script"
	"github.com/supmind/egbots/internal/store"
)

// Result reports how one rule execution ended.
type Result int

const (
	// ResultCompleted: guard was falsy or the body ran to the end.
	ResultCompleted Result = iota
	// ResultStopped: the rule called stop(); no further rule of this
	// group runs for the event.
	ResultStopped
	// ResultErrored: a runtime or resolve error terminated the rule.
	ResultErrored
)

func (r Result) String() string {
	switch r {
	case ResultCompleted:
		return "completed"
	case ResultStopped:
		return "stopped"
	case ResultErrored:
		return "errored"
	}
	return "unknown"
}

// MaxLoopIterations caps foreach iteration to protect the host. Exceeding
// it surfaces as a RuntimeError.
const MaxLoopIterations = 10000

type controlFlow int

const (
	ctrlNone controlFlow = iota
	ctrlBreak
	ctrlContinue
	ctrlStop
)

// Executor runs rule bodies against the platform and the stores. One
// Executor serves all groups; per-event state lives in the EventContext.
type Executor struct {
	client  platform.Client
	vars    store.VarStore
	stats   store.StatsStore
	actions *ActionRegistry
	funcs   *script.FuncRegistry
	logger  *slog.Logger
}

// NewExecutor wires the action and built-in registries over the given
// collaborators.
func NewExecutor(client platform.Client, vars store.VarStore, stats store.StatsStore, logs store.LogStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	x := &Executor{
		client:  client,
		vars:    vars,
		stats:   stats,
		actions: NewActionRegistry(client, vars, logs),
		funcs:   script.NewFuncRegistry(),
		logger:  logger,
	}
	x.funcs.Register("get_var", script.Builtin{Fn: x.getVar, MinArgs: 1, MaxArgs: 3})
	return x
}

// getVar reads a persistent variable inside an expression:
// get_var(path, default?, user_id?). Missing values yield the default
// (null when absent). Reads are memoized in the event cache.
func (x *Executor) getVar(ctx context.Context, args []any) (any, error) {
	ev := EventFromContext(ctx)
	if ev == nil {
		return nil, &script.RuntimeError{Msg: "get_var: no event context"}
	}

	path, ok := args[0].(string)
	if !ok {
		return nil, &script.RuntimeError{Msg: "get_var: variable path must be a string"}
	}
	scope, name, encodedUser, err := SplitVarPath(path)
	if err != nil {
		return nil, &script.RuntimeError{Msg: "get_var: " + err.Error()}
	}

	var def any
	if len(args) >= 2 {
		def = args[1]
	}

	var userID int64
	if scope == store.ScopeUser {
		explicit := encodedUser
		if len(args) == 3 {
			n, ok := args[2].(float64)
			if !ok {
				return nil, &script.RuntimeError{Msg: "get_var: user_id must be a number"}
			}
			explicit = int64(n)
		}
		userID = ev.TargetUser(explicit)
		if userID == 0 {
			return def, nil
		}
	}

	key := "get_var:" + string(scope) + "." + name + ":" + strconv.FormatInt(userID, 10)
	v, err := ev.Memoize(key, func() (any, error) {
		return x.vars.ReadVar(ctx, ev.GroupID, scope, name, userID)
	})
	// A failed read degrades to the default, like a missing variable.
	if err != nil || v == nil {
		return def, nil
	}
	return v, nil
}

// Execute runs one rule against one event. The per-event cache and local
// scope are created here and die with the call.
func (x *Executor) Execute(ctx context.Context, ruleID int64, rule *script.Rule, ev *EventContext) Result {
	ctx = ContextWithEvent(ctx, ev)
	resolver := &Resolver{Event: ev, Client: x.client, Vars: x.vars, Stats: x.stats}
	evaluator := script.NewEvaluator(ctx, resolver, x.funcs)

	if rule.Guard != nil {
		v, err := evaluator.Eval(rule.Guard)
		if err != nil {
			x.logError(ruleID, "guard evaluation failed", err)
			return ResultErrored
		}
		if !script.Truthy(v) {
			return ResultCompleted
		}
	}

	ctrl, err := x.execBlock(ctx, evaluator, ev, rule.Body)
	if err != nil {
		x.logError(ruleID, "rule execution failed", err)
		return ResultErrored
	}
	if ctrl == ctrlStop {
		return ResultStopped
	}
	return ResultCompleted
}

func (x *Executor) logError(ruleID int64, msg string, err error) {
	attrs := []any{"rule_id", ruleID, "error", err}
	var rt *script.RuntimeError
	if errors.As(err, &rt) && rt.Line > 0 {
		attrs = append(attrs, "line", rt.Line)
	}
	x.logger.Error(msg, attrs...)
}

func (x *Executor) execBlock(ctx context.Context, evaluator *script.Evaluator, ev *EventContext, stmts []script.Stmt) (controlFlow, error) {
	for _, stmt := range stmts {
		ctrl, err := x.execStmt(ctx, evaluator, ev, stmt)
		if err != nil {
			return ctrlNone, err
		}
		if ctrl != ctrlNone {
			return ctrl, nil
		}
	}
	return ctrlNone, nil
}

func (x *Executor) execStmt(ctx context.Context, evaluator *script.Evaluator, ev *EventContext, stmt script.Stmt) (controlFlow, error) {
	switch s := stmt.(type) {
	case *script.Assign:
		_, err := evaluator.Eval(s)
		return ctrlNone, err

	case *script.ExprStmt:
		if call, ok := s.X.(*script.Call); ok {
			return x.execCallStmt(ctx, evaluator, ev, call)
		}
		_, err := evaluator.Eval(s.X)
		return ctrlNone, err

	case *script.IfStmt:
		cond, err := evaluator.Eval(s.Cond)
		if err != nil {
			return ctrlNone, err
		}
		if script.Truthy(cond) {
			return x.execBlock(ctx, evaluator, ev, s.Then)
		}
		if s.Else != nil {
			return x.execBlock(ctx, evaluator, ev, s.Else)
		}
		return ctrlNone, nil

	case *script.ForeachStmt:
		return x.execForeach(ctx, evaluator, ev, s)

	case *script.BreakStmt:
		return ctrlBreak, nil

	case *script.ContinueStmt:
		return ctrlContinue, nil
	}
	line, col := stmt.Pos()
	return ctrlNone, &script.RuntimeError{Msg: "unsupported statement", Line: line, Col: col}
}

// execCallStmt runs a call statement: a registered action, or an ordinary
// built-in evaluated for effect. A name that is neither is an error.
func (x *Executor) execCallStmt(ctx context.Context, evaluator *script.Evaluator, ev *EventContext, call *script.Call) (controlFlow, error) {
	name := strings.ToLower(call.Name)

	action, isAction := x.actions.Lookup(name)
	if !isAction {
		if x.funcs.Has(name) {
			_, err := evaluator.Eval(call)
			return ctrlNone, err
		}
		line, col := call.Pos()
		return ctrlNone, &script.RuntimeError{Msg: "unknown action '" + call.Name + "'", Line: line, Col: col}
	}

	if name == "stop" {
		return ctrlStop, nil
	}

	args := make([]any, len(call.Args))
	for i, a := range call.Args {
		v, err := evaluator.Eval(a)
		if err != nil {
			return ctrlNone, err
		}
		args[i] = v
	}
	if len(args) < action.MinArgs || (action.MaxArgs >= 0 && len(args) > action.MaxArgs) {
		line, col := call.Pos()
		return ctrlNone, &script.RuntimeError{Msg: "wrong number of arguments for '" + call.Name + "'", Line: line, Col: col}
	}

	if err := action.Fn(ctx, ev, args); err != nil {
		// Bad arguments terminate the rule; platform failures are logged
		// and the rule continues with the next statement.
		var rt *script.RuntimeError
		if errors.As(err, &rt) {
			if rt.Line == 0 {
				rt.Line, rt.Col = call.Pos()
			}
			return ctrlNone, rt
		}
		line, _ := call.Pos()
		x.logger.Warn("action failed",
			"action", name,
			"group_id", ev.GroupID,
			"line", line,
			"error", err,
		)
	}
	return ctrlNone, nil
}

func (x *Executor) execForeach(ctx context.Context, evaluator *script.Evaluator, ev *EventContext, loop *script.ForeachStmt) (controlFlow, error) {
	iter, err := evaluator.Eval(loop.Iter)
	if err != nil {
		return ctrlNone, err
	}

	var items []any
	switch v := iter.(type) {
	case []any:
		items = v
	case string:
		items = make([]any, 0, len(v))
		for _, r := range v {
			items = append(items, string(r))
		}
	case nil:
		return ctrlNone, nil
	default:
		line, col := loop.Pos()
		return ctrlNone, &script.RuntimeError{Msg: "cannot iterate over " + script.TypeName(iter), Line: line, Col: col}
	}

	evaluator.PushScope()
	defer evaluator.PopScope()

	for i, item := range items {
		if i >= MaxLoopIterations {
			line, col := loop.Pos()
			return ctrlNone, &script.RuntimeError{Msg: "loop iteration limit exceeded", Line: line, Col: col}
		}
		evaluator.Bind(loop.Var, item)

		ctrl, err := x.execBlock(ctx, evaluator, ev, loop.Body)
		if err != nil {
			return ctrlNone, err
		}
		switch ctrl {
		case ctrlBreak:
			return ctrlNone, nil
		case ctrlStop:
			return ctrlStop, nil
		}
		// ctrlContinue falls through to the next iteration.
	}
	return ctrlNone, nil
}
