// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

import (
	"context"
	"math"
	"strconv"
	"strings"
)

// BuiltinFunc is a function callable inside expressions. Optional trailing
// parameters may be absent; the handler sees a shorter argument list.
type BuiltinFunc func(ctx context.Context, args []any) (any, error)

// Builtin pairs a handler with its arity bounds. MaxArgs < 0 means
// unbounded.
type Builtin struct {
	Fn      BuiltinFunc
	MinArgs int
	MaxArgs int
}

// FuncRegistry maps lowercase names to built-in functions. It is populated
// at startup and read-only afterwards, so lookups need no locking.
type FuncRegistry struct {
	funcs map[string]Builtin
}

// NewFuncRegistry creates a registry holding the pure built-ins. Callers
// that own external state (get_var needs the variable store) register
// theirs on top before first use.
func NewFuncRegistry() *FuncRegistry {
	r := &FuncRegistry{funcs: make(map[string]Builtin)}
	r.Register("len", Builtin{Fn: builtinLen, MinArgs: 1, MaxArgs: 1})
	r.Register("str", Builtin{Fn: builtinStr, MinArgs: 1, MaxArgs: 1})
	r.Register("int", Builtin{Fn: builtinInt, MinArgs: 1, MaxArgs: 1})
	r.Register("lower", Builtin{Fn: builtinLower, MinArgs: 1, MaxArgs: 1})
	r.Register("upper", Builtin{Fn: builtinUpper, MinArgs: 1, MaxArgs: 1})
	r.Register("split", Builtin{Fn: builtinSplit, MinArgs: 2, MaxArgs: 3})
	r.Register("join", Builtin{Fn: builtinJoin, MinArgs: 2, MaxArgs: 2})
	return r
}

// Register installs a built-in under its lowercase name.
func (r *FuncRegistry) Register(name string, fn Builtin) {
	r.funcs[lowerASCII(name)] = fn
}

// Lookup finds a built-in by name.
func (r *FuncRegistry) Lookup(name string) (Builtin, bool) {
	fn, ok := r.funcs[lowerASCII(name)]
	return fn, ok
}

// Has reports whether a name is registered.
func (r *FuncRegistry) Has(name string) bool {
	_, ok := r.funcs[lowerASCII(name)]
	return ok
}

func builtinLen(_ context.Context, args []any) (any, error) {
	switch v := args[0].(type) {
	case string:
		return float64(len([]rune(v))), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	case nil:
		return float64(0), nil
	default:
		return nil, runtimeErrorf(0, 0, "len() requires a string, list or dict, got %s", TypeName(v))
	}
}

func builtinStr(_ context.Context, args []any) (any, error) {
	return Render(args[0]), nil
}

// builtinInt coerces to an integer-valued number: strings via base-10
// parse, floats truncated toward zero. Failures return 0.
func builtinInt(_ context.Context, args []any) (any, error) {
	switch v := args[0].(type) {
	case float64:
		return math.Trunc(v), nil
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return float64(n), nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return math.Trunc(f), nil
		}
		return float64(0), nil
	case bool:
		if v {
			return float64(1), nil
		}
		return float64(0), nil
	default:
		return float64(0), nil
	}
}

func builtinLower(_ context.Context, args []any) (any, error) {
	s, ok := args[0].(string)
	if !ok {
		return nil, runtimeErrorf(0, 0, "lower() requires a string, got %s", TypeName(args[0]))
	}
	return strings.ToLower(s), nil
}

func builtinUpper(_ context.Context, args []any) (any, error) {
	s, ok := args[0].(string)
	if !ok {
		return nil, runtimeErrorf(0, 0, "upper() requires a string, got %s", TypeName(args[0]))
	}
	return strings.ToUpper(s), nil
}

func builtinSplit(_ context.Context, args []any) (any, error) {
	s, sok := args[0].(string)
	sep, pok := args[1].(string)
	if !sok || !pok {
		return nil, runtimeErrorf(0, 0, "split() requires string arguments")
	}
	maxSplit := -1
	if len(args) == 3 {
		n, ok := args[2].(float64)
		if !ok {
			return nil, runtimeErrorf(0, 0, "split() maxsplit must be a number, got %s", TypeName(args[2]))
		}
		maxSplit = int(n)
	}
	var parts []string
	if maxSplit < 0 {
		parts = strings.Split(s, sep)
	} else {
		parts = strings.SplitN(s, sep, maxSplit+1)
	}
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out, nil
}

func builtinJoin(_ context.Context, args []any) (any, error) {
	list, lok := args[0].([]any)
	sep, sok := args[1].(string)
	if !lok || !sok {
		return nil, runtimeErrorf(0, 0, "join() requires a list and a string separator")
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = Render(item)
	}
	return strings.Join(parts, sep), nil
}
