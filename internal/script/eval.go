// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

import (
	"context"
	"strings"
)

// Resolver supplies context-variable values for rooted paths the evaluator
// cannot satisfy from local scope (user.*, message.*, vars.*, ...). Index
// segments arrive pre-evaluated and rendered, so "command.arg[0]" resolves
// as ["command", "arg", "0"]. Implementations may suspend on ctx and are
// expected to memoize externally sourced lookups per event. A missing
// persistent variable resolves to (nil, nil); anything else that cannot be
// resolved returns a *ResolveError.
type Resolver interface {
	Resolve(ctx context.Context, path []string) (any, error)
}

// Evaluator evaluates expressions against a resolver, a built-in function
// registry, and a stack of local scope frames. It is a pure function of its
// inputs: identical resolver outputs produce identical results.
type Evaluator struct {
	ctx      context.Context
	resolver Resolver
	funcs    *FuncRegistry
	scopes   []map[string]any
}

// NewEvaluator creates an evaluator with a single empty local scope.
func NewEvaluator(ctx context.Context, resolver Resolver, funcs *FuncRegistry) *Evaluator {
	return &Evaluator{
		ctx:      ctx,
		resolver: resolver,
		funcs:    funcs,
		scopes:   []map[string]any{{}},
	}
}

// PushScope opens a new local frame; new names go to the top frame.
func (e *Evaluator) PushScope() {
	e.scopes = append(e.scopes, map[string]any{})
}

// PopScope discards the top local frame.
func (e *Evaluator) PopScope() {
	e.scopes = e.scopes[:len(e.scopes)-1]
}

// lookupLocal finds a name in the scope stack, closest frame first.
func (e *Evaluator) lookupLocal(name string) (any, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if v, ok := e.scopes[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Bind defines a name in the top frame, shadowing any outer binding.
// Foreach loops use it for their iteration variable.
func (e *Evaluator) Bind(name string, v any) {
	e.scopes[len(e.scopes)-1][name] = v
}

// setLocal rebinds an existing name in its frame, or defines it in the
// top frame.
func (e *Evaluator) setLocal(name string, v any) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if _, ok := e.scopes[i][name]; ok {
			e.scopes[i][name] = v
			return
		}
	}
	e.scopes[len(e.scopes)-1][name] = v
}

// Eval evaluates an expression to a value.
func (e *Evaluator) Eval(expr Expr) (any, error) {
	switch n := expr.(type) {
	case *Literal:
		return n.Val, nil

	case *ListLit:
		items := make([]any, len(n.Items))
		for i, item := range n.Items {
			v, err := e.Eval(item)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil

	case *DictLit:
		m := make(map[string]any, len(n.Pairs))
		for _, p := range n.Pairs {
			v, err := e.Eval(p.Val)
			if err != nil {
				return nil, err
			}
			m[p.Key] = v
		}
		return m, nil

	case *Ident:
		if v, ok := e.lookupLocal(n.Name); ok {
			return v, nil
		}
		return e.resolver.Resolve(e.ctx, []string{n.Name})

	case *Path:
		return e.evalPath(n)

	case *Unary:
		return e.evalUnary(n)

	case *Binary:
		return e.evalBinary(n)

	case *Call:
		return e.evalCall(n)

	case *Assign:
		return e.evalAssign(n)
	}
	line, col := expr.Pos()
	return nil, runtimeErrorf(line, col, "unsupported expression")
}

// evalAssign evaluates the value once, then binds it to the target. Chained
// assignments nest on the value side, so each target sees the same value.
func (e *Evaluator) evalAssign(a *Assign) (any, error) {
	v, err := e.Eval(a.Value)
	if err != nil {
		return nil, err
	}
	switch t := a.Target.(type) {
	case *Ident:
		e.setLocal(t.Name, v)
		return v, nil
	case *Path:
		if err := e.assignPath(t, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	line, col := a.Pos()
	return nil, runtimeErrorf(line, col, "cannot assign to this expression")
}

// assignPath writes through a path rooted at a local container. Context
// roots are read-only; persistent variables change only via set_var.
func (e *Evaluator) assignPath(p *Path, v any) error {
	cur, ok := e.lookupLocal(p.Root)
	if !ok {
		return runtimeErrorf(p.Line, p.Col, "cannot assign to '%s'", p.String())
	}
	for i, seg := range p.Segs {
		last := i == len(p.Segs)-1
		switch c := cur.(type) {
		case map[string]any:
			key := seg.Name
			if seg.Index != nil {
				idx, err := e.Eval(seg.Index)
				if err != nil {
					return err
				}
				s, isStr := idx.(string)
				if !isStr {
					return runtimeErrorf(p.Line, p.Col, "dict index must be a string, got %s", TypeName(idx))
				}
				key = s
			}
			if last {
				c[key] = v
				return nil
			}
			cur = c[key]
		case []any:
			if seg.Index == nil {
				return runtimeErrorf(p.Line, p.Col, "cannot access attribute '%s' on a list", seg.Name)
			}
			idx, err := e.Eval(seg.Index)
			if err != nil {
				return err
			}
			n, isNum := idx.(float64)
			if !isNum || int(n) < 0 || int(n) >= len(c) {
				return runtimeErrorf(p.Line, p.Col, "list index out of range")
			}
			if last {
				c[int(n)] = v
				return nil
			}
			cur = c[int(n)]
		default:
			return runtimeErrorf(p.Line, p.Col, "cannot assign through %s", TypeName(cur))
		}
	}
	return nil
}

// evalPath resolves a rooted path. Locals win over context roots; context
// paths are delegated whole to the resolver with index segments rendered.
// Null from any intermediate segment propagates to a null result.
func (e *Evaluator) evalPath(p *Path) (any, error) {
	if local, ok := e.lookupLocal(p.Root); ok {
		return e.walkValue(local, p)
	}

	parts := make([]string, 0, len(p.Segs)+1)
	parts = append(parts, p.Root)
	for _, seg := range p.Segs {
		if seg.Index == nil {
			parts = append(parts, seg.Name)
			continue
		}
		idx, err := e.Eval(seg.Index)
		if err != nil {
			return nil, err
		}
		parts = append(parts, Render(idx))
	}
	return e.resolver.Resolve(e.ctx, parts)
}

// walkValue navigates segments over an in-scope value with null-safe
// semantics: a null anywhere along the chain yields null.
func (e *Evaluator) walkValue(v any, p *Path) (any, error) {
	cur := v
	for _, seg := range p.Segs {
		if cur == nil {
			return nil, nil
		}
		if seg.Index != nil {
			idx, err := e.Eval(seg.Index)
			if err != nil {
				return nil, err
			}
			next, err := indexValue(cur, idx, p)
			if err != nil {
				return nil, err
			}
			cur = next
			continue
		}
		switch c := cur.(type) {
		case map[string]any:
			cur = c[seg.Name]
		default:
			return nil, runtimeErrorf(p.Line, p.Col, "cannot access attribute '%s' on %s", seg.Name, TypeName(cur))
		}
	}
	return cur, nil
}

func indexValue(v, idx any, p *Path) (any, error) {
	switch c := v.(type) {
	case []any:
		n, ok := idx.(float64)
		if !ok {
			return nil, runtimeErrorf(p.Line, p.Col, "list index must be a number, got %s", TypeName(idx))
		}
		i := int(n)
		if i < 0 || i >= len(c) {
			return nil, nil
		}
		return c[i], nil
	case map[string]any:
		s, ok := idx.(string)
		if !ok {
			return nil, runtimeErrorf(p.Line, p.Col, "dict index must be a string, got %s", TypeName(idx))
		}
		return c[s], nil
	case string:
		n, ok := idx.(float64)
		if !ok {
			return nil, runtimeErrorf(p.Line, p.Col, "string index must be a number, got %s", TypeName(idx))
		}
		runes := []rune(c)
		i := int(n)
		if i < 0 || i >= len(runes) {
			return nil, nil
		}
		return string(runes[i]), nil
	default:
		return nil, runtimeErrorf(p.Line, p.Col, "%s is not indexable", TypeName(v))
	}
}

func (e *Evaluator) evalUnary(u *Unary) (any, error) {
	v, err := e.Eval(u.X)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case "not":
		return !Truthy(v), nil
	case "-":
		n, ok := v.(float64)
		if !ok {
			return nil, runtimeErrorf(u.Line, u.Col, "cannot negate %s", TypeName(v))
		}
		return -n, nil
	}
	return nil, runtimeErrorf(u.Line, u.Col, "unknown unary operator '%s'", u.Op)
}

func (e *Evaluator) evalBinary(b *Binary) (any, error) {
	// Short-circuit logic first; the right side must not be evaluated.
	switch b.Op {
	case "and":
		l, err := e.Eval(b.L)
		if err != nil {
			return nil, err
		}
		if !Truthy(l) {
			return l, nil
		}
		return e.Eval(b.R)
	case "or":
		l, err := e.Eval(b.L)
		if err != nil {
			return nil, err
		}
		if Truthy(l) {
			return l, nil
		}
		return e.Eval(b.R)
	}

	l, err := e.Eval(b.L)
	if err != nil {
		return nil, err
	}
	r, err := e.Eval(b.R)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "+":
		return e.evalAdd(b, l, r)
	case "-", "*", "/":
		return e.evalArith(b, l, r)
	case "<", ">", "<=", ">=":
		return e.evalCompare(b, l, r)
	case "contains":
		return evalContains(b, l, r)
	case "startswith", "endswith":
		ls, lok := l.(string)
		rs, rok := r.(string)
		if !lok || !rok {
			return nil, runtimeErrorf(b.Line, b.Col, "'%s' requires strings, got %s and %s", b.Op, TypeName(l), TypeName(r))
		}
		if b.Op == "startswith" {
			return strings.HasPrefix(ls, rs), nil
		}
		return strings.HasSuffix(ls, rs), nil
	}
	return nil, runtimeErrorf(b.Line, b.Col, "unknown operator '%s'", b.Op)
}

// evalAdd implements '+': numeric addition, string concatenation with
// str() coercion of the non-string side, and list concatenation.
func (e *Evaluator) evalAdd(b *Binary, l, r any) (any, error) {
	if ln, ok := l.(float64); ok {
		if rn, ok := r.(float64); ok {
			return ln + rn, nil
		}
	}
	if ll, ok := l.([]any); ok {
		if rl, ok := r.([]any); ok {
			out := make([]any, 0, len(ll)+len(rl))
			out = append(out, ll...)
			out = append(out, rl...)
			return out, nil
		}
	}
	ls, lIsStr := l.(string)
	rs, rIsStr := r.(string)
	switch {
	case lIsStr && rIsStr:
		return ls + rs, nil
	case lIsStr:
		return ls + Render(r), nil
	case rIsStr:
		return Render(l) + rs, nil
	}
	return nil, runtimeErrorf(b.Line, b.Col, "cannot add %s and %s", TypeName(l), TypeName(r))
}

func (e *Evaluator) evalArith(b *Binary, l, r any) (any, error) {
	ln, lok := l.(float64)
	rn, rok := r.(float64)
	if !lok || !rok {
		return nil, runtimeErrorf(b.Line, b.Col, "'%s' requires numbers, got %s and %s", b.Op, TypeName(l), TypeName(r))
	}
	switch b.Op {
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	default:
		if rn == 0 {
			return nil, runtimeErrorf(b.Line, b.Col, "division by zero")
		}
		return ln / rn, nil
	}
}

func (e *Evaluator) evalCompare(b *Binary, l, r any) (any, error) {
	if ln, ok := l.(float64); ok {
		if rn, ok := r.(float64); ok {
			return compareOrdered(b.Op, ln, rn), nil
		}
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return compareOrdered(b.Op, ls, rs), nil
		}
	}
	return nil, runtimeErrorf(b.Line, b.Col, "cannot compare %s and %s", TypeName(l), TypeName(r))
}

func compareOrdered[T float64 | string](op string, l, r T) bool {
	switch op {
	case "<":
		return l < r
	case ">":
		return l > r
	case "<=":
		return l <= r
	default:
		return l >= r
	}
}

// evalContains implements substring test on strings and membership on lists.
func evalContains(b *Binary, l, r any) (any, error) {
	switch c := l.(type) {
	case string:
		s, ok := r.(string)
		if !ok {
			return nil, runtimeErrorf(b.Line, b.Col, "'contains' on a string requires a string, got %s", TypeName(r))
		}
		return strings.Contains(c, s), nil
	case []any:
		for _, item := range c {
			if Equal(item, r) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, runtimeErrorf(b.Line, b.Col, "'contains' requires a string or list, got %s", TypeName(l))
	}
}

func (e *Evaluator) evalCall(c *Call) (any, error) {
	fn, ok := e.funcs.Lookup(c.Name)
	if !ok {
		return nil, runtimeErrorf(c.Line, c.Col, "unknown function '%s'", c.Name)
	}
	args := make([]any, len(c.Args))
	for i, a := range c.Args {
		v, err := e.Eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return nil, runtimeErrorf(c.Line, c.Col, "wrong number of arguments for '%s'", c.Name)
	}
	return fn.Fn(e.ctx, args)
}
