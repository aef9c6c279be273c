// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Egbots Contributors

package script

import (
	"strings"
)

// Node is implemented by every AST node. Pos returns the node's source
// position for diagnostics; String renders the canonical source form, which
// re-parses to an equal AST.
type Node interface {
	Pos() (line, col int)
	String() string
}

// Expr is an expression node.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmtNode()
}

type position struct {
	Line int
	Col  int
}

func (p position) Pos() (int, int) { return p.Line, p.Col }

// --- Expressions ---

// Literal is a number, string, boolean, or null constant.
type Literal struct {
	position
	Val any
}

// ListLit is an ordered list literal, e.g. [1, "a", true].
type ListLit struct {
	position
	Items []Expr
}

// DictPair is one "key": value entry of a dict literal.
type DictPair struct {
	Key string
	Val Expr
}

// DictLit is a string-keyed mapping literal, e.g. { "k": 1 }.
type DictLit struct {
	position
	Pairs []DictPair
}

// Ident is a bare name: a local variable or a context root.
type Ident struct {
	position
	Name string
}

// Segment is one step of a path: either a named attribute (Name non-empty)
// or an indexing expression (Index non-nil).
type Segment struct {
	Name  string
	Index Expr
}

// Path is a rooted attribute/index chain, e.g. message.reply_to_message
// or command.arg[0].
type Path struct {
	position
	Root string
	Segs []Segment
}

// Unary is a prefix operator application: not x, -x.
type Unary struct {
	position
	Op string
	X  Expr
}

// Binary is an infix operator application.
type Binary struct {
	position
	Op string
	L  Expr
	R  Expr
}

// Call invokes a built-in function inside an expression, or an action when
// it forms a whole expression statement.
type Call struct {
	position
	Name string
	Args []Expr
}

// Assign writes Value to Target (an Ident or Path). It is both a statement
// and an expression so that chained assignment nests right-associatively:
// a = b = e parses as Assign(a, Assign(b, e)) and e is evaluated once.
type Assign struct {
	position
	Target Expr
	Value  Expr
}

func (*Literal) exprNode() {}
func (*ListLit) exprNode() {}
func (*DictLit) exprNode() {}
func (*Ident) exprNode()   {}
func (*Path) exprNode()    {}
func (*Unary) exprNode()   {}
func (*Binary) exprNode()  {}
func (*Call) exprNode()    {}
func (*Assign) exprNode()  {}

// --- Statements ---

// ExprStmt is an expression evaluated for its effect, typically an action
// call such as reply("hi");
type ExprStmt struct {
	position
	X Expr
}

// IfStmt is a conditional with an optional else branch. An else-if chain
// stores the nested IfStmt as the sole statement of Else.
type IfStmt struct {
	position
	Cond Expr
	Then []Stmt
	Else []Stmt
}

// ForeachStmt iterates list elements or string code points, binding each to
// Var inside a fresh scope frame.
type ForeachStmt struct {
	position
	Var  string
	Iter Expr
	Body []Stmt
}

// BreakStmt exits the innermost foreach loop.
type BreakStmt struct{ position }

// ContinueStmt restarts the innermost foreach loop.
type ContinueStmt struct{ position }

func (*ExprStmt) stmtNode()     {}
func (*Assign) stmtNode()       {}
func (*IfStmt) stmtNode()       {}
func (*ForeachStmt) stmtNode()  {}
func (*BreakStmt) stmtNode()    {}
func (*ContinueStmt) stmtNode() {}

// --- Rule ---

// Trigger names an event tag that causes a rule to be considered. For
// schedule triggers, Spec holds the five-field cron string.
type Trigger struct {
	Tag  string
	Spec string
}

func (t Trigger) String() string {
	if t.Spec != "" {
		return t.Tag + `("` + t.Spec + `")`
	}
	return t.Tag
}

// Rule is a fully parsed rule: trigger set, optional guard, body.
// SourceHash fingerprints the original source for cache bookkeeping.
// Rules are immutable after parsing and shared by reference.
type Rule struct {
	Triggers   []Trigger
	Guard      Expr
	Body       []Stmt
	SourceHash string
}

// HasTrigger reports whether the rule listens for the given event tag.
func (r *Rule) HasTrigger(tag string) bool {
	for _, t := range r.Triggers {
		if t.Tag == tag {
			return true
		}
	}
	return false
}

// CronSpec returns the cron string of a schedule rule, or "".
func (r *Rule) CronSpec() string {
	for _, t := range r.Triggers {
		if t.Tag == TagSchedule {
			return t.Spec
		}
	}
	return ""
}

// --- Canonical rendering ---

func (l *Literal) String() string {
	switch v := l.Val.(type) {
	case string:
		return quote(v)
	case nil:
		return "null"
	default:
		return Render(v)
	}
}

func (l *ListLit) String() string {
	parts := make([]string, len(l.Items))
	for i, item := range l.Items {
		parts[i] = item.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (d *DictLit) String() string {
	parts := make([]string, len(d.Pairs))
	for i, p := range d.Pairs {
		parts[i] = quote(p.Key) + ": " + p.Val.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (i *Ident) String() string { return i.Name }

func (p *Path) String() string {
	var sb strings.Builder
	sb.WriteString(p.Root)
	for _, seg := range p.Segs {
		if seg.Index != nil {
			sb.WriteByte('[')
			sb.WriteString(seg.Index.String())
			sb.WriteByte(']')
		} else {
			sb.WriteByte('.')
			sb.WriteString(seg.Name)
		}
	}
	return sb.String()
}

func (u *Unary) String() string {
	if u.Op == "not" {
		return "not " + parenthesize(u.X, u)
	}
	return u.Op + parenthesize(u.X, u)
}

// String renders with minimal parentheses: the parser builds binary chains
// left-associatively, so a right child at the same precedence level must be
// wrapped to reproduce the same tree on re-parse.
func (b *Binary) String() string {
	left := b.L.String()
	if childPrec(b.L) < binaryPrec(b.Op) {
		left = "(" + left + ")"
	}
	right := b.R.String()
	if childPrec(b.R) <= binaryPrec(b.Op) {
		right = "(" + right + ")"
	}
	return left + " " + b.Op + " " + right
}

func (c *Call) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = a.String()
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

func (a *Assign) String() string {
	return a.Target.String() + " = " + a.Value.String()
}

func (s *ExprStmt) String() string { return s.X.String() + ";" }

func (s *IfStmt) String() string {
	var sb strings.Builder
	sb.WriteString("if (")
	sb.WriteString(s.Cond.String())
	sb.WriteString(") ")
	writeBlock(&sb, s.Then)
	if s.Else != nil {
		sb.WriteString(" else ")
		if inner, ok := elseIf(s.Else); ok {
			sb.WriteString(inner.String())
		} else {
			writeBlock(&sb, s.Else)
		}
	}
	return sb.String()
}

func (s *ForeachStmt) String() string {
	var sb strings.Builder
	sb.WriteString("foreach (")
	sb.WriteString(s.Var)
	sb.WriteString(" in ")
	sb.WriteString(s.Iter.String())
	sb.WriteString(") ")
	writeBlock(&sb, s.Body)
	return sb.String()
}

func (*BreakStmt) String() string    { return "break;" }
func (*ContinueStmt) String() string { return "continue;" }

// String renders the rule in canonical source form.
func (r *Rule) String() string {
	var sb strings.Builder
	sb.WriteString("WHEN ")
	parts := make([]string, len(r.Triggers))
	for i, t := range r.Triggers {
		parts[i] = t.String()
	}
	sb.WriteString(strings.Join(parts, " or "))
	if r.Guard != nil {
		sb.WriteString("\nWHERE ")
		sb.WriteString(r.Guard.String())
	}
	sb.WriteString("\nTHEN ")
	var body strings.Builder
	writeBlock(&body, r.Body)
	sb.WriteString(body.String())
	sb.WriteString("\nEND")
	return sb.String()
}

func writeBlock(sb *strings.Builder, stmts []Stmt) {
	sb.WriteString("{ ")
	for _, s := range stmts {
		sb.WriteString(stmtString(s))
		sb.WriteByte(' ')
	}
	sb.WriteString("}")
}

// stmtString renders a statement with its terminator. Assignments are
// expressions in the AST, so the terminating ';' is added here.
func stmtString(s Stmt) string {
	if a, ok := s.(*Assign); ok {
		return a.String() + ";"
	}
	return s.String()
}

// elseIf unwraps an else branch holding exactly one if statement.
func elseIf(stmts []Stmt) (*IfStmt, bool) {
	if len(stmts) == 1 {
		if inner, ok := stmts[0].(*IfStmt); ok {
			return inner, true
		}
	}
	return nil, false
}

// parenthesize wraps child in parentheses when its precedence is lower than
// the parent's, keeping the canonical form re-parseable.
func parenthesize(child Expr, parent Expr) string {
	if childPrec(child) < parentPrec(parent) {
		return "(" + child.String() + ")"
	}
	return child.String()
}

func childPrec(e Expr) int {
	switch n := e.(type) {
	case *Binary:
		return binaryPrec(n.Op)
	case *Unary:
		return precUnary
	case *Assign:
		return 1
	default:
		return precPrimary
	}
}

func parentPrec(e Expr) int {
	switch n := e.(type) {
	case *Binary:
		return binaryPrec(n.Op)
	case *Unary:
		return precUnary
	default:
		return 0
	}
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
