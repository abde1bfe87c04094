package model

import (
	"strconv"
	"strings"
)

// Expr is a right-hand-side expression tree. The set of node kinds is closed:
// Reference, Literal and Apply are the only implementations.
type Expr interface {
	// Accept dispatches to the matching Visitor method.
	Accept(v Visitor)

	// String renders the expression in infix form for diagnostics.
	String() string

	isExpr()
}

// Visitor walks an expression tree. Walk descends into Apply operands after
// VisitApply returns true.
type Visitor interface {
	VisitReference(r *Reference)
	VisitLiteral(l *Literal)
	VisitApply(a *Apply) bool
}

// Reference names a variable. Name is either a local name in the owning
// namespace of the equation or a qualified "namespace,name".
type Reference struct {
	Name string
}

// Literal is a numeric constant with optional units.
type Literal struct {
	Value float64
	Units string
}

// Apply is an operator applied to operands. Operator is one of the arithmetic
// symbols (+ - * / ^) or a function name such as exp, ln or sqrt.
type Apply struct {
	Operator string
	Operands []Expr
}

func (*Reference) isExpr() {}
func (*Literal) isExpr()   {}
func (*Apply) isExpr()     {}

// Accept implements Expr.
func (r *Reference) Accept(v Visitor) { v.VisitReference(r) }

// Accept implements Expr.
func (l *Literal) Accept(v Visitor) { v.VisitLiteral(l) }

// Accept implements Expr.
func (a *Apply) Accept(v Visitor) {
	if !v.VisitApply(a) {
		return
	}
	for _, op := range a.Operands {
		op.Accept(v)
	}
}

// String implements Expr.
func (r *Reference) String() string { return r.Name }

// String implements Expr.
func (l *Literal) String() string {
	s := strconv.FormatFloat(l.Value, 'g', -1, 64)
	if l.Units != "" {
		s += "[" + l.Units + "]"
	}
	return s
}

// String implements Expr.
func (a *Apply) String() string {
	parts := make([]string, len(a.Operands))
	for i, op := range a.Operands {
		parts[i] = op.String()
	}
	switch {
	case isInfix(a.Operator) && len(parts) == 1:
		return "(" + a.Operator + parts[0] + ")"
	case isInfix(a.Operator):
		return "(" + strings.Join(parts, " "+a.Operator+" ") + ")"
	default:
		return a.Operator + "(" + strings.Join(parts, ", ") + ")"
	}
}

func isInfix(op string) bool {
	switch op {
	case "+", "-", "*", "/", "^":
		return true
	}
	return false
}

// Ref is shorthand for a Reference node.
func Ref(name string) *Reference { return &Reference{Name: name} }

// Num is shorthand for a Literal node.
func Num(value float64, units string) *Literal { return &Literal{Value: value, Units: units} }

// Op is shorthand for an Apply node.
func Op(operator string, operands ...Expr) *Apply {
	return &Apply{Operator: operator, Operands: operands}
}

// referenceCollector gathers references in visit order.
type referenceCollector struct {
	seen  map[string]bool
	names []string
}

func (c *referenceCollector) VisitReference(r *Reference) {
	if !c.seen[r.Name] {
		c.seen[r.Name] = true
		c.names = append(c.names, r.Name)
	}
}

func (c *referenceCollector) VisitLiteral(*Literal) {}

func (c *referenceCollector) VisitApply(*Apply) bool { return true }

// References returns the distinct variable names referenced by expr, in first-seen order.
func References(expr Expr) []string {
	if expr == nil {
		return nil
	}
	c := &referenceCollector{seen: make(map[string]bool)}
	expr.Accept(c)
	return c.names
}

// Rename returns a copy of expr with every reference passed through fn.
// Nodes are never mutated in place, so trees may be shared between model clones.
func Rename(expr Expr, fn func(name string) string) Expr {
	switch e := expr.(type) {
	case *Reference:
		return &Reference{Name: fn(e.Name)}
	case *Literal:
		return &Literal{Value: e.Value, Units: e.Units}
	case *Apply:
		ops := make([]Expr, len(e.Operands))
		for i, op := range e.Operands {
			ops[i] = Rename(op, fn)
		}
		return &Apply{Operator: e.Operator, Operands: ops}
	default:
		return expr
	}
}
