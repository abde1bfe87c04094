package model

import (
	"fmt"
	"strings"
)

// VarID, EqID and ConnID are stable arena indexes. An ID stays valid for the
// lifetime of the model. Lookups of detached or compacted IDs fail with NotFound.
type (
	VarID  int
	EqID   int
	ConnID int
)

// Kind classifies how a variable obtains its value.
type Kind string

const (
	// KindState is defined by a differential equation against a bound variable.
	KindState Kind = "state"

	// KindComputed is defined by an algebraic equation.
	KindComputed Kind = "computed"

	// KindConstant carries an initial value and no equation.
	KindConstant Kind = "constant"

	// KindMapped receives its value through a connection.
	KindMapped Kind = "mapped"

	// KindFree is the bound (independent) variable, e.g. simulation time.
	KindFree Kind = "free"

	// KindUnknown is declared but not yet defined.
	KindUnknown Kind = "unknown"
)

// ParseKind parses a kind name. The empty string yields KindUnknown.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindState, KindComputed, KindConstant, KindMapped, KindFree, KindUnknown:
		return k, nil
	case "":
		return KindUnknown, nil
	default:
		return "", fmt.Errorf("unknown variable kind %q", s)
	}
}

// Direction is one side of a variable interface.
type Direction string

const (
	DirectionNone Direction = "none"
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
)

// ParseDirection parses an interface direction. The empty string yields DirectionNone.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(s)); d {
	case DirectionNone, DirectionIn, DirectionOut:
		return d, nil
	case "":
		return DirectionNone, nil
	default:
		return "", fmt.Errorf("unknown interface direction %q", s)
	}
}

// Interface is the public and private interface declaration of a variable.
type Interface struct {
	Public  Direction `json:"public" yaml:"public"`
	Private Direction `json:"private" yaml:"private"`
}

// Normalize replaces empty directions with DirectionNone.
func (i Interface) Normalize() Interface {
	if i.Public == "" {
		i.Public = DirectionNone
	}
	if i.Private == "" {
		i.Private = DirectionNone
	}
	return i
}

// Equal reports whether both sides match after normalization.
func (i Interface) Equal(o Interface) bool {
	return i.Normalize() == o.Normalize()
}

func (i Interface) String() string {
	n := i.Normalize()
	return fmt.Sprintf("public=%s,private=%s", n.Public, n.Private)
}

// Flags are annotations set by the dependency slicer.
type Flags struct {
	Output              bool `json:"output,omitempty" yaml:"output,omitempty"`
	ModifiableParameter bool `json:"modifiable_parameter,omitempty" yaml:"modifiable_parameter,omitempty"`
	DerivedQuantity     bool `json:"derived_quantity,omitempty" yaml:"derived_quantity,omitempty"`
	Keep                bool `json:"keep,omitempty" yaml:"keep,omitempty"`
}

// Any reports whether any flag is set.
func (f Flags) Any() bool {
	return f.Output || f.ModifiableParameter || f.DerivedQuantity || f.Keep
}

// VarRef names a variable by namespace and local name.
type VarRef struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
}

// String renders the reference in qualified "namespace,name" form.
func (r VarRef) String() string {
	return r.Namespace + "," + r.Name
}

// ParseRef splits a qualified "namespace,name". A bare name yields an empty namespace.
func ParseRef(s string) (VarRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return VarRef{}, fmt.Errorf("empty variable reference")
	}
	ns, name, found := strings.Cut(s, ",")
	if !found {
		return VarRef{Name: s}, nil
	}
	ns, name = strings.TrimSpace(ns), strings.TrimSpace(name)
	if ns == "" || name == "" || strings.Contains(name, ",") {
		return VarRef{}, fmt.Errorf("malformed variable reference %q", s)
	}
	return VarRef{Namespace: ns, Name: name}, nil
}

// IsQualified reports whether s contains a namespace part.
func IsQualified(s string) bool {
	return strings.Contains(s, ",")
}

// Variable is a named quantity owned by a namespace.
type Variable struct {
	// ID is the arena index, assigned by the model.
	ID VarID `json:"id"`

	// Namespace is the owning namespace name.
	Namespace string `json:"namespace"`

	// Name is unique within the namespace.
	Name string `json:"name"`

	// Units names the variable's units.
	Units string `json:"units,omitempty"`

	// Kind is how the variable obtains its value.
	Kind Kind `json:"kind"`

	// Initial is the initial value, required for Constant and usual for State.
	Initial *float64 `json:"initial,omitempty"`

	// Interface is the declared public/private interface.
	Interface Interface `json:"interface"`

	// Tag is an optional semantic label, e.g. "membrane_voltage".
	Tag string `json:"tag,omitempty"`

	// Flags are slicer annotations.
	Flags Flags `json:"flags"`

	detached bool
}

// Ref returns the variable's qualified reference.
func (v *Variable) Ref() VarRef {
	return VarRef{Namespace: v.Namespace, Name: v.Name}
}

// QualifiedName returns "namespace,name".
func (v *Variable) QualifiedName() string {
	return v.Ref().String()
}

// Detached reports whether the variable was unlinked from its namespace.
func (v *Variable) Detached() bool {
	return v.detached
}

// SetInitial stores a copy of value as the initial value.
func (v *Variable) SetInitial(value float64) {
	v.Initial = &value
}

// Equation binds a target variable to an expression. An empty BoundVar is an
// algebraic assignment; otherwise the equation is d(Target)/d(BoundVar) = RHS.
type Equation struct {
	ID EqID `json:"id"`

	// Namespace owns the equation. Target and BoundVar are local to it.
	Namespace string `json:"namespace"`
	Target    string `json:"target"`
	BoundVar  string `json:"bvar,omitempty"`

	RHS Expr `json:"-"`

	detached bool
}

// IsDifferential reports whether the equation is a derivative assignment.
func (e *Equation) IsDifferential() bool {
	return e.BoundVar != ""
}

// TargetRef returns the qualified reference of the target variable.
func (e *Equation) TargetRef() VarRef {
	return VarRef{Namespace: e.Namespace, Name: e.Target}
}

// Detached reports whether the equation was unlinked from its target.
func (e *Equation) Detached() bool {
	return e.detached
}

func (e *Equation) String() string {
	if e.IsDifferential() {
		return fmt.Sprintf("%s: d(%s)/d(%s) = %s", e.Namespace, e.Target, e.BoundVar, e.RHS)
	}
	return fmt.Sprintf("%s: %s = %s", e.Namespace, e.Target, e.RHS)
}

// Connection supplies the Mapped variable To from the variable From. From and
// To live in adjacent namespaces.
type Connection struct {
	ID   ConnID `json:"id"`
	From VarRef `json:"from"`
	To   VarRef `json:"to"`

	detached bool
}

// Detached reports whether the connection was removed from the graph.
func (c *Connection) Detached() bool {
	return c.detached
}

func (c *Connection) String() string {
	return c.From.String() + " -> " + c.To.String()
}

// Namespace is a named scope in the encapsulation tree.
type Namespace struct {
	// Name is unique within the model.
	Name string `json:"name"`

	// Parent is the encapsulating namespace; empty for top-level namespaces.
	Parent string `json:"parent,omitempty"`

	// Implicit marks an owner namespace created for bare names in a protocol.
	Implicit bool `json:"implicit,omitempty"`

	children []string
	vars     map[string]VarID
}

// Children returns the names of directly encapsulated namespaces in creation order.
func (n *Namespace) Children() []string {
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out
}

// Len returns the number of live variables in the namespace.
func (n *Namespace) Len() int {
	return len(n.vars)
}

// AssignmentKind distinguishes the two kinds of assignment list entries.
type AssignmentKind string

const (
	AssignmentVariable AssignmentKind = "variable"
	AssignmentEquation AssignmentKind = "equation"
)

// Assignment is one entry in the model's ordered assignment list.
type Assignment struct {
	Kind AssignmentKind
	ID   int
}
