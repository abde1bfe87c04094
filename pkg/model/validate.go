package model

import "fmt"

// Validate checks the structural invariants of the graph and returns the
// first violation found as a StructuralInvariantViolation.
func (m *Model) Validate() error {
	for _, ns := range m.Namespaces() {
		for name, id := range ns.vars {
			v := m.vars[id]
			if v == nil || v.detached || v.Name != name || v.Namespace != ns.Name {
				return NewStructuralError(InvariantUniqueNames, "namespace table out of sync", nil).
					WithName(VarRef{Namespace: ns.Name, Name: name}.String())
			}
		}
	}

	for _, v := range m.Variables() {
		if err := m.validateDefinition(v); err != nil {
			return err
		}
	}

	for _, eq := range m.Equations() {
		if err := m.validateEquation(eq); err != nil {
			return err
		}
	}

	for _, c := range m.Connections() {
		if !m.Adjacent(c.From.Namespace, c.To.Namespace) {
			return NewStructuralError(InvariantAdjacency, "connection between non-adjacent namespaces", nil).
				WithName(c.To.String()).WithDetail("from", c.From.String())
		}
	}

	if _, err := NewDAGBuilder(m).BuildGraph(); err != nil {
		return err
	}
	return nil
}

func (m *Model) validateDefinition(v *Variable) error {
	ref := v.Ref()
	eq, hasEq := m.Definition(ref)
	_, hasConn := m.Incoming(ref)

	violation := func(msg string) error {
		return NewStructuralError(InvariantDefinition, msg, nil).
			WithName(v.QualifiedName()).WithDetail("kind", string(v.Kind))
	}

	switch v.Kind {
	case KindMapped:
		if hasEq {
			return violation("mapped variable has an equation")
		}
		if !hasConn {
			return NewStructuralError(InvariantSingleSource, "mapped variable has no source", nil).
				WithName(v.QualifiedName())
		}
		if _, err := m.Source(v); err != nil {
			return err
		}
	case KindState:
		if hasConn {
			return violation("state variable has an incoming connection")
		}
		if !hasEq || !eq.IsDifferential() {
			return violation("state variable needs exactly one differential equation")
		}
	case KindComputed:
		if hasConn {
			return violation("computed variable has an incoming connection")
		}
		if !hasEq || eq.IsDifferential() {
			return violation("computed variable needs exactly one algebraic equation")
		}
	case KindConstant:
		if hasEq || hasConn {
			return violation("constant variable has a definition")
		}
		if v.Initial == nil {
			return violation("constant variable has no initial value")
		}
	case KindFree:
		if hasEq || hasConn {
			return violation("bound variable has a definition")
		}
	default:
		return violation(fmt.Sprintf("variable kind %q is not defined", v.Kind))
	}
	return nil
}

func (m *Model) validateEquation(eq *Equation) error {
	target := eq.TargetRef()
	v, err := m.LookupRef(target)
	if err != nil {
		return NewStructuralError(InvariantLiveReference, "equation target missing", err).WithName(target.String())
	}
	if eq.IsDifferential() {
		bvar, err := m.Lookup(eq.Namespace, eq.BoundVar)
		if err != nil {
			return NewStructuralError(InvariantLiveReference, "bound variable missing", err).WithName(target.String())
		}
		if src, err := m.Source(bvar); err != nil {
			return err
		} else if src.Kind != KindFree {
			return NewStructuralError(InvariantDefinition, "differential equation against a non-free variable", nil).
				WithName(target.String()).WithDetail("bvar", src.QualifiedName())
		}
	}
	for _, name := range References(eq.RHS) {
		if IsQualified(name) {
			return NewStructuralError(InvariantLiveReference, "equation holds an unresolved qualified reference", nil).
				WithName(target.String()).WithDetail("reference", name)
		}
		if !eq.IsDifferential() && name == v.Name {
			return NewStructuralError(InvariantAcyclic, "self-definition", nil).WithName(target.String())
		}
	}
	return nil
}
