package engine

import (
	"context"

	"github.com/cellxform/cellxform/pkg/model"
)

// closure is the set of graph elements needed to compute a set of outputs.
type closure struct {
	vars  map[model.VarRef]bool
	eqs   map[model.EqID]bool
	conns map[model.ConnID]bool
}

// dependencyClosure walks breadth-first from roots. State variables need
// their differential equation, its references and its bound variable;
// Computed variables need their algebraic equation and its references;
// Mapped variables need their connection and its source.
func dependencyClosure(m *model.Model, roots []*model.Variable) (*closure, error) {
	c := &closure{
		vars:  make(map[model.VarRef]bool),
		eqs:   make(map[model.EqID]bool),
		conns: make(map[model.ConnID]bool),
	}

	queue := make([]model.VarRef, 0, len(roots))
	push := func(ref model.VarRef) {
		if !c.vars[ref] {
			c.vars[ref] = true
			queue = append(queue, ref)
		}
	}
	for _, v := range roots {
		push(v.Ref())
	}

	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]

		v, err := m.LookupRef(ref)
		if err != nil {
			return nil, model.NewStructuralError(model.InvariantLiveReference, "dependency is not a live variable", err).
				WithName(ref.String())
		}

		switch v.Kind {
		case model.KindMapped:
			conn, ok := m.Incoming(ref)
			if !ok {
				return nil, model.NewStructuralError(model.InvariantSingleSource, "mapped variable has no source", nil).
					WithName(ref.String())
			}
			c.conns[conn.ID] = true
			push(conn.From)
		case model.KindState, model.KindComputed:
			eq, ok := m.Definition(ref)
			if !ok {
				return nil, model.NewStructuralError(model.InvariantDefinition, "variable has no defining equation", nil).
					WithName(ref.String())
			}
			c.eqs[eq.ID] = true
			for _, name := range model.References(eq.RHS) {
				push(model.VarRef{Namespace: eq.Namespace, Name: name})
			}
			if eq.IsDifferential() {
				push(model.VarRef{Namespace: eq.Namespace, Name: eq.BoundVar})
			}
		}
	}
	return c, nil
}

// slice keeps exactly the closure of outputs and of every keep-protected
// variable, removes everything else, then annotates the outputs.
func (t *Transformation) slice(ctx context.Context, outputs []*model.Variable) error {
	logger := loggerFrom(ctx).With().Str("stage", "slice").Logger()

	roots := append([]*model.Variable(nil), outputs...)
	for _, v := range t.model.Variables() {
		if v.Flags.Keep {
			roots = append(roots, v)
		}
	}

	kept, err := dependencyClosure(t.model, roots)
	if err != nil {
		return err
	}

	var detachedVars, detachedEqs, detachedConns int
	for _, eq := range t.model.Equations() {
		if !kept.eqs[eq.ID] {
			t.model.DetachEquation(eq)
			detachedEqs++
		}
	}
	for _, c := range t.model.Connections() {
		if !kept.conns[c.ID] {
			t.model.DetachConnection(c)
			detachedConns++
		}
	}
	for _, v := range t.model.Variables() {
		if !kept.vars[v.Ref()] {
			t.model.DetachVariable(v)
			detachedVars++
		}
	}
	t.report.Removed = t.model.Compact()
	t.report.Sliced = true

	if t.metrics != nil {
		t.metrics.RecordDetached("variable", detachedVars)
		t.metrics.RecordDetached("equation", detachedEqs)
		t.metrics.RecordDetached("connection", detachedConns)
	}
	t.emit(ctx, Event{
		Type:    EventSliceDetached,
		Message: "removed elements outside the dependency closure",
		Data: map[string]interface{}{
			"variables":   detachedVars,
			"equations":   detachedEqs,
			"connections": detachedConns,
		},
	})

	for _, v := range outputs {
		v.Flags.Output = true
		v.Flags.Keep = true
		switch v.Kind {
		case model.KindConstant:
			v.Flags.ModifiableParameter = true
		case model.KindComputed, model.KindMapped:
			v.Flags.DerivedQuantity = true
		}
		t.report.Annotations[v.QualifiedName()] = v.Flags
	}

	logger.Debug().
		Int("kept_variables", len(kept.vars)).
		Int("kept_equations", len(kept.eqs)).
		Int("kept_connections", len(kept.conns)).
		Int("removed", t.report.Removed).
		Msg("Slice complete")
	return nil
}
