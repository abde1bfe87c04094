package engine

import (
	"context"
	"fmt"

	"github.com/cellxform/cellxform/pkg/model"
)

// substitute applies the batch in two passes: declarations first, so that
// equations may refer forward to variables declared later in the batch, then
// equations.
func (t *Transformation) substitute(ctx context.Context, batch []Input) error {
	logger := loggerFrom(ctx).With().Str("stage", "substitute").Logger()

	declared := make(map[model.VarRef]*model.Variable)
	var order []model.VarRef
	track := func(v *model.Variable) {
		if _, ok := declared[v.Ref()]; !ok {
			order = append(order, v.Ref())
		}
		declared[v.Ref()] = v
	}

	for _, in := range batch {
		switch d := in.(type) {
		case *UnitsDecl:
			if err := t.model.AddUnits(d.Name, d.Definition); err != nil {
				return err
			}
		case *VariableDecl:
			v, err := t.declareVariable(ctx, d, declared)
			if err != nil {
				return err
			}
			track(v)
		case *EquationDecl:
		case nil:
			return model.NewConflictError("nil input in batch", nil)
		default:
			return model.NewConflictError(fmt.Sprintf("unsupported input %T", in), nil)
		}
	}

	targets := make(map[model.VarRef]bool)
	for _, in := range batch {
		d, ok := in.(*EquationDecl)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		v, err := t.wireEquation(ctx, d, targets)
		if err != nil {
			return err
		}
		track(v)
	}

	// Every declared or created variable must end up defined.
	for _, ref := range order {
		v := declared[ref]
		switch {
		case v.Kind == model.KindUnknown:
			return model.NewConflictError("declared variable has no definition", nil).
				WithName(ref.String()).WithCode(model.ErrCodeUndefined)
		case v.Kind == model.KindConstant && v.Initial == nil:
			return model.NewConflictError("replacement constant has no initial value", nil).
				WithName(ref.String()).WithCode(model.ErrCodeUndefined)
		}
	}

	logger.Debug().
		Int("declared", len(declared)).
		Int("equations", len(targets)).
		Msg("Substitution complete")
	return nil
}

// declareVariable registers a declaration. A declaration naming an existing
// variable replaces it: the interfaces must match exactly, and the new
// variable takes over the old one's definition and kind.
func (t *Transformation) declareVariable(
	ctx context.Context,
	d *VariableDecl,
	declared map[model.VarRef]*model.Variable,
) (*model.Variable, error) {
	ref, err := t.declRef(d.Name)
	if err != nil {
		return nil, err
	}
	if _, dup := declared[ref]; dup {
		return nil, model.NewConflictError("variable declared twice in batch", nil).
			WithName(ref.String()).WithCode(model.ErrCodeDuplicate)
	}

	nv := &model.Variable{
		Namespace: ref.Namespace,
		Name:      ref.Name,
		Units:     d.Units,
		Interface: d.Interface.Normalize(),
		Tag:       d.Tag,
	}
	if d.Initial != nil {
		nv.SetInitial(*d.Initial)
	}

	old, err := t.model.LookupRef(ref)
	if err != nil && !model.IsNotFound(err) {
		return nil, err
	}

	if old == nil {
		nv.Kind = model.KindUnknown
		if nv.Initial != nil {
			nv.Kind = model.KindConstant
		}
		if _, err := t.model.AddVariable(nv); err != nil {
			return nil, err
		}
		t.report.AddedVariables = append(t.report.AddedVariables, nv.QualifiedName())
	} else {
		if !nv.Interface.Equal(old.Interface) {
			return nil, model.NewInterfaceMismatchError("replacement interface differs from the original", nil).
				WithName(ref.String()).
				WithDetail("original", old.Interface.String()).
				WithDetail("replacement", nv.Interface.String())
		}
		nv.Kind = old.Kind
		nv.Flags = old.Flags
		if nv.Units == "" {
			nv.Units = old.Units
		}
		if nv.Tag == "" {
			nv.Tag = old.Tag
		}
		switch {
		case old.Kind == model.KindUnknown && nv.Initial != nil:
			nv.Kind = model.KindConstant
		case old.Kind == model.KindConstant:
			// The replacement must bring its own value or an equation.
		case old.Kind == model.KindComputed && nv.Initial != nil:
			// A value replaces the algebraic definition.
			if eq, ok := t.model.Definition(ref); ok {
				t.model.DetachEquation(eq)
				t.report.DetachedEquations++
				if t.metrics != nil {
					t.metrics.RecordDetached("equation", 1)
				}
			}
			nv.Kind = model.KindConstant
		case nv.Initial == nil && old.Initial != nil:
			nv.SetInitial(*old.Initial)
		}

		t.model.DetachVariable(old)
		if _, err := t.model.AddVariable(nv); err != nil {
			return nil, err
		}
		t.report.ReplacedVariables = append(t.report.ReplacedVariables, nv.QualifiedName())
	}

	t.emit(ctx, Event{
		Type:    EventVariableDeclared,
		Name:    nv.QualifiedName(),
		Message: d.Describe(),
		Data:    map[string]interface{}{"kind": string(nv.Kind), "replaced": old != nil},
	})
	return nv, nil
}

// wireEquation attaches one equation, detaching any previous definition of
// its target and synthesizing connections for cross-namespace references.
func (t *Transformation) wireEquation(
	ctx context.Context,
	d *EquationDecl,
	targets map[model.VarRef]bool,
) (*model.Variable, error) {
	if d.RHS == nil {
		return nil, model.NewConflictError("equation has no right-hand side", nil).WithName(d.Target)
	}
	target, _, err := t.ResolveOrCreate(d.Target)
	if err != nil {
		return nil, err
	}
	ref := target.Ref()
	if targets[ref] {
		return nil, model.NewConflictError("variable defined twice in batch", nil).
			WithName(ref.String()).WithCode(model.ErrCodeDuplicate)
	}
	targets[ref] = true

	switch target.Kind {
	case model.KindMapped:
		return nil, model.NewInterfaceMismatchError("mapped variable takes its value from a connection", nil).
			WithName(ref.String()).WithCode(model.ErrCodeMappedTarget)
	case model.KindFree:
		return nil, model.NewConflictError("bound variable cannot be defined by an equation", nil).
			WithName(ref.String())
	}

	bvar := ""
	if d.BoundVar != "" {
		bv, err := t.resolveIn(target.Namespace, d.BoundVar)
		if err != nil {
			return nil, err
		}
		src, err := t.model.Source(bv)
		if err != nil {
			return nil, err
		}
		if src.Kind != model.KindFree {
			return nil, model.NewConflictError("differential taken against a variable that is not bound", nil).
				WithName(ref.String()).WithDetail("bvar", bv.QualifiedName())
		}
		if bvar, err = t.connect(ctx, target.Namespace, bv); err != nil {
			return nil, err
		}
	}

	locals := make(map[string]string)
	for _, name := range model.References(d.RHS) {
		dep, err := t.resolveIn(target.Namespace, name)
		if err != nil {
			return nil, err
		}
		if bvar == "" && t.sourceIs(dep, ref) {
			return nil, model.NewConflictError("variable is defined in terms of itself", nil).
				WithName(ref.String()).WithCode(model.ErrCodeSelfReference)
		}
		local, err := t.connect(ctx, target.Namespace, dep)
		if err != nil {
			return nil, err
		}
		locals[name] = local
	}
	rhs := model.Rename(d.RHS, func(name string) string { return locals[name] })

	if old, ok := t.model.Definition(ref); ok {
		t.model.DetachEquation(old)
		t.report.DetachedEquations++
		if t.metrics != nil {
			t.metrics.RecordDetached("equation", 1)
		}
	}
	eq, err := t.model.AddEquation(&model.Equation{
		Namespace: target.Namespace,
		Target:    target.Name,
		BoundVar:  bvar,
		RHS:       rhs,
	})
	if err != nil {
		return nil, err
	}

	if eq.IsDifferential() {
		target.Kind = model.KindState
	} else {
		target.Kind = model.KindComputed
		target.Initial = nil
	}
	t.report.Redefined[ref.String()] = target.Kind

	t.emit(ctx, Event{
		Type:    EventEquationWired,
		Name:    ref.String(),
		Message: eq.String(),
		Data:    map[string]interface{}{"kind": string(target.Kind)},
	})
	return target, nil
}

// sourceIs reports whether v is, or is mapped from, the variable ref.
func (t *Transformation) sourceIs(v *model.Variable, ref model.VarRef) bool {
	if v.Ref() == ref {
		return true
	}
	src, err := t.model.Source(v)
	return err == nil && src.Ref() == ref
}
