package engine

import (
	"strings"

	"github.com/cellxform/cellxform/pkg/model"
)

// TagPrefix marks a name resolved through the semantic tag index.
const TagPrefix = "tag:"

// Resolve finds an existing variable by "namespace,name", "tag:<label>" or a
// bare name in this transformation's implicit namespace.
func (t *Transformation) Resolve(name string) (*model.Variable, error) {
	if label, ok := strings.CutPrefix(name, TagPrefix); ok {
		ref, err := t.tags.ResolveTag(label)
		if err != nil {
			return nil, err
		}
		return t.model.LookupRef(ref)
	}
	if model.IsQualified(name) {
		return t.model.LookupQualified(name)
	}
	if t.implicit == "" {
		return nil, model.NewNotFoundError("bare name with no implicit namespace", nil).WithName(name)
	}
	return t.model.Lookup(t.implicit, name)
}

// ResolveOrCreate resolves name like Resolve, except that a missing bare name
// is created as an Unknown variable in the implicit namespace.
func (t *Transformation) ResolveOrCreate(name string) (*model.Variable, bool, error) {
	if strings.HasPrefix(name, TagPrefix) || model.IsQualified(name) {
		v, err := t.Resolve(name)
		return v, false, err
	}
	ns, err := t.implicitNamespace()
	if err != nil {
		return nil, false, err
	}
	if v, err := t.model.Lookup(ns, name); err == nil {
		return v, false, nil
	}
	v, err := t.model.AddVariable(&model.Variable{Namespace: ns, Name: name, Kind: model.KindUnknown})
	if err != nil {
		return nil, false, err
	}
	t.report.AddedVariables = append(t.report.AddedVariables, v.QualifiedName())
	return v, true, nil
}

// declRef maps a declaration name to the reference it declares. Qualified
// names must name an existing namespace; bare names land in the implicit namespace.
func (t *Transformation) declRef(name string) (model.VarRef, error) {
	if label, ok := strings.CutPrefix(name, TagPrefix); ok {
		return t.tags.ResolveTag(label)
	}
	ref, err := model.ParseRef(name)
	if err != nil {
		return model.VarRef{}, model.NewNotFoundError("malformed variable name", err).WithName(name)
	}
	if ref.Namespace == "" {
		ns, err := t.implicitNamespace()
		if err != nil {
			return model.VarRef{}, err
		}
		ref.Namespace = ns
		return ref, nil
	}
	if _, err := t.model.Namespace(ref.Namespace); err != nil {
		return model.VarRef{}, err
	}
	return ref, nil
}

// resolveIn resolves a reference appearing in an equation owned by namespace.
// Bare names are local to that namespace.
func (t *Transformation) resolveIn(namespace, name string) (*model.Variable, error) {
	if strings.HasPrefix(name, TagPrefix) || model.IsQualified(name) {
		return t.Resolve(name)
	}
	return t.model.Lookup(namespace, name)
}

// implicitNamespace returns the owner namespace for bare names, creating it
// on first use from the model's counter.
func (t *Transformation) implicitNamespace() (string, error) {
	if t.implicit != "" {
		return t.implicit, nil
	}
	name := t.model.NextImplicitNamespace()
	ns, err := t.model.AddNamespace(name, "")
	if err != nil {
		return "", model.NewConflictError("implicit namespace name is taken", err).WithName(name)
	}
	ns.Implicit = true
	t.implicit = name
	return name, nil
}
