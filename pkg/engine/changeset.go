package engine

import (
	"strings"

	"github.com/cellxform/cellxform/pkg/model"
)

// ChangeSet is a read-only description of a batch against the unmodified
// model, evaluated by policies before Apply mutates anything.
type ChangeSet struct {
	Model     string           `json:"model"`
	Variables []VariableChange `json:"variables"`
	Equations []EquationChange `json:"equations"`
	Units     []UnitsDecl      `json:"units"`
	Outputs   []string         `json:"outputs"`
}

// VariableChange describes one VariableDecl.
type VariableChange struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	Local     string          `json:"local"`
	Implicit  bool            `json:"implicit"`
	Units     string          `json:"units"`
	Initial   *float64        `json:"initial,omitempty"`
	Interface model.Interface `json:"interface"`

	// Exists and the Existing* fields describe the variable being replaced.
	Exists            bool       `json:"exists"`
	ExistingKind      model.Kind `json:"existing_kind,omitempty"`
	ExistingUnits     string     `json:"existing_units,omitempty"`
	ExistingInterface string     `json:"existing_interface,omitempty"`
}

// EquationChange describes one EquationDecl.
type EquationChange struct {
	Target       string     `json:"target"`
	Namespace    string     `json:"namespace"`
	Implicit     bool       `json:"implicit"`
	Exists       bool       `json:"exists"`
	TargetKind   model.Kind `json:"target_kind,omitempty"`
	Differential bool       `json:"differential"`
	BoundVar     string     `json:"bvar,omitempty"`
	References   []string   `json:"references"`
	Expression   string     `json:"expression"`
}

// ChangeSet describes the current Inputs and Outputs without mutating the
// model or creating the implicit namespace.
func (t *Transformation) ChangeSet() *ChangeSet {
	cs := &ChangeSet{
		Model:     t.model.Name,
		Variables: make([]VariableChange, 0),
		Equations: make([]EquationChange, 0),
		Units:     make([]UnitsDecl, 0),
		Outputs:   append([]string{}, t.Outputs...),
	}

	for _, in := range t.Inputs {
		switch d := in.(type) {
		case *VariableDecl:
			ref, implicit := t.peekRef(d.Name)
			vc := VariableChange{
				Name:      d.Name,
				Namespace: ref.Namespace,
				Local:     ref.Name,
				Implicit:  implicit,
				Units:     d.Units,
				Initial:   d.Initial,
				Interface: d.Interface.Normalize(),
			}
			if v, ok := t.peek(ref, implicit); ok {
				vc.Exists = true
				vc.ExistingKind = v.Kind
				vc.ExistingUnits = v.Units
				vc.ExistingInterface = v.Interface.String()
			}
			cs.Variables = append(cs.Variables, vc)
		case *EquationDecl:
			ref, implicit := t.peekRef(d.Target)
			ec := EquationChange{
				Target:       d.Target,
				Namespace:    ref.Namespace,
				Implicit:     implicit,
				Differential: d.BoundVar != "",
				BoundVar:     d.BoundVar,
				References:   model.References(d.RHS),
			}
			if ec.References == nil {
				ec.References = []string{}
			}
			if d.RHS != nil {
				ec.Expression = d.RHS.String()
			}
			if v, ok := t.peek(ref, implicit); ok {
				ec.Exists = true
				ec.TargetKind = v.Kind
			}
			cs.Equations = append(cs.Equations, ec)
		case *UnitsDecl:
			cs.Units = append(cs.Units, *d)
		}
	}
	return cs
}

// peekRef maps a name to a reference without side effects. Bare names map
// to the current implicit namespace, which may not exist yet.
func (t *Transformation) peekRef(name string) (model.VarRef, bool) {
	if label, ok := strings.CutPrefix(name, TagPrefix); ok {
		if ref, err := t.tags.ResolveTag(label); err == nil {
			return ref, false
		}
		return model.VarRef{Name: name}, false
	}
	ref, err := model.ParseRef(name)
	if err != nil {
		return model.VarRef{Name: name}, false
	}
	if ref.Namespace == "" {
		ref.Namespace = t.implicit
		return ref, true
	}
	return ref, false
}

func (t *Transformation) peek(ref model.VarRef, implicit bool) (*model.Variable, bool) {
	if ref.Namespace == "" || (implicit && t.implicit == "") {
		return nil, false
	}
	v, err := t.model.LookupRef(ref)
	return v, err == nil
}
