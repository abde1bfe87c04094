package engine

import (
	"github.com/cellxform/cellxform/pkg/model"
)

// builtinUnits are accepted by the strict checker without a model declaration.
var builtinUnits = map[string]bool{
	"dimensionless": true,
	"second":        true,
	"millisecond":   true,
	"volt":          true,
	"millivolt":     true,
	"ampere":        true,
	"mole":          true,
	"molar":         true,
	"millimolar":    true,
	"kelvin":        true,
	"litre":         true,
	"metre":         true,
	"gram":          true,
	"coulomb":       true,
	"farad":         true,
	"siemens":       true,
	"joule":         true,
}

// DefaultUnitsChecker accepts identical units or a missing side. In strict
// mode both names must also be builtin or declared in the model.
type DefaultUnitsChecker struct {
	model  *model.Model
	strict bool
}

// NewUnitsChecker creates a units checker bound to m.
func NewUnitsChecker(m *model.Model, strict bool) *DefaultUnitsChecker {
	return &DefaultUnitsChecker{model: m, strict: strict}
}

// Compatible implements UnitsChecker.
func (c *DefaultUnitsChecker) Compatible(from, to string) error {
	if c.strict {
		for _, u := range []string{from, to} {
			if u == "" || builtinUnits[u] {
				continue
			}
			if _, ok := c.model.Units(u); !ok {
				return model.NewUnreachableError("units are not declared", nil).
					WithName(u).WithCode(model.ErrCodeUnits)
			}
		}
	}
	if from == "" || to == "" || from == to {
		return nil
	}
	return model.NewUnreachableError("incompatible units", nil).
		WithCode(model.ErrCodeUnits).WithDetail("from", from).WithDetail("to", to)
}
