package policy

import (
	"time"
)

// Built-in policy names.
const (
	PolicyBoundVariable  = "bound-variable"
	PolicyUnitsPreserved = "units-preserved"
	PolicyOutputs        = "outputs-declared"
	PolicyImplicitTarget = "implicit-target"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		boundVariablePolicy(),
		unitsPreservedPolicy(),
		outputsDeclaredPolicy(),
		implicitTargetPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, module string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        module,
	}
}

// boundVariablePolicy forbids redefining the free variable of the model.
func boundVariablePolicy() Policy {
	return builtin(PolicyBoundVariable,
		"The bound variable of the model may not be redefined by an equation or a declaration",
		SeverityError,
		[]string{"structure"},
		`package cellxform.policies.bound_variable

import rego.v1

deny contains violation if {
	some e in input.changeset.equations
	e.exists
	e.target_kind == "free"
	violation := {
		"message": sprintf("equation redefines the bound variable %s", [e.target]),
		"name": e.target,
		"severity": "error",
	}
}

deny contains violation if {
	some v in input.changeset.variables
	v.exists
	v.existing_kind == "free"
	violation := {
		"message": sprintf("declaration replaces the bound variable %s", [v.name]),
		"name": v.name,
		"severity": "error",
	}
}`)
}

// unitsPreservedPolicy forbids replacing a variable with one in other units.
func unitsPreservedPolicy() Policy {
	return builtin(PolicyUnitsPreserved,
		"A replacement variable must keep the units of the variable it replaces",
		SeverityError,
		[]string{"units"},
		`package cellxform.policies.units_preserved

import rego.v1

deny contains violation if {
	some v in input.changeset.variables
	v.exists
	v.units != ""
	v.existing_units != ""
	v.units != v.existing_units
	violation := {
		"message": sprintf("replacement of %s changes units from %s to %s", [v.name, v.existing_units, v.units]),
		"name": v.name,
		"severity": "error",
		"from": v.existing_units,
		"to": v.units,
	}
}`)
}

// outputsDeclaredPolicy warns when a protocol keeps the whole model.
func outputsDeclaredPolicy() Policy {
	return builtin(PolicyOutputs,
		"Protocols should declare outputs so the model is sliced",
		SeverityWarning,
		[]string{"slicing"},
		`package cellxform.policies.outputs

import rego.v1

deny contains violation if {
	count(input.changeset.outputs) == 0
	violation := {
		"message": "no outputs declared, the model will not be sliced",
		"severity": "warning",
	}
}`)
}

// implicitTargetPolicy warns about bare equation targets that no declaration
// in the batch introduces.
func implicitTargetPolicy() Policy {
	return builtin(PolicyImplicitTarget,
		"Bare equation targets should be declared by the protocol",
		SeverityWarning,
		[]string{"naming"},
		`package cellxform.policies.implicit_target

import rego.v1

declared(name) if {
	some v in input.changeset.variables
	v.name == name
}

deny contains violation if {
	some e in input.changeset.equations
	e.implicit
	not declared(e.target)
	violation := {
		"message": sprintf("bare target %s is created in the implicit namespace", [e.target]),
		"name": e.target,
		"severity": "warning",
	}
}`)
}
