package config

import (
	"fmt"
	"strings"
)

// ModelFile is the decoded form of a model document.
type ModelFile struct {
	// Name is the model name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Namespaces lists the encapsulation tree. A parent must precede its children.
	Namespaces []NamespaceSpec `json:"namespaces" yaml:"namespaces" validate:"required,min=1,dive"`

	// Units lists named units definitions.
	Units []UnitsSpec `json:"units,omitempty" yaml:"units,omitempty" validate:"dive"`

	// Variables lists every declared variable.
	Variables []VariableSpec `json:"variables" yaml:"variables" validate:"dive"`

	// Equations lists algebraic and differential equations.
	Equations []EquationSpec `json:"equations,omitempty" yaml:"equations,omitempty" validate:"dive"`

	// Connections lists variable connections.
	Connections []ConnectionSpec `json:"connections,omitempty" yaml:"connections,omitempty" validate:"dive"`
}

// NamespaceSpec declares one namespace.
type NamespaceSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required,excludes=0x2C"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// UnitsSpec declares named units.
type UnitsSpec struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	Definition string `json:"definition" yaml:"definition" validate:"required"`
}

// VariableSpec declares a model variable.
type VariableSpec struct {
	Namespace string   `json:"namespace" yaml:"namespace" validate:"required"`
	Name      string   `json:"name" yaml:"name" validate:"required,excludes=0x2C"`
	Units     string   `json:"units,omitempty" yaml:"units,omitempty"`
	Initial   *float64 `json:"initial,omitempty" yaml:"initial,omitempty"`
	Public    string   `json:"public,omitempty" yaml:"public,omitempty" validate:"omitempty,oneof=none in out"`
	Private   string   `json:"private,omitempty" yaml:"private,omitempty" validate:"omitempty,oneof=none in out"`

	// Tag is an optional semantic label.
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Kind is usually omitted and inferred. The bound variable is declared "free".
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=state computed constant mapped free unknown"`
}

// EquationSpec declares a model equation. RHS is expression text.
type EquationSpec struct {
	Namespace string `json:"namespace" yaml:"namespace" validate:"required"`
	Target    string `json:"target" yaml:"target" validate:"required"`
	BoundVar  string `json:"bvar,omitempty" yaml:"bvar,omitempty"`
	RHS       string `json:"rhs" yaml:"rhs" validate:"required"`
}

// ConnectionSpec wires From into the Mapped variable To. Both are "namespace,name".
type ConnectionSpec struct {
	From string `json:"from" yaml:"from" validate:"required,contains=0x2C"`
	To   string `json:"to" yaml:"to" validate:"required,contains=0x2C"`
}

// ProtocolFile is the decoded form of a protocol document.
type ProtocolFile struct {
	// Name is an optional protocol name used in reports.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Inputs are applied in order.
	Inputs []InputSpec `json:"inputs" yaml:"inputs" validate:"dive"`

	// Outputs are qualified names, tag:<label> or bare names.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty" validate:"dive,required"`
}

// InputSpec holds exactly one of its fields.
type InputSpec struct {
	Variable *DeclSpec              `json:"variable,omitempty" yaml:"variable,omitempty"`
	Equation *ProtocolEquationSpec `json:"equation,omitempty" yaml:"equation,omitempty"`
	Units    *UnitsSpec            `json:"units,omitempty" yaml:"units,omitempty"`
}

// DeclSpec declares a new or replacement variable in a protocol.
type DeclSpec struct {
	Name    string   `json:"name" yaml:"name" validate:"required"`
	Units   string   `json:"units,omitempty" yaml:"units,omitempty"`
	Initial *float64 `json:"initial,omitempty" yaml:"initial,omitempty"`
	Public  string   `json:"public,omitempty" yaml:"public,omitempty" validate:"omitempty,oneof=none in out"`
	Private string   `json:"private,omitempty" yaml:"private,omitempty" validate:"omitempty,oneof=none in out"`
	Tag     string   `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// ProtocolEquationSpec is an equation whose target and references may be
// qualified, tagged or bare.
type ProtocolEquationSpec struct {
	Target   string `json:"target" yaml:"target" validate:"required"`
	BoundVar string `json:"bvar,omitempty" yaml:"bvar,omitempty"`
	RHS      string `json:"rhs" yaml:"rhs" validate:"required"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g., "variables.3.initial").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a document fails schema validation.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	switch len(v) {
	case 0:
		return "validation failed"
	case 1:
		return v[0].String()
	}
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(v), strings.Join(parts, "\n  "))
}
