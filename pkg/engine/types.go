package engine

import (
	"fmt"
	"time"

	"github.com/cellxform/cellxform/pkg/model"
)

// Input is one entry of a transformation batch: a VariableDecl, an
// EquationDecl or a UnitsDecl.
type Input interface {
	// Describe renders the input for logs and reports.
	Describe() string

	isInput()
}

// VariableDecl declares a new variable or a replacement for an existing one.
type VariableDecl struct {
	// Name is "namespace,name" or a bare name for the implicit namespace.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Units names the variable's units. Empty inherits from a replaced variable.
	Units string `json:"units,omitempty" yaml:"units,omitempty"`

	// Initial is the initial value, if any.
	Initial *float64 `json:"initial,omitempty" yaml:"initial,omitempty"`

	// Interface must exactly match the interface of a replaced variable.
	Interface model.Interface `json:"interface" yaml:"interface"`

	// Tag is an optional semantic label. Empty inherits from a replaced variable.
	Tag string `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// EquationDecl defines a variable by an expression. A non-empty BoundVar
// makes it the differential equation d(Target)/d(BoundVar) = RHS.
type EquationDecl struct {
	// Target is "namespace,name", "tag:<label>" or a bare name.
	Target string `json:"target" yaml:"target" validate:"required"`

	// BoundVar is "namespace,name", "tag:<label>" or a name local to the target's namespace.
	BoundVar string `json:"bvar,omitempty" yaml:"bvar,omitempty"`

	// RHS is the right-hand side. References may be local or qualified.
	RHS model.Expr `json:"-" yaml:"-" validate:"required"`
}

// UnitsDecl registers named units in the model.
type UnitsDecl struct {
	Name       string `json:"name" yaml:"name" validate:"required"`
	Definition string `json:"definition" yaml:"definition" validate:"required"`
}

func (*VariableDecl) isInput() {}
func (*EquationDecl) isInput() {}
func (*UnitsDecl) isInput()    {}

// Describe implements Input.
func (d *VariableDecl) Describe() string {
	if d.Initial != nil {
		return fmt.Sprintf("var %s = %g [%s]", d.Name, *d.Initial, d.Units)
	}
	return fmt.Sprintf("var %s [%s]", d.Name, d.Units)
}

// Describe implements Input.
func (d *EquationDecl) Describe() string {
	if d.BoundVar != "" {
		return fmt.Sprintf("d(%s)/d(%s) = %s", d.Target, d.BoundVar, d.RHS)
	}
	return fmt.Sprintf("%s = %s", d.Target, d.RHS)
}

// Describe implements Input.
func (d *UnitsDecl) Describe() string {
	return fmt.Sprintf("units %s = %s", d.Name, d.Definition)
}

// Report summarises one Apply call.
type Report struct {
	// ID identifies the transformation run.
	ID string `json:"id" yaml:"id"`

	// Model is the model name.
	Model string `json:"model" yaml:"model"`

	// Status is the run outcome.
	Status RunStatus `json:"status" yaml:"status"`

	// Error is the failure message when Status is failed or denied.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	// Stage names the stage that failed.
	Stage string `json:"stage,omitempty" yaml:"stage,omitempty"`

	// ImplicitNamespace is the owner namespace created for bare names, if any.
	ImplicitNamespace string `json:"implicit_namespace,omitempty" yaml:"implicit_namespace,omitempty"`

	// AddedVariables lists new variables declared by the batch.
	AddedVariables []string `json:"added_variables,omitempty" yaml:"added_variables,omitempty"`

	// ReplacedVariables lists existing variables superseded by a declaration.
	ReplacedVariables []string `json:"replaced_variables,omitempty" yaml:"replaced_variables,omitempty"`

	// Redefined lists equation targets with their resulting kind.
	Redefined map[string]model.Kind `json:"redefined,omitempty" yaml:"redefined,omitempty"`

	// DetachedEquations counts definitions replaced by the batch.
	DetachedEquations int `json:"detached_equations" yaml:"detached_equations"`

	// CreatedConnections lists connections synthesized for cross-namespace references.
	CreatedConnections []string `json:"created_connections,omitempty" yaml:"created_connections,omitempty"`

	// Outputs lists the resolved output variables.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Sliced reports whether the dependency slicer ran.
	Sliced bool `json:"sliced" yaml:"sliced"`

	// Removed counts graph elements removed by the slicer.
	Removed int `json:"removed" yaml:"removed"`

	// Annotations maps each output to its flags.
	Annotations map[string]model.Flags `json:"annotations,omitempty" yaml:"annotations,omitempty"`

	// Before and After are live element counts around the run.
	Before model.Stats `json:"before" yaml:"before"`
	After  model.Stats `json:"after" yaml:"after"`

	// StartedAt and Duration time the run.
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

func newReport(id string, m *model.Model) *Report {
	return &Report{
		ID:          id,
		Model:       m.Name,
		Status:      RunStatusRunning,
		Redefined:   make(map[string]model.Kind),
		Annotations: make(map[string]model.Flags),
		Before:      m.Stats(),
		StartedAt:   time.Now(),
	}
}

// Event is a progress notification published to an Observer.
type Event struct {
	// Type is one of the Event* constants.
	Type string `json:"type"`

	// Name is the qualified name the event concerns.
	Name string `json:"name,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Data carries event-specific fields.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventVariableDeclared = "substitute.variable"
	EventEquationWired    = "substitute.equation"
	EventHopCreated       = "connect.hop"
	EventHopReused        = "connect.reuse"
	EventSliceDetached    = "slice.detached"
	EventApplyDone        = "apply.done"
)
