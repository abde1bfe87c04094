// Package engine applies protocol transformations to a model graph.
//
// # Overview
//
// A Transformation carries an ordered batch of Inputs and a list of Outputs.
// Apply runs three stages against the model:
//
//  1. Substitute - declare and replace variables, then wire equations
//  2. Slice - keep only the dependency closure of the outputs (skipped when Outputs is empty)
//  3. Validate - check the structural invariants of the result
//
// # Substitution
//
// Declarations are registered before any equation is wired, so an equation
// may use a variable declared later in the same batch. A declaration that
// names an existing variable replaces it; the replacement must declare the
// same interface and takes over the original's definition. An equation
// detaches the previous definition of its target. A differential equation
// makes the target a State variable, an algebraic one makes it Computed.
//
// Bare names are placed in an implicit owner namespace created on first use,
// named from a per-model counter: protocol, protocol_1, protocol_2, ...
//
// # Connections
//
// A reference that crosses namespaces is carried along the unique path in
// the encapsulation tree, one Mapped variable per hop. Existing Mapped
// variables of the same name and ultimate source are reused:
//
//	Xi_gate,new_src -> tdpc,new_src -> tipc,new_src -> K1_gate,new_src
//
// # Slicing
//
// The slicer keeps a variable's differential or algebraic equation and its
// references, or a Mapped variable's connection and source, to a fixed point.
// Outputs are flagged as outputs and keep-protected; Constants become
// modifiable parameters, Computed and Mapped outputs derived quantities.
//
// # Collaborators
//
// UnitsChecker, TagResolver, PolicyChecker, MetricsRecorder and Observer are
// supplied through Options.
package engine
