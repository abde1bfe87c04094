// Package model is the graph store for hierarchical cell models.
//
// A Model holds a tree of namespaces (components), the variables they own,
// the equations that define them and the connections that carry values
// between adjacent namespaces. Variables, equations and connections live in
// index-addressed arenas. Detaching an element unlinks it from lookup and
// enumeration but keeps its slot; Compact releases detached slots.
//
// Dependency edges are never stored. They are derived on demand by scanning
// equation right-hand sides with References, and by following connections.
// DAGBuilder materialises them for cycle checks, evaluation ordering and DOT
// output.
//
// Errors are returned as *Error values classified as NotFound,
// InterfaceMismatch, Unreachable, Conflict or StructuralInvariantViolation.
package model
