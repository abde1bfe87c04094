package model

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure raised while querying or mutating a model.
type ErrorClass string

const (
	// ErrorClassNotFound indicates a referenced variable, namespace, equation or tag does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassInterfaceMismatch indicates a replacement variable declares a different
	// interface from the variable it replaces, or a Mapped variable was given an equation.
	ErrorClassInterfaceMismatch ErrorClass = "interface_mismatch"

	// ErrorClassUnreachable indicates no connection path can be built between two namespaces.
	ErrorClassUnreachable ErrorClass = "unreachable"

	// ErrorClassConflict indicates two incompatible declarations of the same name.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassStructural indicates a structural post-condition failed.
	// Always fatal.
	ErrorClassStructural ErrorClass = "structural_invariant_violation"
)

// Error is a classified model error carrying the offending qualified name
// and, for structural failures, the invariant that was violated.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Name is the qualified name ("namespace,variable") or namespace the error refers to.
	Name string `json:"name,omitempty"`

	// Invariant names the structural rule that failed, if any.
	Invariant string `json:"invariant,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Name != "" {
		msg += fmt.Sprintf(" (name=%s)", e.Name)
	}
	if e.Invariant != "" {
		msg += fmt.Sprintf(" (invariant=%s)", e.Invariant)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class, and on code when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && e.Code != t.Code {
		return false
	}
	return e.Class == t.Class
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Class: ErrorClassNotFound, Message: message, Err: err, Code: ErrCodeNotFound}
}

// NewInterfaceMismatchError creates a new interface-mismatch error.
func NewInterfaceMismatchError(message string, err error) *Error {
	return &Error{Class: ErrorClassInterfaceMismatch, Message: message, Err: err, Code: ErrCodeInterface}
}

// NewUnreachableError creates a new unreachable error.
func NewUnreachableError(message string, err error) *Error {
	return &Error{Class: ErrorClassUnreachable, Message: message, Err: err, Code: ErrCodeUnreachable}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *Error {
	return &Error{Class: ErrorClassConflict, Message: message, Err: err, Code: ErrCodeConflict}
}

// NewStructuralError creates a new structural invariant violation.
func NewStructuralError(invariant, message string, err error) *Error {
	return &Error{
		Class:     ErrorClassStructural,
		Message:   message,
		Invariant: invariant,
		Err:       err,
		Code:      ErrCodeInternal,
	}
}

// WithName adds the offending qualified name to an error.
func (e *Error) WithName(name string) *Error {
	e.Name = name
	return e
}

// WithCode replaces the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithInvariant records the invariant that was violated.
func (e *Error) WithInvariant(invariant string) *Error {
	e.Invariant = invariant
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of err, or the empty class if err is not a model error.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsInterfaceMismatch returns true if the error is classified as an interface mismatch.
func IsInterfaceMismatch(err error) bool {
	return ClassOf(err) == ErrorClassInterfaceMismatch
}

// IsUnreachable returns true if the error is classified as unreachable.
func IsUnreachable(err error) bool {
	return ClassOf(err) == ErrorClassUnreachable
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return ClassOf(err) == ErrorClassConflict
}

// IsStructural returns true if the error is a structural invariant violation.
func IsStructural(err error) bool {
	return ClassOf(err) == ErrorClassStructural
}

// Common error codes.
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotApplicable = "NOT_APPLICABLE"
	ErrCodeInterface     = "INTERFACE_MISMATCH"
	ErrCodeMappedTarget  = "MAPPED_TARGET"
	ErrCodeUnreachable   = "UNREACHABLE"
	ErrCodeExportBlocked = "EXPORT_BLOCKED"
	ErrCodeUnits         = "UNITS_INCOMPATIBLE"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeDuplicate     = "DUPLICATE_DECLARATION"
	ErrCodeSelfReference = "SELF_DEFINITION"
	ErrCodeUndefined     = "UNDEFINED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// Invariant names reported by Validate.
const (
	InvariantUniqueNames   = "unique_names"
	InvariantSingleSource  = "single_source_mapped"
	InvariantDefinition    = "single_definition"
	InvariantAcyclic       = "acyclic"
	InvariantAdjacency     = "adjacent_connection"
	InvariantLiveReference = "live_reference"
)
