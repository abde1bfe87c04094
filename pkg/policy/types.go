package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/cellxform/cellxform/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a transformation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the transformation.
	SeverityError Severity = "error"

	// SeverityCritical blocks the transformation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. The module must
// define a `deny` set in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with cellxform.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single deny result.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Name is the protocol name the violation refers to, if any.
	Name string `json:"name,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains the remaining fields of the deny object.
	Details map[string]interface{} `json:"details,omitempty"`
}

func (v Violation) String() string {
	if v.Name != "" {
		return fmt.Sprintf("%s: %s (%s)", v.Policy, v.Message, v.Name)
	}
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result represents the result of evaluating every enabled policy.
type Result struct {
	// Allowed is false if any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document bound to `input` in every policy.
type Input struct {
	// ChangeSet describes the batch against the unmodified model.
	ChangeSet *engine.ChangeSet `json:"changeset"`

	// Context carries evaluation metadata.
	Context *Context `json:"context"`
}

// Context provides information about the evaluation.
type Context struct {
	// Operation is "apply" or "validate".
	Operation string `json:"operation"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains additional caller-supplied values.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PolicyBundle represents a collection of related policies in one JSON file.
type PolicyBundle struct {
	// Name is the unique name of the bundle.
	Name string `json:"name"`

	// Version is the bundle version.
	Version string `json:"version"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Policies are the policies in this bundle.
	Policies []Policy `json:"policies"`
}

// DeniedError is returned by CheckChangeSet when a blocking violation is found.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "policy denied: " + strings.Join(parts, "; ")
}
