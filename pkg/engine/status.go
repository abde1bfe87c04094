package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the outcome of one Apply call.
type RunStatus string

const (
	// RunStatusRunning indicates Apply has started and not yet returned.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every stage completed and the model validated.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a stage returned an error. The model may be
	// partially mutated.
	RunStatusFailed RunStatus = "failed"

	// RunStatusDenied indicates a policy rejected the change set. The model
	// was not touched.
	RunStatusDenied RunStatus = "denied"
)

// IsTerminal returns true if the status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusDenied
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusDenied:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
