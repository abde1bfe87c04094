package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cellxform/cellxform/pkg/engine"
)

// Kind is the type of a stream message.
type Kind string

const (
	// KindEvent carries one engine progress event.
	KindEvent Kind = "EVENT"
	// KindReport carries the final report of a run.
	KindReport Kind = "REPORT"
	// KindError carries a run failure.
	KindError Kind = "ERROR"
)

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindEvent, KindReport, KindError:
		return nil
	default:
		return fmt.Errorf("invalid message kind: %s", k)
	}
}

// Message is one line of the stream.
type Message struct {
	Kind      Kind            `json:"kind"`
	RunID     string          `json:"run_id,omitempty"`
	Seq       int             `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventMessage is the payload of a KindEvent message.
type EventMessage struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Name    string                 `json:"name,omitempty"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

var eventTypes = map[string]bool{
	engine.EventVariableDeclared: true,
	engine.EventEquationWired:    true,
	engine.EventHopCreated:       true,
	engine.EventHopReused:        true,
	engine.EventSliceDetached:    true,
	engine.EventApplyDone:        true,
}

// Validate checks the event payload.
func (e *EventMessage) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !eventTypes[e.Type] {
		return fmt.Errorf("unknown event type: %s", e.Type)
	}
	return nil
}

// Event converts the payload back to an engine event.
func (e *EventMessage) Event() engine.Event {
	return engine.Event{
		Type:    e.Type,
		Name:    e.Name,
		Message: e.Message,
		Data:    e.Data,
	}
}

// ErrorMessage is the payload of a KindError message.
type ErrorMessage struct {
	Class   string `json:"class,omitempty"`
	Name    string `json:"name,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}
