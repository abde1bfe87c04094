package stores

import (
	"context"
	"time"

	"github.com/cellxform/cellxform/pkg/engine"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one recorded transformation.
type Run struct {
	ID           string           `json:"id"`
	Model        string           `json:"model"`
	ModelPath    string           `json:"model_path"`
	ProtocolPath string           `json:"protocol_path"`
	Status       engine.RunStatus `json:"status"`
	Stage        *string          `json:"stage,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	Error        *string          `json:"error,omitempty"`
	Summary      string           `json:"summary"` // JSON-encoded engine.Report
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// RunEvent is an append-only progress entry for a run.
type RunEvent struct {
	ID        int64      `json:"id"`
	RunID     string     `json:"run_id"`
	Type      string     `json:"type"`
	Stage     string     `json:"stage"`
	Name      string     `json:"name,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Data      *string    `json:"data,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for run history persistence.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	CompleteRun(ctx context.Context, report *engine.Report) error
	ListRuns(ctx context.Context, status *engine.RunStatus, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvent(ctx context.Context, event *RunEvent) error
	GetEvents(ctx context.Context, runID string, level *EventLevel, limit, offset int) ([]*RunEvent, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
