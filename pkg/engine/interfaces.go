package engine

import (
	"context"
	"time"

	"github.com/cellxform/cellxform/pkg/model"
)

// UnitsChecker decides whether a value in units from may be wired into a
// variable in units to.
type UnitsChecker interface {
	// Compatible returns nil if the wiring is dimensionally acceptable.
	Compatible(from, to string) error
}

// TagResolver resolves a semantic label to a qualified variable reference.
type TagResolver interface {
	ResolveTag(label string) (model.VarRef, error)
}

// PolicyChecker vets a proposed change set before any mutation happens.
type PolicyChecker interface {
	// CheckChangeSet returns an error if any policy denies the change set.
	CheckChangeSet(ctx context.Context, cs *ChangeSet) error
}

// MetricsRecorder receives engine measurements.
type MetricsRecorder interface {
	RecordTransformation(status string, duration time.Duration)
	RecordConnectionsCreated(n int)
	RecordDetached(kind string, n int)
	RecordError(class string)
}

// Observer receives progress events.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, ev Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}
