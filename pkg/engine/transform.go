package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cellxform/cellxform/pkg/model"
)

const tracerName = "github.com/cellxform/cellxform/pkg/engine"

// Transformation applies an ordered batch of inputs to a model and,
// optionally, slices the model down to a set of outputs.
type Transformation struct {
	// Inputs is the ordered batch applied by the substitution pass.
	Inputs []Input

	// Outputs are qualified names, "tag:<label>" or bare implicit names,
	// resolved after substitution. An empty list skips slicing.
	Outputs []string

	model    *model.Model
	units    UnitsChecker
	tags     TagResolver
	policy   PolicyChecker
	metrics  MetricsRecorder
	observer Observer
	tracer   trace.Tracer
	id       string

	// implicit is the lazily created owner namespace for bare names.
	implicit string

	report *Report
}

// Option configures a Transformation.
type Option func(*Transformation)

// WithUnitsChecker replaces the default units checker.
func WithUnitsChecker(c UnitsChecker) Option {
	return func(t *Transformation) { t.units = c }
}

// WithTagResolver replaces the model's own tag index.
func WithTagResolver(r TagResolver) Option {
	return func(t *Transformation) { t.tags = r }
}

// WithPolicy vets the change set before Apply mutates anything.
func WithPolicy(p PolicyChecker) Option {
	return func(t *Transformation) { t.policy = p }
}

// WithMetrics records run measurements.
func WithMetrics(m MetricsRecorder) Option {
	return func(t *Transformation) { t.metrics = m }
}

// WithObserver publishes progress events.
func WithObserver(o Observer) Option {
	return func(t *Transformation) { t.observer = o }
}

// WithTracer replaces the global otel tracer.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Transformation) { t.tracer = tr }
}

// WithID sets the run identifier. A random UUID is used otherwise.
func WithID(id string) Option {
	return func(t *Transformation) { t.id = id }
}

// New creates a transformation over m.
func New(m *model.Model, opts ...Option) *Transformation {
	t := &Transformation{
		model:  m,
		units:  NewUnitsChecker(m, false),
		tags:   m,
		tracer: otel.Tracer(tracerName),
		id:     uuid.New().String(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.report = newReport(t.id, m)
	return t
}

// Model returns the model being transformed.
func (t *Transformation) Model() *model.Model {
	return t.model
}

// ID returns the run identifier.
func (t *Transformation) ID() string {
	return t.id
}

// ImplicitNamespace returns the owner namespace created for bare names, or
// the empty string if none was needed.
func (t *Transformation) ImplicitNamespace() string {
	return t.implicit
}

// Apply runs substitution, then slicing when Outputs is non-empty, then
// structural validation. The model is mutated in place and is not rolled
// back on failure; callers needing atomicity apply to a Clone.
func (t *Transformation) Apply(ctx context.Context) (*Report, error) {
	ctx, span := t.tracer.Start(ctx, "transformation.apply",
		trace.WithAttributes(
			attribute.String("transformation.id", t.id),
			attribute.String("model.name", t.model.Name),
			attribute.Int("inputs.count", len(t.Inputs)),
			attribute.Int("outputs.count", len(t.Outputs)),
		))
	defer span.End()

	logger := loggerFrom(ctx).With().
		Str("component", "engine").
		Str("transformation", t.id).
		Logger()
	ctx = logger.WithContext(ctx)

	report := newReport(t.id, t.model)
	t.report = report

	fail := func(stage string, err error) (*Report, error) {
		report.Status = RunStatusFailed
		if stage == "policy" {
			report.Status = RunStatusDenied
		}
		report.Stage = stage
		report.Error = err.Error()
		report.Duration = time.Since(report.StartedAt)
		report.After = t.model.Stats()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if t.metrics != nil {
			t.metrics.RecordTransformation(string(report.Status), report.Duration)
			class := string(model.ClassOf(err))
			if class == "" {
				class = "other"
			}
			t.metrics.RecordError(class)
		}
		logger.Error().Err(err).Str("stage", stage).Msg("Transformation failed")
		return report, err
	}

	if t.policy != nil {
		if err := t.policy.CheckChangeSet(ctx, t.ChangeSet()); err != nil {
			return fail("policy", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return fail("substitute", err)
	}
	if err := t.substitute(ctx, t.Inputs); err != nil {
		return fail("substitute", err)
	}
	report.ImplicitNamespace = t.implicit

	outputs, err := t.resolveOutputs()
	if err != nil {
		return fail("outputs", err)
	}
	for _, v := range outputs {
		report.Outputs = append(report.Outputs, v.QualifiedName())
	}

	if len(outputs) > 0 {
		if err := ctx.Err(); err != nil {
			return fail("slice", err)
		}
		if err := t.slice(ctx, outputs); err != nil {
			return fail("slice", err)
		}
	}

	if err := t.model.Validate(); err != nil {
		return fail("validate", err)
	}

	report.Status = RunStatusSucceeded
	report.After = t.model.Stats()
	report.Duration = time.Since(report.StartedAt)
	if t.metrics != nil {
		t.metrics.RecordTransformation(string(report.Status), report.Duration)
	}
	span.SetStatus(codes.Ok, "")
	t.emit(ctx, Event{
		Type:    EventApplyDone,
		Message: "transformation applied",
		Data: map[string]interface{}{
			"variables":   report.After.Variables,
			"equations":   report.After.Equations,
			"connections": report.After.Connections,
			"removed":     report.Removed,
		},
	})

	logger.Info().
		Int("inputs", len(t.Inputs)).
		Int("outputs", len(outputs)).
		Int("connections_created", len(report.CreatedConnections)).
		Int("removed", report.Removed).
		Dur("duration", report.Duration).
		Msg("Transformation applied")

	return report, nil
}

// resolveOutputs resolves Outputs against the mutated model, dropping duplicates.
func (t *Transformation) resolveOutputs() ([]*model.Variable, error) {
	seen := make(map[model.VarRef]bool)
	outputs := make([]*model.Variable, 0, len(t.Outputs))
	for _, name := range t.Outputs {
		v, err := t.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("resolve output %q: %w", name, err)
		}
		if seen[v.Ref()] {
			continue
		}
		seen[v.Ref()] = true
		outputs = append(outputs, v)
	}
	return outputs, nil
}

func (t *Transformation) emit(ctx context.Context, ev Event) {
	if t.observer != nil {
		t.observer.OnEvent(ctx, ev)
	}
}

// loggerFrom returns the context logger, falling back to the global logger.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}
