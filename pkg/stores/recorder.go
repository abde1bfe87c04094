package stores

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellxform/cellxform/pkg/engine"
)

// Recorder persists the progress events of one run. It implements
// engine.Observer; write failures are logged and do not stop the run.
type Recorder struct {
	store Store
	runID string
	now   func() time.Time
}

// NewRecorder creates a recorder for runID.
func NewRecorder(store Store, runID string) *Recorder {
	return &Recorder{store: store, runID: runID, now: time.Now}
}

// Begin creates the running record for a transformation.
func (r *Recorder) Begin(ctx context.Context, modelName, modelPath, protocolPath string) error {
	return r.store.CreateRun(ctx, &Run{
		ID:           r.runID,
		Model:        modelName,
		ModelPath:    modelPath,
		ProtocolPath: protocolPath,
		Status:       engine.RunStatusRunning,
		StartedAt:    r.now(),
	})
}

// Finish stores the terminal report.
func (r *Recorder) Finish(ctx context.Context, report *engine.Report) error {
	return r.store.CompleteRun(ctx, report)
}

// OnEvent implements engine.Observer.
func (r *Recorder) OnEvent(ctx context.Context, ev engine.Event) {
	stage, _, _ := strings.Cut(ev.Type, ".")

	event := &RunEvent{
		RunID:     r.runID,
		Type:      ev.Type,
		Stage:     stage,
		Name:      ev.Name,
		Level:     EventLevelInfo,
		Message:   ev.Message,
		Timestamp: r.now(),
	}
	if len(ev.Data) > 0 {
		data, err := json.Marshal(ev.Data)
		if err == nil {
			s := string(data)
			event.Data = &s
		}
	}

	if err := r.store.AppendEvent(ctx, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("run_id", r.runID).
			Str("event", ev.Type).
			Msg("Failed to record run event")
	}
}
