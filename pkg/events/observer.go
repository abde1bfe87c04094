package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cellxform/cellxform/pkg/engine"
)

// Stream publishes engine events to an Encoder. Write failures are logged and
// do not stop the run.
type Stream struct {
	enc *Encoder
}

// NewStream creates an observer writing to enc.
func NewStream(enc *Encoder) *Stream {
	return &Stream{enc: enc}
}

// OnEvent implements engine.Observer.
func (s *Stream) OnEvent(ctx context.Context, ev engine.Event) {
	if err := s.enc.EncodeEvent(ev); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("event", ev.Type).
			Msg("Failed to stream event")
	}
}

// Tee fans events out to every non-nil observer in order.
func Tee(observers ...engine.Observer) engine.Observer {
	var out []engine.Observer
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return engine.ObserverFunc(func(ctx context.Context, ev engine.Event) {
		for _, o := range out {
			o.OnEvent(ctx, ev)
		}
	})
}
