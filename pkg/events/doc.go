// Package events streams transformation progress as newline-delimited JSON.
//
// Each line is a Message envelope with a kind (EVENT, REPORT or ERROR), the
// run ID, a sequence number, a timestamp and a JSON payload. A run emits one
// EVENT per engine event (substitute.variable, substitute.equation,
// connect.hop, connect.reuse, slice.detached, apply.done) followed by a
// REPORT on success or an ERROR on failure.
//
//	enc := events.NewEncoder(os.Stdout, runID)
//	tr := engine.New(m, engine.WithObserver(events.NewStream(enc)))
//	report, err := tr.Apply(ctx)
//	if err != nil {
//	    _ = enc.EncodeError(report.Stage, err)
//	} else {
//	    _ = enc.EncodeReport(report)
//	}
package events
