package events

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cellxform/cellxform/pkg/engine"
	"github.com/cellxform/cellxform/pkg/model"
)

// Encoder writes newline-delimited JSON messages to an io.Writer. It is safe
// for concurrent use.
type Encoder struct {
	mu    sync.Mutex
	w     *bufio.Writer
	runID string
	seq   int
	now   func() time.Time
}

// NewEncoder creates a new stream encoder for runID.
func NewEncoder(w io.Writer, runID string) *Encoder {
	return &Encoder{
		w:     bufio.NewWriter(w),
		runID: runID,
		now:   time.Now,
	}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(kind Kind, data interface{}) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	msg := Message{
		Kind:      kind,
		RunID:     e.runID,
		Seq:       e.seq,
		Timestamp: e.now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeEvent sends an EVENT message for an engine event.
func (e *Encoder) EncodeEvent(ev engine.Event) error {
	msg := &EventMessage{
		ID:      uuid.NewString(),
		Type:    ev.Type,
		Name:    ev.Name,
		Message: ev.Message,
		Data:    ev.Data,
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.Encode(KindEvent, msg)
}

// EncodeReport sends a REPORT message.
func (e *Encoder) EncodeReport(report *engine.Report) error {
	if report == nil {
		return errors.New("report is required")
	}
	return e.Encode(KindReport, report)
}

// EncodeError sends an ERROR message describing err.
func (e *Encoder) EncodeError(stage string, err error) error {
	msg := &ErrorMessage{
		Class:   string(model.ClassOf(err)),
		Stage:   stage,
		Message: err.Error(),
	}
	var me *model.Error
	if errors.As(err, &me) {
		msg.Name = me.Name
	}
	return e.Encode(KindError, msg)
}

// Decoder reads messages from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new stream decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Reports of large models exceed the default token size.
	const maxCapacity = 10 * 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)
	return &Decoder{r: scanner}
}

// Decode reads the next message. It returns io.EOF at the end of the stream.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty line")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if err := msg.Kind.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	return &msg, nil
}

// DecodeEvent decodes the payload of an EVENT message.
func DecodeEvent(msg *Message) (*EventMessage, error) {
	if msg.Kind != KindEvent {
		return nil, fmt.Errorf("expected %s message, got %s", KindEvent, msg.Kind)
	}
	var ev EventMessage
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &ev, nil
}

// DecodeReport decodes the payload of a REPORT message.
func DecodeReport(msg *Message) (*engine.Report, error) {
	if msg.Kind != KindReport {
		return nil, fmt.Errorf("expected %s message, got %s", KindReport, msg.Kind)
	}
	var report engine.Report
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &report, nil
}

// DecodeError decodes the payload of an ERROR message.
func DecodeError(msg *Message) (*ErrorMessage, error) {
	if msg.Kind != KindError {
		return nil, fmt.Errorf("expected %s message, got %s", KindError, msg.Kind)
	}
	var em ErrorMessage
	if err := json.Unmarshal(msg.Data, &em); err != nil {
		return nil, fmt.Errorf("failed to unmarshal error: %w", err)
	}
	return &em, nil
}
