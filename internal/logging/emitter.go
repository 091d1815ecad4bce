package logging

import (
	"encoding/json"
	"time"

	"github.com/sandraschi/virtualization-mcp/internal/errx"
)

// EmitterConfig holds the static metadata stamped onto every event.
type EmitterConfig struct {
	// RunID identifies this server process instance. It is stamped on
	// every event as given; an empty RunID yields an empty run_id.
	RunID string
}

// Emitter dispatches typed events to one or more sinks. A nil *Emitter is
// safe to hold; callers guard emission with:
//
//	if emitter != nil {
//	    _ = emitter.Emit(...)
//	}
type Emitter struct {
	config EmitterConfig
	sinks  []Sink
}

// NewEmitter creates an emitter with the given configuration and sinks.
func NewEmitter(cfg EmitterConfig, sinks ...Sink) *Emitter {
	return &Emitter{config: cfg, sinks: sinks}
}

// Emit constructs an event with the emitter's static metadata and writes it
// to every registered sink. Returns the first error encountered; callers
// typically discard it (best-effort semantics) unless logging itself is
// being tested.
func (e *Emitter) Emit(eventType, summary, vmID string, tags []string, data interface{}) error {
	var rawData json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return errx.Wrap(ErrMarshalData, err)
		}
		rawData = b
	}

	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     e.config.RunID,
		EventType: eventType,
		Summary:   summary,
		VMID:      vmID,
		Tags:      tags,
		Data:      rawData,
	}

	for _, sink := range e.sinks {
		if err := sink.Write(event); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks, returning the first error encountered.
func (e *Emitter) Close() error {
	var firstErr error
	for _, sink := range e.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
