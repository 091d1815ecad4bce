package logging

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records events in memory for test assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
	closed bool
}

func (s *captureSink) Write(event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *captureSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestEmitter_MetadataStamping(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "run-123"}, sink)

	err := emitter.Emit(EventVMLifecycle, "vm started", "t1", nil, nil)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "run-123", event.RunID)
	assert.Equal(t, "t1", event.VMID)
	assert.Equal(t, EventVMLifecycle, event.EventType)
	assert.True(t, event.Timestamp.UTC().Equal(event.Timestamp), "timestamp should be UTC")
}

func TestEmitter_DataMarshaling(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink)

	data := &ToolCallData{Tool: "vm_management", Action: "start", Success: true, DurationMS: 12}
	err := emitter.Emit(EventToolCall, "test", "t1", nil, data)
	require.NoError(t, err)

	require.NotNil(t, sink.events[0].Data)
	var parsed ToolCallData
	require.NoError(t, json.Unmarshal(sink.events[0].Data, &parsed))
	assert.Equal(t, "start", parsed.Action)
	assert.True(t, parsed.Success)
}

func TestEmitter_NilData(t *testing.T) {
	sink := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink)

	err := emitter.Emit(EventToolCall, "test", "", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, sink.events[0].Data)
}

func TestEmitter_MultiSink(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink1, sink2)

	require.NoError(t, emitter.Emit(EventToolCall, "test", "", nil, nil))
	assert.Len(t, sink1.events, 1)
	assert.Len(t, sink2.events, 1)
}

func TestEmitter_NoSinks(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{RunID: "r"})
	assert.NoError(t, emitter.Emit(EventToolCall, "test", "", nil, nil))
}

type errorSink struct{ err error }

func (s *errorSink) Write(*Event) error { return s.err }
func (s *errorSink) Close() error       { return s.err }

func TestEmitter_SinkErrorPropagation(t *testing.T) {
	sink := &errorSink{err: errors.New("write failed")}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink)
	assert.Error(t, emitter.Emit(EventToolCall, "test", "", nil, nil))
}

func TestEmitter_Close(t *testing.T) {
	sink1 := &captureSink{}
	sink2 := &captureSink{}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink1, sink2)

	assert.NoError(t, emitter.Close())
	assert.True(t, sink1.closed)
	assert.True(t, sink2.closed)
}

func TestEmitter_CloseErrorCollection(t *testing.T) {
	sink1 := &errorSink{err: errors.New("close1")}
	sink2 := &errorSink{err: errors.New("close2")}
	emitter := NewEmitter(EmitterConfig{RunID: "r"}, sink1, sink2)

	err := emitter.Close()
	assert.Error(t, err)
	assert.Equal(t, "close1", err.Error())
}
