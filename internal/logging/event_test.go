package logging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSONFieldNames(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC),
		RunID:     "session-9f8e7d6c",
		EventType: EventToolCall,
		Summary:   "vm_management.start",
	}
	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Contains(t, m, "ts")
	assert.Contains(t, m, "run_id")
	assert.Contains(t, m, "event_type")
	assert.Contains(t, m, "summary")
	assert.NotContains(t, m, "vm_id")
	assert.NotContains(t, m, "tags")
	assert.NotContains(t, m, "data")
}

func TestEvent_OmitemptyPresent(t *testing.T) {
	event := &Event{
		Timestamp: time.Now().UTC(),
		RunID:     "test",
		EventType: EventJobTransition,
		Summary:   "test",
		VMID:      "t1",
		Tags:      []string{"clone"},
		Data:      json.RawMessage(`{"action":"started"}`),
	}
	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Contains(t, m, "vm_id")
	assert.Contains(t, m, "tags")
	assert.Contains(t, m, "data")
}

func TestEvent_TimestampFormat(t *testing.T) {
	ts := time.Date(2026, 2, 23, 14, 30, 0, 123456789, time.UTC)
	event := &Event{Timestamp: ts, RunID: "r", EventType: "t", Summary: "s"}

	b, err := json.Marshal(event)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	tsStr := m["ts"].(string)
	parsed, err := time.Parse(time.RFC3339Nano, tsStr)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestToolCallData_SuccessAlwaysPresent(t *testing.T) {
	data := &ToolCallData{Tool: "vm_management", Action: "list", Success: false}
	b, err := json.Marshal(data)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "success", "success field must be present even when false")
	assert.Equal(t, false, m["success"])
}

func TestJobTransitionData_StatesAlwaysPresent(t *testing.T) {
	data := &JobTransitionData{JobID: "j1", Kind: "clone", FromState: "running", ToState: "succeeded"}
	b, err := json.Marshal(data)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "from_state")
	assert.Contains(t, m, "to_state")
}

func TestEventTypeConstants(t *testing.T) {
	assert.Equal(t, "tool_call", EventToolCall)
	assert.Equal(t, "job_transition", EventJobTransition)
	assert.Equal(t, "lock_contended", EventLockContended)
	assert.Equal(t, "vm_lifecycle", EventVMLifecycle)
}
