package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event. The tool registry emits one for
// every tool call; job transitions and lock contention are not emitted as
// events. Required fields: Timestamp, RunID, EventType, Summary.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	RunID     string          `json:"run_id"`
	EventType string          `json:"event_type"`
	Summary   string          `json:"summary"`
	VMID      string          `json:"vm_id,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventToolCall      = "tool_call"
	EventJobTransition = "job_transition"
	EventLockContended = "lock_contended"
	EventVMLifecycle   = "vm_lifecycle"
	EventAdapterExec   = "adapter_exec"
)

// ToolCallData is the data payload for tool_call events.
type ToolCallData struct {
	Tool       string `json:"tool"`
	Action     string `json:"action,omitempty"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"duration_ms"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// JobTransitionData is the data payload for job_transition events.
type JobTransitionData struct {
	JobID    string `json:"job_id"`
	Kind     string `json:"kind"`
	FromState string `json:"from_state"`
	ToState  string `json:"to_state"`
	Progress *int   `json:"progress,omitempty"`
}

// LockContendedData is the data payload for lock_contended events.
type LockContendedData struct {
	Intent   string `json:"intent"`
	WaitedMS int64  `json:"waited_ms"`
}

// AdapterExecData is the data payload for adapter_exec events.
type AdapterExecData struct {
	Verb       string `json:"verb"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Classified string `json:"classified,omitempty"`
}
