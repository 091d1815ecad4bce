package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_GoldenFull(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 2, 23, 14, 30, 0, 123000000, time.UTC),
		RunID:     "session-9f8e7d6c",
		EventType: EventJobTransition,
		Summary:   "job clone-1 running -> succeeded",
		VMID:      "t1",
		Tags:      []string{"clone"},
		Data:      json.RawMessage(`{"job_id":"clone-1","kind":"clone","from_state":"running","to_state":"succeeded"}`),
	}

	got, err := json.Marshal(event)
	require.NoError(t, err)

	goldenPath := filepath.Join("testdata", "event_full.golden")
	if os.Getenv("UPDATE_GOLDEN") != "" {
		os.MkdirAll("testdata", 0755)
		os.WriteFile(goldenPath, append(got, '\n'), 0644)
		t.Skip("golden file updated")
	}

	expected, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "golden file missing; run with UPDATE_GOLDEN=1 to create")
	assert.JSONEq(t, string(expected), string(got))
}

func TestEvent_GoldenMinimal(t *testing.T) {
	event := &Event{
		Timestamp: time.Date(2026, 2, 23, 14, 30, 0, 0, time.UTC),
		RunID:     "run-a1b2c3d4",
		EventType: EventToolCall,
		Summary:   "vm_management.list -> ok",
	}

	got, err := json.Marshal(event)
	require.NoError(t, err)

	goldenPath := filepath.Join("testdata", "event_minimal.golden")
	if os.Getenv("UPDATE_GOLDEN") != "" {
		os.MkdirAll("testdata", 0755)
		os.WriteFile(goldenPath, append(got, '\n'), 0644)
		t.Skip("golden file updated")
	}

	expected, err := os.ReadFile(goldenPath)
	require.NoError(t, err, "golden file missing; run with UPDATE_GOLDEN=1 to create")
	assert.JSONEq(t, string(expected), string(got))
}
