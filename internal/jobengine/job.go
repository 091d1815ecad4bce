// Package jobengine implements the Job Engine: tracks every long-running
// operation as a first-class Job with progress, cancellation, timeout, and a
// retained terminal result.
package jobengine

import (
	"context"
	"sync/atomic"
	"time"

	ichan "github.com/Code-Hex/go-infinity-channel"
)

// State is one node of the job state machine:
// queued -> running -> {succeeded | failed | cancelled | timed_out}.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether s is one of the immutable end states.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled, StateTimedOut:
		return true
	default:
		return false
	}
}

// ProgressEvent is one progress update emitted by a running job.
type ProgressEvent struct {
	JobID   string
	Percent *int // nil means "unknown", per the monotonic-or-null progress policy
	Message string
}

// Run is the function a submitted job executes. It receives a JobCtx
// carrying cancellation and progress reporting.
type Run func(ctx *JobCtx) (result any, err error)

// JobCtx is handed to a running job's Run function.
type JobCtx struct {
	Context  context.Context
	cancelled *atomic.Bool
	progress  *ichan.Channel[ProgressEvent]
	jobID     string
	lastPct   *atomic.Int64 // -1 sentinel means "no progress reported yet"
}

// IsCancelled reports whether Cancel has been requested for this job.
func (c *JobCtx) IsCancelled() bool { return c.cancelled.Load() }

// ReportProgress emits a monotonic non-decreasing progress update. A pct of
// nil communicates liveness without a numeric percentage. Values that would
// regress progress are clamped to the last reported value.
func (c *JobCtx) ReportProgress(pct *int, message string) {
	if pct != nil {
		last := c.lastPct.Load()
		if int64(*pct) < last {
			clamped := int(last)
			pct = &clamped
		} else {
			c.lastPct.Store(int64(*pct))
		}
	}
	c.progress.In() <- ProgressEvent{JobID: c.jobID, Percent: pct, Message: message}
}

// Job is the server-side record of a long-running operation.
type Job struct {
	ID         string
	Kind       string
	VMID       string
	State      State
	Progress   *int
	StartedAt  time.Time
	FinishedAt time.Time
	Result     any
	Err        error
	Committed  string // "true" | "false" | "unknown" — set on ambiguous-outcome terminal states
}

// snapshot returns a value copy safe to hand to callers outside the engine's lock.
func (j *Job) snapshot() *Job {
	cp := *j
	return &cp
}
