package jobengine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	ichan "github.com/Code-Hex/go-infinity-channel"
	"github.com/google/uuid"

	"github.com/sandraschi/virtualization-mcp/internal/toolregistry"
)

// Config bounds job retention and the default per-job deadline.
type Config struct {
	ResultTTL      time.Duration
	SweepInterval  time.Duration
	DefaultTimeout time.Duration
	// StorePath, if non-empty, enables sqlite-backed terminal-job persistence
	// at that file path. Empty disables persistence (in-memory only).
	StorePath string
}

func (c Config) withDefaults() Config {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	return c
}

type entry struct {
	job      *Job
	cancelFn context.CancelFunc
	cancelled *atomic.Bool
	progress *ichan.Channel[ProgressEvent]
}

// Engine is the process-wide job table singleton.
type Engine struct {
	cfg Config

	mu      sync.Mutex
	jobs    map[string]*entry
	store   *store

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs an Engine, optionally backed by a sqlite store at
// cfg.StorePath, and starts its background sweep.
func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		jobs:   make(map[string]*entry),
		stopCh: make(chan struct{}),
	}
	if cfg.StorePath != "" {
		st, err := openStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		e.store = st
	}
	go e.sweepLoop()
	return e, nil
}

// Submit starts run in a new goroutine under a fresh job id, with the given
// timeout (0 uses the engine default). It returns immediately with the id.
func (e *Engine) Submit(kind, vmID string, run Run, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	cancelled := &atomic.Bool{}
	progressCh := ichan.New[ProgressEvent]()

	j := &Job{ID: id, Kind: kind, VMID: vmID, State: StateQueued, StartedAt: time.Now()}
	e.mu.Lock()
	e.jobs[id] = &entry{job: j, cancelFn: cancel, cancelled: cancelled, progress: progressCh}
	e.mu.Unlock()

	go e.run(id, ctx, cancel, cancelled, progressCh, run)
	return id
}

func (e *Engine) run(id string, ctx context.Context, cancel context.CancelFunc, cancelled *atomic.Bool, progressCh *ichan.Channel[ProgressEvent], run Run) {
	defer cancel()

	e.transition(id, StateRunning, nil, nil, "")

	lastPct := &atomic.Int64{}
	lastPct.Store(-1)
	jctx := &JobCtx{Context: ctx, cancelled: cancelled, progress: progressCh, jobID: id, lastPct: lastPct}

	// drain progress events into the job's Progress field as they arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-progressCh.Out():
				if !ok {
					return
				}
				e.mu.Lock()
				if en, found := e.jobs[id]; found {
					en.job.Progress = ev.Percent
				}
				e.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()

	result, err := run(jctx)
	progressCh.Close()
	<-done

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		e.transition(id, StateTimedOut, nil, ctx.Err(), "unknown")
	case cancelled.Load():
		e.transition(id, StateCancelled, nil, err, "unknown")
	case err != nil:
		e.transition(id, StateFailed, nil, err, "")
	default:
		e.transition(id, StateSucceeded, result, nil, "")
	}
}

func (e *Engine) transition(id string, state State, result any, err error, committed string) {
	e.mu.Lock()
	en, ok := e.jobs[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	en.job.State = state
	if state.Terminal() {
		en.job.FinishedAt = time.Now()
		en.job.Result = result
		en.job.Err = err
		en.job.Committed = committed
	}
	snap := en.job.snapshot()
	e.mu.Unlock()

	if state.Terminal() && e.store != nil {
		_ = e.store.put(context.Background(), snap)
	}
}

// Get returns the current state of a job, or a not_found error.
func (e *Engine) Get(id string) (*Job, error) {
	e.mu.Lock()
	en, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return nil, toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "job %s not found", id)
	}
	return en.job.snapshot(), nil
}

// Cancel sets the cancel signal for a job and cancels its context, which
// propagates to any adapter call honoring ctx. Best-effort: a job already
// past VirtualBox's commit point may still complete successfully.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	en, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return toolregistry.NewErrorf(toolregistry.KindNotFound, nil, "job %s not found", id)
	}
	en.cancelled.Store(true)
	en.cancelFn()
	return nil
}

// Filter selects jobs by optional kind/state/vm_id.
type Filter struct {
	Kind string
	State State
	VMID string
}

// List returns a snapshot of every job matching filter.
func (e *Engine) List(filter Filter) []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Job
	for _, en := range e.jobs {
		j := en.job
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		if filter.VMID != "" && j.VMID != filter.VMID {
			continue
		}
		out = append(out, j.snapshot())
	}
	return out
}

// Shutdown stops the sweeper and closes the backing store, if any.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.store != nil {
		_ = e.store.close()
	}
}

func (e *Engine) sweepLoop() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepOnce(time.Now())
		}
	}
}

func (e *Engine) sweepOnce(now time.Time) {
	cutoff := now.Add(-e.cfg.ResultTTL)
	e.mu.Lock()
	for id, en := range e.jobs {
		if en.job.State.Terminal() && en.job.FinishedAt.Before(cutoff) {
			delete(e.jobs, id)
		}
	}
	e.mu.Unlock()

	if e.store != nil {
		_ = e.store.evictOlderThan(context.Background(), cutoff)
	}
}
