// Package lockregistry implements the VM Lock Registry: a per-VM advisory
// read/write lock, acquired in strict FIFO order so a steady stream of
// readers can never starve a waiting writer.
package lockregistry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Intent is what a caller wants to do while holding the lock.
type Intent int

const (
	Read Intent = iota
	Write
)

// Lease is returned by Acquire. Release is idempotent and safe to call from
// a defer regardless of which exit path is taken.
type Lease struct {
	once    sync.Once
	release func()
}

// Release gives up the lock. Safe to call multiple times.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

type waiter struct {
	intent Intent
	ready  chan struct{}
}

type vmLock struct {
	mu            sync.Mutex
	queue         []*waiter
	activeReaders int
	writerActive  bool
}

// grant admits the leading run of compatible waiters from the head of the
// FIFO queue: a solitary writer when nothing is active, or a contiguous run
// of readers up to (not including) the next writer.
func (l *vmLock) grant() {
	for len(l.queue) > 0 {
		w := l.queue[0]
		if w.intent == Write {
			if l.activeReaders > 0 || l.writerActive {
				return
			}
			l.writerActive = true
			l.queue = l.queue[1:]
			close(w.ready)
			return
		}
		if l.writerActive {
			return
		}
		l.activeReaders++
		l.queue = l.queue[1:]
		close(w.ready)
	}
}

// Registry owns one vmLock per VM id, created lazily on first use.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*vmLock
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{locks: make(map[string]*vmLock)}
}

func (r *Registry) lockFor(vmID string) *vmLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[vmID]
	if !ok {
		l = &vmLock{}
		r.locks[vmID] = l
	}
	return l
}

// Acquire blocks until the lock is granted, ctx is done, or timeout elapses
// (timeout <= 0 disables the timeout and leaves ctx as the only bound).
func (r *Registry) Acquire(ctx context.Context, vmID string, intent Intent, timeout time.Duration) (*Lease, error) {
	l := r.lockFor(vmID)
	w := &waiter{intent: intent, ready: make(chan struct{})}

	l.mu.Lock()
	l.queue = append(l.queue, w)
	l.grant()
	l.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.ready:
		return &Lease{release: func() { r.release(l, intent) }}, nil
	case <-ctx.Done():
		r.abandon(l, w)
		return nil, ctx.Err()
	case <-timeoutCh:
		r.abandon(l, w)
		return nil, ErrTimeout
	}
}

// abandon removes a waiter that gave up before being granted. If grant()
// raced ahead and admitted it anyway just before cancellation, the lock is
// released immediately instead of being silently leaked.
func (r *Registry) abandon(l *vmLock, w *waiter) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
	select {
	case <-w.ready:
		l.releaseLocked(w.intent)
	default:
	}
}

func (r *Registry) release(l *vmLock, intent Intent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(intent)
}

func (l *vmLock) releaseLocked(intent Intent) {
	if intent == Write {
		l.writerActive = false
	} else {
		l.activeReaders--
	}
	l.grant()
}

// AcquireMulti locks several VMs for the same intent, always in sorted order
// of vmID, so two callers locking overlapping sets can never deadlock against
// each other. On any failure, leases already acquired are released before
// returning the error.
func (r *Registry) AcquireMulti(ctx context.Context, vmIDs []string, intent Intent, timeout time.Duration) ([]*Lease, error) {
	sorted := append([]string(nil), vmIDs...)
	sort.Strings(sorted)

	leases := make([]*Lease, 0, len(sorted))
	for _, id := range sorted {
		lease, err := r.Acquire(ctx, id, intent, timeout)
		if err != nil {
			for _, l := range leases {
				l.Release()
			}
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}
