package lockregistry

import "errors"

// ErrTimeout is returned by Acquire when the requested timeout elapses
// before the lock becomes available.
var ErrTimeout = errors.New("lockregistry: acquire timed out")
