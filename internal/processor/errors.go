package processor

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled rejects every task discarded by CancelAll.
	ErrCancelled = errors.New("cancelled")
	// ErrPromoted rejects a queued low-priority task replaced by a high-priority
	// request for the same content key.
	ErrPromoted = errors.New("promoted to high priority")
	// ErrDestroyed rejects work submitted to, or pending in, a destroyed processor.
	ErrDestroyed = errors.New("processor destroyed")
)

// WorkerError wraps a runtime failure of the worker that ran a task. The slot
// that produced it has already been terminated.
type WorkerError struct {
	Key string
	Err error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker failed for %q: %v", e.Key, e.Err)
}

func (e *WorkerError) Unwrap() error { return e.Err }

// IsInterruption reports whether err is an expected interruption (cancel,
// promotion, teardown) rather than a processing failure.
func IsInterruption(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrPromoted) || errors.Is(err, ErrDestroyed)
}
