// Package cancellation holds the process-wide abort token shared by network
// work running beside the processor, such as metadata enrichment.
package cancellation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrCancelledByUser is the cause attached to tokens aborted by CancelAllProcessing.
var ErrCancelledByUser = errors.New("processing cancelled")

// Canceller is the scheduler side of a global cancel.
type Canceller interface {
	CancelAll() int
}

// ToastClearer drops pending processing notices.
type ToastClearer interface {
	ClearToasts()
}

// Coordinator owns the current token.
type Coordinator struct {
	scheduler Canceller
	toasts    ToastClearer
	logger    *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// New returns a coordinator with a fresh token. toasts may be nil.
func New(scheduler Canceller, toasts ToastClearer, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{scheduler: scheduler, toasts: toasts, logger: logger}
	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	return c
}

// Token returns the current token. It stays the same until CancelAllProcessing.
func (c *Coordinator) Token() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// CancelAllProcessing cancels every scheduler task, aborts the current token,
// installs a fresh one and clears processing notices. Tokens fetched after it
// returns are not aborted.
func (c *Coordinator) CancelAllProcessing() {
	n := 0
	if c.scheduler != nil {
		n = c.scheduler.CancelAll()
	}

	c.mu.Lock()
	c.cancel(ErrCancelledByUser)
	c.ctx, c.cancel = context.WithCancelCause(context.Background())
	c.mu.Unlock()

	if c.toasts != nil {
		c.toasts.ClearToasts()
	}
	c.logger.Info("cancelled all processing", "tasks", n)
}

// Aborted reports whether ctx was aborted by CancelAllProcessing.
func Aborted(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCancelledByUser)
}
