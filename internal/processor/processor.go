// Package processor schedules image processing requests onto a bounded pool of
// worker slots. Requests are queued by priority, coalesced by content key, and
// can be promoted or cancelled while they wait.
//
// All queue and pool mutations happen under one mutex and never across a
// computation, so each entry point runs to completion before the next one
// observes the state.
package processor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/worker"
)

// DispatchHook observes every dispatch. It runs under the processor lock and
// must not call back into the processor.
type DispatchHook func(msg img.Message, priority Priority)

type options struct {
	maxWorkers  int
	idleTimeout time.Duration
	logger      *slog.Logger
	onDispatch  DispatchHook
}

// Option configures a Processor.
type Option func(*options)

// WithMaxWorkers overrides the hardware-derived worker cap.
func WithMaxWorkers(n int) Option { return func(o *options) { o.maxWorkers = n } }

// WithIdleTimeout sets how long an idle worker survives before eviction.
func WithIdleTimeout(d time.Duration) Option { return func(o *options) { o.idleTimeout = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithDispatchHook registers an observer called for every dispatch.
func WithDispatchHook(h DispatchHook) Option { return func(o *options) { o.onDispatch = h } }

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	High     int
	Low      int
	InFlight int
	Live     int
	Idle     int
}

// Processor is the scheduler. Use Shared for the process-wide instance or New
// for an isolated one.
type Processor struct {
	pool       *worker.Pool
	logger     *slog.Logger
	onDispatch DispatchHook

	mu        sync.Mutex
	queues    queuePair
	inflight  map[*worker.Slot]*task
	destroyed bool
}

// New creates a processor running computer on its workers and registers it
// for DestroyAll.
func New(computer img.Computer, opts ...Option) *Processor {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Processor{
		pool: worker.NewPool(computer, worker.Options{
			MaxWorkers:  o.maxWorkers,
			IdleTimeout: o.idleTimeout,
			Logger:      o.logger,
		}),
		logger:     o.logger,
		onDispatch: o.onDispatch,
		inflight:   make(map[*worker.Slot]*task),
	}
	register(p)
	return p
}

// MaxWorkers returns the live worker cap.
func (p *Processor) MaxWorkers() int { return p.pool.MaxWorkers() }

// Process queues msg and returns a future for its result. A High request
// supersedes any Low request for the same content key still waiting in the
// queue; that request's future is rejected with ErrPromoted.
func (p *Processor) Process(msg img.Message, priority Priority) *Future {
	f := newFuture(msg.ContentKey)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		f.reject(ErrDestroyed)
		return f
	}

	if priority == High {
		for _, stale := range p.queues.low.RemoveAll(msg.ContentKey) {
			stale.future.reject(ErrPromoted)
			p.logger.Debug("superseded low priority task", "content_key", msg.ContentKey)
		}
	}

	p.queues.push(&task{message: msg, priority: priority, future: f})
	p.dispatchLocked()
	return f
}

// PromoteToHighPriority moves a task still waiting in the low queue to the back
// of the high queue. It reports whether a task was moved; in-flight, already
// high, and unknown keys are left alone.
func (p *Processor) PromoteToHighPriority(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.queues.low.Remove(key)
	if t == nil {
		return false
	}
	t.priority = High
	p.queues.high.PushBack(t)
	p.logger.Debug("promoted task", "content_key", key, "high_queue", p.queues.high.Len())
	return true
}

// CancelAll rejects every queued and in-flight task with ErrCancelled and
// terminates every worker without waiting for running computations. It
// returns the number of rejected tasks.
func (p *Processor) CancelAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.abortLocked(ErrCancelled)
	if n > 0 {
		p.logger.Info("cancelled all processing", "tasks", n)
	}
	return n
}

// Destroy tears the processor down. Pending futures are rejected with
// ErrDestroyed and later Process calls fail immediately.
func (p *Processor) Destroy() {
	p.mu.Lock()
	if !p.destroyed {
		p.destroyed = true
		p.abortLocked(ErrDestroyed)
	}
	p.mu.Unlock()

	unregister(p)
}

func (p *Processor) abortLocked(cause error) int {
	n := 0
	for _, t := range p.queues.high.Drain() {
		t.future.reject(cause)
		n++
	}
	for _, t := range p.queues.low.Drain() {
		t.future.reject(cause)
		n++
	}
	for slot, t := range p.inflight {
		t.future.reject(cause)
		delete(p.inflight, slot)
		n++
	}
	p.pool.TerminateAll()
	return n
}

// Stats returns queue, in-flight and worker counts.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps := p.pool.Stats()
	return Stats{
		High:     p.queues.high.Len(),
		Low:      p.queues.low.Len(),
		InFlight: len(p.inflight),
		Live:     ps.Live,
		Idle:     ps.Idle,
	}
}

// dispatchLocked assigns at most one queued task to a worker. When no worker
// is free the task goes back to the front of its queue and the next
// completion retries.
func (p *Processor) dispatchLocked() {
	t := p.queues.pick()
	if t == nil {
		return
	}

	slot, ok := p.pool.Acquire()
	if !ok {
		p.queues.requeue(t)
		return
	}

	p.inflight[slot] = t
	if p.onDispatch != nil {
		p.onDispatch(t.message, t.priority)
	}
	slot.Run(t.message, func(res *img.Result, err error) {
		p.complete(slot, res, err)
	})
}

func (p *Processor) complete(slot *worker.Slot, res *img.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.inflight[slot]
	if !ok {
		// unbound by CancelAll or Destroy
		return
	}
	delete(p.inflight, slot)

	if err != nil {
		p.logger.Error("worker failed", "content_key", t.key(), "slot", slot.ID, "err", err)
		t.future.reject(&WorkerError{Key: t.key(), Err: err})
		p.pool.Terminate(slot)
		p.dispatchLocked()
		return
	}

	t.future.resolve(res)
	p.pool.Release(slot)
	p.dispatchLocked()
}
