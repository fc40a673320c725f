// Package worker owns the background compute slots the scheduler dispatches to.
// A slot is a goroutine fed through a one-job inbox; it is created lazily,
// parked idle with an eviction timer after each job, and terminated on
// eviction, on a runtime failure, or when the pool is torn down.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-proxyprep/internal/img"
)

// State is the lifecycle state of a Slot.
type State int32

const (
	StateBusy State = iota
	StateIdle
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBusy:
		return "busy"
	case StateIdle:
		return "idle"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DoneFunc receives the outcome of one job. It is called at most once, from
// the slot goroutine, and is skipped when the slot was terminated while the
// job ran. A termination racing with delivery can still let one call through,
// so callers check their own binding before acting on it.
type DoneFunc func(res *img.Result, err error)

type job struct {
	msg  img.Message
	done DoneFunc
}

// Slot is one live background compute unit.
type Slot struct {
	ID uuid.UUID

	state   atomic.Int32
	inbox   chan job
	ctx     context.Context
	cancel  context.CancelFunc
	idleGen uint64
	timer   *time.Timer
}

// State reports the slot's current lifecycle state.
func (s *Slot) State() State { return State(s.state.Load()) }

// Run hands msg to the slot. The slot must be busy, i.e. freshly acquired.
func (s *Slot) Run(msg img.Message, done DoneFunc) {
	s.inbox <- job{msg: msg, done: done}
}

func (s *Slot) loop(c img.Computer, logger *slog.Logger) {
	for j := range s.inbox {
		res, err := compute(s.ctx, c, j.msg)
		if s.State() == StateTerminated {
			logger.Debug("discarding result of terminated slot", "slot", s.ID, "content_key", j.msg.ContentKey)
			continue
		}
		j.done(res, err)
	}
}

func compute(ctx context.Context, c img.Computer, msg img.Message) (res *img.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("worker panicked: %v\n%s", r, debug.Stack())
		}
	}()
	res, err = c.Compute(ctx, msg)
	if err == nil && res == nil {
		err = fmt.Errorf("worker returned no result for %q", msg.ContentKey)
	}
	return res, err
}

// Options configures a Pool.
type Options struct {
	MaxWorkers  int
	IdleTimeout time.Duration
	Logger      *slog.Logger
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Live       int
	Idle       int
	MaxWorkers int
	Created    int64
	Evicted    int64
}

// Pool is the worker lifecycle manager. It never holds more than MaxWorkers
// live slots. Idle slots are reused most-recently-idled first.
type Pool struct {
	computer    img.Computer
	maxWorkers  int
	idleTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	slots   map[uuid.UUID]*Slot
	idle    []*Slot
	created int64
	evicted int64
}

// NewPool creates an empty pool; slots are started on demand.
func NewPool(c img.Computer, opts Options) *Pool {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = MaxWorkers(HardwareConcurrency(context.Background()), DefaultCap)
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pool{
		computer:    c,
		maxWorkers:  opts.MaxWorkers,
		idleTimeout: opts.IdleTimeout,
		logger:      opts.Logger,
		slots:       make(map[uuid.UUID]*Slot),
	}
}

// MaxWorkers returns the live slot cap.
func (p *Pool) MaxWorkers() int { return p.maxWorkers }

// Acquire returns a busy slot: the most recently idled one if any, otherwise a
// new one while under the cap. It returns false when the pool is exhausted.
func (p *Pool) Acquire() (*Slot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state.Store(int32(StateBusy))
		return s, true
	}

	if len(p.slots) >= p.maxWorkers {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Slot{
		ID:     uuid.New(),
		inbox:  make(chan job, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.state.Store(int32(StateBusy))
	p.slots[s.ID] = s
	p.created++
	go s.loop(p.computer, p.logger)

	p.logger.Debug("worker slot created", "slot", s.ID, "live", len(p.slots), "max_workers", p.maxWorkers)
	return s, true
}

// Release parks a busy slot as idle and arms its eviction timer.
func (p *Pool) Release(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State() != StateBusy {
		return
	}
	s.state.Store(int32(StateIdle))
	s.idleGen++
	gen := s.idleGen
	s.timer = time.AfterFunc(p.idleTimeout, func() { p.evict(s, gen) })
	p.idle = append(p.idle, s)
}

func (p *Pool) evict(s *Slot, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.State() != StateIdle || s.idleGen != gen {
		return
	}
	p.terminateLocked(s)
	p.evicted++
	p.logger.Debug("idle worker slot evicted", "slot", s.ID, "live", len(p.slots))
}

// Terminate removes s from the pool regardless of its state.
func (p *Pool) Terminate(s *Slot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateLocked(s)
}

// TerminateAll removes every slot, busy and idle, and returns how many were live.
func (p *Pool) TerminateAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.slots)
	for _, s := range p.slots {
		p.terminateLocked(s)
	}
	return n
}

func (p *Pool) terminateLocked(s *Slot) {
	if s.State() == StateTerminated {
		return
	}
	s.state.Store(int32(StateTerminated))
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	for i, idle := range p.idle {
		if idle == s {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	delete(p.slots, s.ID)
	s.cancel()
	close(s.inbox)
}

// Live returns the number of non-terminated slots.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Live:       len(p.slots),
		Idle:       len(p.idle),
		MaxWorkers: p.maxWorkers,
		Created:    p.created,
		Evicted:    p.evicted,
	}
}
