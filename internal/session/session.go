// Package session deduplicates processing requests for card images within one
// application session and persists what the processor produces.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/notify"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/settings"
	"github.com/tendant/simple-proxyprep/internal/store"
)

// BuiltinPlaceholderKey identifies the bundled cardback, which never needs processing.
const BuiltinPlaceholderKey = "builtin:cardback"

// State is the loading state of one content key.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Scheduler is the subset of *processor.Processor the session drives.
type Scheduler interface {
	Process(msg img.Message, priority processor.Priority) *processor.Future
	PromoteToHighPriority(key string) bool
	CancelAll() int
}

// Card is the card-like input of EnsureProcessed.
type Card struct {
	// ID identifies the card for progress reporting.
	ID string
	// ImageID is the content key shared by every card using the same image.
	ImageID         string
	Name            string
	SourceURL       string
	HasBuiltInBleed bool
	IsUserUpload    bool
}

// Deps are the collaborators of a Session.
type Deps struct {
	Scheduler Scheduler
	Store     store.Store
	Settings  settings.Provider
	Tracker   notify.Tracker
	Logger    *slog.Logger
}

// call is one outstanding processing run for a content key.
type call struct {
	done      chan struct{}
	err       error
	priority  processor.Priority
	submitted bool
	// fp is the fingerprint the run generates under.
	fp settings.Fingerprint
	// fresh runs skip the stored-variant check.
	fresh bool
}

// Session owns the per-key dedup bookkeeping. One Session should serve the
// whole application so that the dedup holds across consumers.
type Session struct {
	sched    Scheduler
	store    store.Store
	settings settings.Provider
	tracker  notify.Tracker
	logger   *slog.Logger

	mu        sync.Mutex
	processed map[string]settings.Fingerprint
	inflight  map[string]*call
	states    map[string]State
	// epoch changes on CancelProcessing; runs started before it do not
	// write bookkeeping or submit work after it.
	epoch uint64
}

// New creates a session.
func New(deps Deps) *Session {
	if deps.Tracker == nil {
		deps.Tracker = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		sched:     deps.Scheduler,
		store:     deps.Store,
		settings:  deps.Settings,
		tracker:   deps.Tracker,
		logger:    deps.Logger,
		processed: make(map[string]settings.Fingerprint),
		inflight:  make(map[string]*call),
		states:    make(map[string]State),
	}
}

// EnsureProcessed makes sure the generated variants for card are current,
// submitting at most one processing run per content key at a time. Concurrent
// callers for the same key share the outcome of that run.
//
// Cancellation and promotion interruptions are returned as-is (see
// processor.IsInterruption) and leave the key idle. ctx bounds the wait only;
// the underlying run continues for other waiters.
func (s *Session) EnsureProcessed(ctx context.Context, card Card, priority processor.Priority) error {
	key := card.ImageID
	if key == "" {
		return nil
	}

	if key == BuiltinPlaceholderKey {
		s.mu.Lock()
		s.processed[key] = settings.Fingerprint{}
		s.mu.Unlock()
		return nil
	}

	snap := s.settings.Snapshot()
	if !snap.Hydrated {
		return ErrNotReady
	}
	expected := snap.FingerprintFor(card.HasBuiltInBleed)

	for {
		s.mu.Lock()
		if fp, ok := s.processed[key]; ok && fp == expected {
			s.mu.Unlock()
			return nil
		}

		c, ok := s.inflight[key]
		if ok && c.fp != expected {
			// a reprocess at another width owns the key; check again once it lands
			s.mu.Unlock()
			select {
			case <-c.done:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if ok {
			if priority == processor.High && c.priority != processor.High {
				c.priority = processor.High
				if c.submitted {
					s.sched.PromoteToHighPriority(key)
				}
			}
			s.mu.Unlock()
			return wait(ctx, c)
		}

		c = &call{done: make(chan struct{}), priority: priority, fp: expected}
		s.inflight[key] = c
		s.states[key] = StateLoading
		epoch := s.epoch
		s.mu.Unlock()

		go s.run(context.WithoutCancel(ctx), card, snap, c, epoch)
		return wait(ctx, c)
	}
}

func wait(ctx context.Context, c *call) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run(ctx context.Context, card Card, snap settings.Settings, c *call, epoch uint64) {
	key := card.ImageID
	expected := c.fp
	logger := s.logger.With("content_key", key, "card_id", card.ID, "card_name", card.Name, "reprocess", c.fresh)

	rec, err := s.store.Get(ctx, key)
	if err != nil {
		s.finish(logger, card, c, epoch, nil, false, err)
		return
	}
	if !c.fresh && cacheValid(rec, expected) {
		logger.Debug("stored variants current")
		s.finish(logger, card, c, epoch, &expected, true, nil)
		return
	}

	msg, err := buildMessage(card, rec, snap)
	if err != nil {
		s.finish(logger, card, c, epoch, nil, false, err)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.finish(logger, card, c, epoch, nil, false, processor.ErrCancelled)
		return
	}
	c.submitted = true
	fut := s.sched.Process(msg, c.priority)
	s.mu.Unlock()

	res, err := s.await(ctx, key, fut, expected)
	if err != nil {
		s.finish(logger, card, c, epoch, nil, false, err)
		return
	}
	s.finish(logger, card, c, epoch, &expected, res.ImageCacheHit, nil)
}

// await waits for fut and persists its result under the fingerprint it was generated for.
func (s *Session) await(ctx context.Context, key string, fut *processor.Future, fp settings.Fingerprint) (*img.Result, error) {
	res, err := fut.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if res.Failed() {
		return nil, &LogicalError{Key: key, Msg: res.Error}
	}

	err = s.store.SaveGenerated(ctx, key, store.Generated{
		DisplayBlob:              res.DisplayBlob,
		DisplayBlobDarkened:      res.DisplayBlobDarkened,
		ExportBlob:               res.ExportBlob,
		ExportBlobDarkened:       res.ExportBlobDarkened,
		DisplayDPI:               res.DisplayDPI,
		ExportDPI:                res.ExportDPI,
		DisplayBleedWidth:        res.DisplayBleedWidth,
		ExportBleedWidth:         res.ExportBleedWidth,
		GeneratedHasBuiltInBleed: fp.HasBuiltInBleed,
		GeneratedBleedMode:       string(fp.BleedMode),
	})
	if err != nil {
		return nil, fmt.Errorf("persist %s: %w", key, err)
	}
	return res, nil
}

// finish records the outcome and then settles c. fp is the fingerprint the
// variants were persisted under, nil on failure. Only the run that still owns
// the key touches its bookkeeping.
func (s *Session) finish(logger *slog.Logger, card Card, c *call, epoch uint64, fp *settings.Fingerprint, cacheHit bool, err error) {
	key := card.ImageID
	failed := err != nil && !processor.IsInterruption(err)

	var current settings.Fingerprint
	if fp != nil {
		current = s.settings.Snapshot().FingerprintFor(card.HasBuiltInBleed)
	}

	s.mu.Lock()
	if s.inflight[key] == c && s.epoch == epoch {
		delete(s.inflight, key)
		switch {
		case fp != nil && *fp == current:
			s.processed[key] = *fp
			delete(s.states, key)
		case fp != nil:
			// variants at a non-configured width never satisfy the fast path
			delete(s.processed, key)
			delete(s.states, key)
		case failed:
			s.states[key] = StateError
		default:
			delete(s.states, key)
		}
	}
	s.mu.Unlock()

	switch {
	case fp != nil:
		s.tracker.MarkCardProcessed(card.ID, cacheHit)
	case failed:
		logger.Error("processing failed", "err", err, "failure_type", Classify(err))
		s.tracker.MarkCardFailed(card.ID)
	default:
		logger.Debug("processing interrupted", "err", err)
	}

	c.err = err
	close(c.done)
}

// LoadingState returns the loading state of key. Unknown keys are idle.
func (s *Session) LoadingState(key string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[key]
}

// Invalidate forgets that key was processed so the next EnsureProcessed
// re-checks the store.
func (s *Session) Invalidate(key string) {
	s.mu.Lock()
	delete(s.processed, key)
	s.mu.Unlock()
}

// CancelProcessing drops all in-flight and loading bookkeeping and cancels
// every task in the scheduler. It returns the number of cancelled tasks.
func (s *Session) CancelProcessing() int {
	s.mu.Lock()
	s.epoch++
	s.inflight = make(map[string]*call)
	s.states = make(map[string]State)
	n := s.sched.CancelAll()
	s.mu.Unlock()

	s.logger.Info("processing cancelled", "tasks", n)
	return n
}

// Outcome is the per-card result of ReprocessSelected.
type Outcome struct {
	Card Card
	Err  error
}

// ReprocessSelected regenerates every card at high priority with the given
// bleed width, ignoring the session dedup cache and the stored variants. A
// bleedWidth <= 0 keeps the configured width. Failures are isolated per card.
// Like EnsureProcessed, ctx bounds the wait only: runs already started still
// persist their result.
func (s *Session) ReprocessSelected(ctx context.Context, cards []Card, bleedWidth float64) []Outcome {
	snap := s.settings.Snapshot()
	if bleedWidth > 0 {
		snap.BleedWidth = bleedWidth
	}

	out := make([]Outcome, len(cards))
	if !snap.Hydrated {
		for i, card := range cards {
			out[i] = Outcome{Card: card, Err: ErrNotReady}
		}
		return out
	}
	var g errgroup.Group
	for i, card := range cards {
		out[i].Card = card
		g.Go(func() error {
			out[i].Err = s.reprocess(ctx, card, snap)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// reprocess takes over the key from any run in flight and starts a fresh one.
func (s *Session) reprocess(ctx context.Context, card Card, snap settings.Settings) error {
	key := card.ImageID
	if key == "" || key == BuiltinPlaceholderKey {
		return nil
	}

	c := &call{
		done:     make(chan struct{}),
		priority: processor.High,
		fp:       snap.FingerprintFor(card.HasBuiltInBleed),
		fresh:    true,
	}
	s.mu.Lock()
	delete(s.processed, key)
	s.inflight[key] = c
	s.states[key] = StateLoading
	epoch := s.epoch
	s.mu.Unlock()

	go s.run(context.WithoutCancel(ctx), card, snap, c, epoch)
	return wait(ctx, c)
}

// cacheValid reports whether rec carries variants generated under fp.
func cacheValid(rec *store.Record, fp settings.Fingerprint) bool {
	if !rec.Generated() {
		return false
	}
	return rec.GeneratedHasBuiltInBleed == fp.HasBuiltInBleed &&
		rec.GeneratedBleedMode == string(fp.BleedMode) &&
		math.Abs(rec.ExportBleedWidth-fp.BleedWidth) < 1e-6
}

// buildMessage resolves the source for card, preferring stored original bytes
// over the stored URL over the card's own URL.
func buildMessage(card Card, rec *store.Record, snap settings.Settings) (img.Message, error) {
	hasBuiltIn, isUpload := card.HasBuiltInBleed, card.IsUserUpload
	msg := img.Message{ContentKey: card.ImageID, URL: card.SourceURL}
	if rec != nil {
		if len(rec.OriginalBlob) > 0 {
			msg.Source = rec.OriginalBlob
		}
		if rec.SourceURL != "" {
			msg.URL = rec.SourceURL
		}
		isUpload = isUpload || rec.IsUserUpload
	}
	if len(msg.Source) == 0 && msg.URL == "" {
		return img.Message{}, &LogicalError{Key: card.ImageID, Msg: "no source image"}
	}

	msg.BleedEdgeWidth = snap.BleedWidth
	msg.Unit = snap.Unit
	msg.APIBase = snap.APIBase
	msg.IsUserUpload = isUpload
	msg.HasBuiltInBleed = hasBuiltIn
	msg.BleedMode = snap.BleedModeFor(hasBuiltIn)
	if hasBuiltIn {
		msg.ExistingBleedMM = snap.BuiltInBleedMM
	}
	msg.DPI = snap.ExportDPI
	msg.DisplayDPI = snap.DisplayDPI
	msg.DarkenNearBlack = snap.DarkenNearBlack
	return msg, nil
}
