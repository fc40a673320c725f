// Package notify forwards import-session progress and toast commands to
// listeners outside the processing core.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-proxyprep/pkg/schema"
)

// Tracker receives per-card outcomes for aggregate progress reporting.
type Tracker interface {
	MarkCardProcessed(cardID string, wasCacheHit bool)
	MarkCardFailed(cardID string)
}

// Toasts is the transient notification sink.
type Toasts interface {
	ClearToasts()
}

// Publisher is satisfied by *bus.Client.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) MarkCardProcessed(string, bool) {}
func (Nop) MarkCardFailed(string)          {}
func (Nop) ClearToasts()                   {}

// Session tracks one import session and publishes its events under a subject prefix.
type Session struct {
	ID      uuid.UUID
	pub     Publisher
	subject string
	logger  *slog.Logger

	mu       sync.Mutex
	progress schema.ImportProgress
}

// NewSession starts an import session publishing to subject.* through pub.
// A nil pub only keeps the counters.
func NewSession(pub Publisher, subject string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	return &Session{
		ID:       id,
		pub:      pub,
		subject:  subject,
		logger:   logger,
		progress: schema.ImportProgress{SessionID: id.String()},
	}
}

// MarkCardProcessed implements Tracker.
func (s *Session) MarkCardProcessed(cardID string, wasCacheHit bool) {
	s.mu.Lock()
	s.progress.Processed++
	if wasCacheHit {
		s.progress.CacheHits++
	}
	s.mu.Unlock()

	s.publish(s.subject+".processed", schema.CardProcessed{
		SessionID:  s.ID.String(),
		CardID:     cardID,
		CacheHit:   wasCacheHit,
		HappenedAt: time.Now().Unix(),
	})
}

// MarkCardFailed implements Tracker.
func (s *Session) MarkCardFailed(cardID string) {
	s.mu.Lock()
	s.progress.Failed++
	s.mu.Unlock()

	s.publish(s.subject+".failed", schema.CardFailed{
		SessionID:  s.ID.String(),
		CardID:     cardID,
		HappenedAt: time.Now().Unix(),
	})
}

// ClearToasts implements Toasts.
func (s *Session) ClearToasts() {
	s.publish(s.subject+".toasts.clear", schema.ToastsCleared{
		SessionID:  s.ID.String(),
		HappenedAt: time.Now().Unix(),
	})
}

// Progress returns the current counters.
func (s *Session) Progress() schema.ImportProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.progress
	p.HappenedAt = time.Now().Unix()
	return p
}

// PublishProgress publishes the current counters.
func (s *Session) PublishProgress() {
	s.publish(s.subject+".progress", s.Progress())
}

func (s *Session) publish(subject string, v any) {
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.logger.Error("publish event failed", "subject", subject, "err", err)
	}
}
