package notify

import (
	"errors"
	"sync"
	"testing"

	"github.com/tendant/simple-proxyprep/pkg/schema"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []any
	err      error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.events = append(f.events, v)
	return f.err
}

func TestSessionPublishesAndCounts(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSession(pub, "proxyprep.import", nil)

	s.MarkCardProcessed("a", true)
	s.MarkCardProcessed("b", false)
	s.MarkCardFailed("c")
	s.ClearToasts()

	want := []string{
		"proxyprep.import.processed",
		"proxyprep.import.processed",
		"proxyprep.import.failed",
		"proxyprep.import.toasts.clear",
	}
	if len(pub.subjects) != len(want) {
		t.Fatalf("published %v, want %v", pub.subjects, want)
	}
	for i := range want {
		if pub.subjects[i] != want[i] {
			t.Fatalf("published %v, want %v", pub.subjects, want)
		}
	}

	evt, ok := pub.events[0].(schema.CardProcessed)
	if !ok || evt.CardID != "a" || !evt.CacheHit || evt.SessionID != s.ID.String() {
		t.Fatalf("unexpected first event: %#v", pub.events[0])
	}

	p := s.Progress()
	if p.Processed != 2 || p.CacheHits != 1 || p.Failed != 1 {
		t.Fatalf("unexpected progress: %+v", p)
	}
}

func TestSessionSurvivesPublishErrors(t *testing.T) {
	s := NewSession(&fakePublisher{err: errors.New("disconnected")}, "x", nil)
	s.MarkCardFailed("a")
	s.PublishProgress()

	if s.Progress().Failed != 1 {
		t.Fatal("counter not updated when publish fails")
	}
}

func TestSessionWithoutPublisher(t *testing.T) {
	s := NewSession(nil, "x", nil)
	s.MarkCardProcessed("a", false)
	s.ClearToasts()
	if s.Progress().Processed != 1 {
		t.Fatal("counter not updated without publisher")
	}
}
