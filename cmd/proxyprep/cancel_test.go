package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tendant/simple-proxyprep/internal/cancellation"
	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/session"
	"github.com/tendant/simple-proxyprep/internal/settings"
	"github.com/tendant/simple-proxyprep/internal/store"
)

func TestCoordinatorCancelResetsSession(t *testing.T) {
	started := make(chan struct{}, 1)
	comp := img.ComputerFunc(func(ctx context.Context, m img.Message) (*img.Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	proc := processor.New(comp, processor.WithMaxWorkers(1), processor.WithLogger(discardLogger()))
	defer proc.Destroy()

	db, err := store.Open(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	sess := session.New(session.Deps{
		Scheduler: proc,
		Store:     db,
		Settings:  settings.NewStatic(settings.Default()),
		Logger:    discardLogger(),
	})
	coord := cancellation.New(sessionCanceller{sess}, nil, discardLogger())

	card := session.Card{ID: "c1", ImageID: "img", SourceURL: "https://img/island.png"}
	errs := make(chan error, 1)
	go func() { errs <- sess.EnsureProcessed(context.Background(), card, processor.Low) }()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("processing never started")
	}
	if got := sess.LoadingState("img"); got != session.StateLoading {
		t.Fatalf("state before cancel = %s, want loading", got)
	}

	coord.CancelAllProcessing()

	if got := sess.LoadingState("img"); got != session.StateIdle {
		t.Fatalf("state after cancel = %s, want idle", got)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, processor.ErrCancelled) {
			t.Fatalf("EnsureProcessed = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("caller never settled")
	}
}
