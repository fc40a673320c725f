package main

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/tendant/simple-proxyprep/internal/metadata"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/session"
	"github.com/tendant/simple-proxyprep/internal/store"
)

type fakeRecords struct {
	mu   sync.Mutex
	recs map[string]store.Record
	puts int
}

func (f *fakeRecords) Put(_ context.Context, rec *store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recs == nil {
		f.recs = make(map[string]store.Record)
	}
	f.recs[rec.ID] = *rec
	f.puts++
	return nil
}

func (f *fakeRecords) snapshot() ([]store.Record, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Record, 0, len(f.recs))
	for _, r := range f.recs {
		out = append(out, r)
	}
	return out, f.puts
}

type fakeSession struct {
	mu    sync.Mutex
	prios map[string]processor.Priority
	errs  map[string]error
}

func (f *fakeSession) EnsureProcessed(_ context.Context, card session.Card, p processor.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prios == nil {
		f.prios = make(map[string]processor.Priority)
	}
	f.prios[card.ID] = p
	return f.errs[card.ID]
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			m.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, m); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsImageFile(t *testing.T) {
	tests := map[string]bool{
		"a.png":   true,
		"b.JPG":   true,
		"c.webp":  true,
		"d.txt":   false,
		"noext":   false,
		"e.tiff":  true,
		"f.png~":  false,
		"g.jpeg ": false,
	}
	for name, want := range tests {
		if got := isImageFile(name); got != want {
			t.Fatalf("isImageFile(%q) = %t, want %t", name, got, want)
		}
	}
}

func TestHasBuiltInBleed(t *testing.T) {
	if !hasBuiltInBleed("/cards/Island_bleed.png") || !hasBuiltInBleed("forest-BLEED.jpg") {
		t.Fatal("bleed suffix not detected")
	}
	if hasBuiltInBleed("bleeding-edge.png") {
		t.Fatal("unexpected bleed detection")
	}
}

func TestImportDirSharesKeysForIdenticalImages(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.White)
	writePNG(t, filepath.Join(dir, "b.png"), color.White)
	writePNG(t, filepath.Join(dir, "c_bleed.png"), color.Black)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	recs := &fakeRecords{}
	imp := &importer{store: recs, session: &fakeSession{}, logger: discardLogger()}
	cards, err := imp.importDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("importDir failed: %v", err)
	}
	if len(cards) != 3 {
		t.Fatalf("expected 3 cards, got %d", len(cards))
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Name < cards[j].Name })

	if cards[0].ImageID != cards[1].ImageID {
		t.Fatal("identical images must share a content key")
	}
	if cards[0].ImageID == cards[2].ImageID {
		t.Fatal("different images must not share a content key")
	}
	if !cards[2].HasBuiltInBleed || cards[0].HasBuiltInBleed {
		t.Fatal("bleed flag not derived from file name")
	}
	if len(recs.recs) != 2 {
		t.Fatalf("expected 2 stored records, got %d", len(recs.recs))
	}
	if rec := recs.recs[cards[2].ImageID]; len(rec.OriginalBlob) == 0 || !rec.IsUserUpload {
		t.Fatalf("record not populated: %+v", rec)
	}
}

func TestProcessAllPrioritizesVisibleCards(t *testing.T) {
	sess := &fakeSession{errs: map[string]error{
		"c2": processor.ErrCancelled,
		"c3": errors.New("boom"),
	}}
	imp := &importer{store: &fakeRecords{}, session: sess, visible: 2, logger: discardLogger()}

	cards := []session.Card{{ID: "c0"}, {ID: "c1"}, {ID: "c2"}, {ID: "c3"}}
	if failed := imp.processAll(context.Background(), cards); failed != 1 {
		t.Fatalf("expected 1 failure, got %d", failed)
	}

	want := map[string]processor.Priority{"c0": processor.High, "c1": processor.High, "c2": processor.Low, "c3": processor.Low}
	for id, p := range want {
		if sess.prios[id] != p {
			t.Fatalf("card %s priority %s, want %s", id, sess.prios[id], p)
		}
	}
}

func TestImportNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("fuzzy")
		if name == "Missing" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(metadata.Card{Name: name, ImageURL: "https://img/" + name + ".png", BorderBleed: name == "Forest"})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "deck.txt")
	if err := os.WriteFile(path, []byte("# deck\nIsland\n\nMissing\nForest\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	recs := &fakeRecords{}
	imp := &importer{store: recs, session: &fakeSession{}, logger: discardLogger()}
	cards, err := imp.importNames(context.Background(), metadata.NewClient(srv.URL, discardLogger()), path)
	if err != nil {
		t.Fatalf("importNames failed: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(cards))
	}
	if cards[0].Name != "Island" || cards[1].Name != "Forest" || !cards[1].HasBuiltInBleed {
		t.Fatalf("unexpected cards: %+v", cards)
	}
	if rec := recs.recs[cards[0].ImageID]; rec.SourceURL != "https://img/Island.png" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestWatchImportsFileOnceAfterWritesSettle(t *testing.T) {
	dir := t.TempDir()
	w, err := watchDir(dir)
	if err != nil {
		t.Fatalf("watch %s: %v", dir, err)
	}
	defer w.Close()

	recs := &fakeRecords{}
	imp := &importer{store: recs, session: &fakeSession{}, debounce: 200 * time.Millisecond, logger: discardLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		imp.watchEvents(ctx, w.Events, w.Errors)
	}()

	data := make([]byte, 5*1024)
	for i := range data {
		data[i] = byte(i % 251)
	}
	f, err := os.Create(filepath.Join(dir, "card.png"))
	if err != nil {
		t.Fatal(err)
	}
	chunk := len(data) / 5
	for i := 0; i < 5; i++ {
		if _, err := f.Write(data[i*chunk : (i+1)*chunk]); err != nil {
			t.Fatal(err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if got, _ := recs.snapshot(); len(got) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watched file never imported")
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(400 * time.Millisecond)

	got, puts := recs.snapshot()
	if len(got) != 1 || puts != 1 {
		t.Fatalf("expected exactly one import, got %d records from %d puts", len(got), puts)
	}
	if string(got[0].OriginalBlob) != string(data) {
		t.Fatalf("imported %d bytes, want the complete %d byte file", len(got[0].OriginalBlob), len(data))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop on cancel")
	}
}
