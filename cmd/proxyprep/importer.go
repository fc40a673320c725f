package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/tendant/simple-proxyprep/internal/metadata"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/session"
	"github.com/tendant/simple-proxyprep/internal/store"
)

// contentNamespace scopes the name-based UUIDs used as content keys.
var contentNamespace = uuid.MustParse("7d1c9a52-3f0e-4b8e-9a57-2c1f6e0b4d31")

type recordWriter interface {
	Put(ctx context.Context, rec *store.Record) error
}

type processorSession interface {
	EnsureProcessed(ctx context.Context, card session.Card, priority processor.Priority) error
}

type importer struct {
	store   recordWriter
	session processorSession
	visible int
	// debounce overrides watchDebounce when positive.
	debounce time.Duration
	logger   *slog.Logger
}

// contentKey derives the content key from the image bytes, so identical
// images imported under different names share one key.
func contentKey(data []byte) string {
	return uuid.NewSHA1(contentNamespace, data).String()
}

func isImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// hasBuiltInBleed reports whether a file name marks its image as carrying bleed.
func hasBuiltInBleed(path string) bool {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	return strings.HasSuffix(name, "_bleed") || strings.HasSuffix(name, "-bleed")
}

func (imp *importer) importFile(ctx context.Context, path string) (session.Card, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Card{}, fmt.Errorf("read %s: %w", path, err)
	}
	key := contentKey(data)
	name := filepath.Base(path)
	rec := &store.Record{
		ID:              key,
		Name:            name,
		OriginalBlob:    data,
		HasBuiltInBleed: hasBuiltInBleed(path),
		IsUserUpload:    true,
	}
	if err := imp.store.Put(ctx, rec); err != nil {
		return session.Card{}, err
	}
	return session.Card{
		ID:              path,
		ImageID:         key,
		Name:            name,
		HasBuiltInBleed: rec.HasBuiltInBleed,
		IsUserUpload:    true,
	}, nil
}

func (imp *importer) importDir(ctx context.Context, dir string) ([]session.Card, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var cards []session.Card
	for _, e := range entries {
		if e.IsDir() || !isImageFile(e.Name()) {
			continue
		}
		card, err := imp.importFile(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			imp.logger.Warn("skipping file", "path", e.Name(), "err", err)
			continue
		}
		cards = append(cards, card)
	}
	imp.logger.Info("imported directory", "dir", dir, "cards", len(cards))
	return cards, nil
}

// importNames resolves every name in path (one per line, # for comments)
// through client and stores a record pointing at the card's image URL.
func (imp *importer) importNames(ctx context.Context, client *metadata.Client, path string) ([]session.Card, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	results, lookupErr := client.LookupAll(ctx, names)
	var cards []session.Card
	for i, r := range results {
		if r.Err != nil {
			imp.logger.Warn("card lookup failed", "name", r.Name, "err", r.Err)
			continue
		}
		if r.Card.ImageURL == "" {
			imp.logger.Warn("card has no image", "name", r.Name)
			continue
		}
		key := uuid.NewSHA1(contentNamespace, []byte(r.Card.ImageURL)).String()
		rec := &store.Record{
			ID:              key,
			Name:            r.Card.Name,
			SourceURL:       r.Card.ImageURL,
			HasBuiltInBleed: r.Card.BorderBleed,
		}
		if err := imp.store.Put(ctx, rec); err != nil {
			return cards, err
		}
		cards = append(cards, session.Card{
			ID:              fmt.Sprintf("%s#%d", path, i+1),
			ImageID:         key,
			Name:            r.Card.Name,
			SourceURL:       r.Card.ImageURL,
			HasBuiltInBleed: r.Card.BorderBleed,
		})
	}
	return cards, lookupErr
}

// processAll ensures every card concurrently, the first visible cards at high
// priority, and returns the number of genuine failures.
func (imp *importer) processAll(ctx context.Context, cards []session.Card) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i, card := range cards {
		priority := processor.Low
		if i < imp.visible {
			priority = processor.High
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := imp.ensure(ctx, card, priority); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return failed
}

// ensure runs EnsureProcessed and swallows interruptions.
func (imp *importer) ensure(ctx context.Context, card session.Card, priority processor.Priority) error {
	err := imp.session.EnsureProcessed(ctx, card, priority)
	switch {
	case err == nil:
		return nil
	case processor.IsInterruption(err), errors.Is(err, context.Canceled):
		return nil
	default:
		imp.logger.Warn("card not processed", "card", card.Name, "content_key", card.ImageID, "err", err)
		return err
	}
}

// watchDebounce is how long a watched file must stay unchanged before it is
// imported, so a file still being written is read once, complete.
const watchDebounce = 500 * time.Millisecond

// watch processes images created in dir until ctx is done.
func (imp *importer) watch(ctx context.Context, dir string) error {
	w, err := watchDir(dir)
	if err != nil {
		return err
	}
	defer w.Close()

	imp.watchEvents(ctx, w.Events, w.Errors)
	return nil
}

func watchDir(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// watchEvents collects create and write events per path and imports a path
// once it has been quiet for the debounce interval.
func (imp *importer) watchEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	quiet := imp.debounce
	if quiet <= 0 {
		quiet = watchDebounce
	}
	ticker := time.NewTicker(quiet / 4)
	defer ticker.Stop()

	pending := make(map[string]time.Time) // path -> last change
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			imp.logger.Warn("watch error", "err", err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isImageFile(ev.Name) {
				continue
			}
			pending[ev.Name] = time.Now()
		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < quiet {
					continue
				}
				delete(pending, path)
				go imp.importWatched(ctx, path)
			}
		}
	}
}

func (imp *importer) importWatched(ctx context.Context, path string) {
	card, err := imp.importFile(ctx, path)
	if err != nil {
		imp.logger.Warn("import failed", "path", path, "err", err)
		return
	}
	if err := imp.ensure(ctx, card, processor.High); err == nil {
		imp.logger.Info("processed new image", "path", path, "content_key", card.ImageID)
	}
}
