// cmd/reprocess/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/session"
	"github.com/tendant/simple-proxyprep/internal/settings"
	"github.com/tendant/simple-proxyprep/internal/store"
	"github.com/tendant/simple-proxyprep/internal/worker"
)

type config struct {
	DatabasePath   string
	SourceCacheDir string
	MaxWorkersCap  int
	BleedWidth     float64
	Limit          int
	DryRun         bool
	OnlyStale      bool
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()
	prefs, err := settings.FromEnv()
	if err != nil {
		fatal(logger, "load settings", err)
	}
	logger.Info("reprocess starting",
		"database", cfg.DatabasePath,
		"bleed_width", cfg.BleedWidth,
		"limit", cfg.Limit,
		"dry_run", cfg.DryRun,
		"only_stale", cfg.OnlyStale,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "open store", err, "database", cfg.DatabasePath)
	}
	defer db.Close()

	recs, err := db.List(ctx, cfg.Limit)
	if err != nil {
		fatal(logger, "list records", err)
	}

	target := prefs
	if cfg.BleedWidth > 0 {
		target.BleedWidth = cfg.BleedWidth
	}
	cards := selectCards(recs, target, cfg.OnlyStale)
	logger.Info("records selected", "total", len(recs), "selected", len(cards))

	if cfg.DryRun {
		for _, c := range cards {
			logger.Info("would reprocess", "content_key", c.ImageID, "name", c.Name)
		}
		logger.Info("reprocess complete", "selected", len(cards), "dry_run", true)
		return
	}

	hw := worker.HardwareConcurrency(ctx)
	proc := processor.New(img.NewRenderer(img.NewFetcher(cfg.SourceCacheDir), logger),
		processor.WithMaxWorkers(worker.MaxWorkers(hw, cfg.MaxWorkersCap)),
		processor.WithLogger(logger),
	)
	defer proc.Destroy()

	sess := session.New(session.Deps{
		Scheduler: proc,
		Store:     db,
		Settings:  settings.NewStatic(prefs),
		Logger:    logger,
	})

	go func() {
		<-ctx.Done()
		sess.CancelProcessing()
	}()

	failed := failedKeys(sess.ReprocessSelected(ctx, cards, cfg.BleedWidth))
	logger.Info("reprocess complete", "selected", len(cards), "failed", len(failed), "interrupted", ctx.Err() != nil)
	if len(failed) > 0 {
		logger.Error("some records failed", "failed_ids", failed)
		os.Exit(1)
	}
}

// failedKeys lists the content keys whose reprocessing failed. Interrupted
// runs, including ones abandoned on shutdown, are not failures.
func failedKeys(outs []session.Outcome) []string {
	var failed []string
	for _, out := range outs {
		if out.Err == nil || processor.IsInterruption(out.Err) || errors.Is(out.Err, context.Canceled) {
			continue
		}
		failed = append(failed, out.Card.ImageID)
	}
	return failed
}

// selectCards turns records into reprocessing inputs. With onlyStale, records
// already generated under target are skipped.
func selectCards(recs []store.Record, target settings.Settings, onlyStale bool) []session.Card {
	cards := make([]session.Card, 0, len(recs))
	for _, r := range recs {
		if onlyStale && r.Generated() {
			fp := target.FingerprintFor(r.HasBuiltInBleed)
			if r.GeneratedBleedMode == string(fp.BleedMode) &&
				r.GeneratedHasBuiltInBleed == fp.HasBuiltInBleed &&
				r.ExportBleedWidth == fp.BleedWidth {
				continue
			}
		}
		cards = append(cards, session.Card{
			ID:              r.ID,
			ImageID:         r.ID,
			Name:            r.Name,
			SourceURL:       r.SourceURL,
			HasBuiltInBleed: r.HasBuiltInBleed,
			IsUserUpload:    r.IsUserUpload,
		})
	}
	return cards
}

func loadConfig() config {
	cfg := config{
		DatabasePath:   getenv("DATABASE_PATH", "./data/proxyprep.db"),
		SourceCacheDir: getenv("SOURCE_CACHE_DIR", "./data/cache"),
		MaxWorkersCap:  worker.DefaultCap,
		DryRun:         true, // Default to dry-run for safety
		OnlyStale:      true,
	}
	if v, err := strconv.Atoi(getenv("MAX_WORKERS_CAP", "")); err == nil && v > 0 {
		cfg.MaxWorkersCap = v
	}

	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database with image records")
	flag.Float64Var(&cfg.BleedWidth, "bleed", 0, "Bleed width in BLEED_UNIT to regenerate with (0 = configured width)")
	flag.IntVar(&cfg.Limit, "limit", 0, "Maximum number of records to consider (0 = unlimited)")
	flag.BoolVar(&cfg.DryRun, "dry-run", true, "Show what would be reprocessed without rendering")
	flag.BoolVar(&cfg.OnlyStale, "only-stale", true, "Only reprocess records generated with other settings (false = regenerate all)")

	var execute bool
	flag.BoolVar(&execute, "execute", false, "Actually reprocess (disables dry-run)")
	flag.Parse()

	if execute {
		cfg.DryRun = false
	}

	return cfg
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
