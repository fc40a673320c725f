// cmd/proxyprep/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-proxyprep/internal/bus"
	"github.com/tendant/simple-proxyprep/internal/cancellation"
	"github.com/tendant/simple-proxyprep/internal/img"
	"github.com/tendant/simple-proxyprep/internal/metadata"
	"github.com/tendant/simple-proxyprep/internal/notify"
	"github.com/tendant/simple-proxyprep/internal/processor"
	"github.com/tendant/simple-proxyprep/internal/session"
	"github.com/tendant/simple-proxyprep/internal/settings"
	"github.com/tendant/simple-proxyprep/internal/store"
	"github.com/tendant/simple-proxyprep/internal/worker"
	"github.com/tendant/simple-proxyprep/pkg/schema"
)

type config struct {
	NATSURL         string
	Subject         string
	DatabasePath    string
	ImportDir       string
	SourceCacheDir  string
	MetadataAPIBase string
	MaxWorkersCap   int
	IdleTimeout     time.Duration
	Visible         int
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := LoadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}

	var (
		watch     bool
		namesFile string
	)
	flag.StringVar(&cfg.ImportDir, "dir", cfg.ImportDir, "Directory of card images to import")
	flag.IntVar(&cfg.Visible, "visible", cfg.Visible, "Number of leading cards processed at high priority")
	flag.BoolVar(&watch, "watch", false, "Keep running and process images added to the directory")
	flag.StringVar(&namesFile, "names", "", "File of card names to resolve through the metadata API")
	flag.Parse()

	prefs, err := settings.FromEnv()
	if err != nil {
		fatal(logger, "load settings", err)
	}
	prefsProvider := settings.NewStatic(prefs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw := worker.HardwareConcurrency(ctx)
	maxWorkers := worker.MaxWorkers(hw, cfg.MaxWorkersCap)
	logger.Info("proxyprep starting",
		"import_dir", cfg.ImportDir,
		"database", cfg.DatabasePath,
		"hardware_concurrency", hw,
		"max_workers", maxWorkers,
		"export_dpi", prefs.ExportDPI,
		"bleed_width", prefs.BleedWidth,
		"bleed_unit", prefs.Unit,
		"watch", watch,
	)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		fatal(logger, "open store", err, "database", cfg.DatabasePath)
	}
	defer db.Close()

	renderer := img.NewRenderer(img.NewFetcher(cfg.SourceCacheDir), logger)
	processor.SetSharedFactory(func() *processor.Processor {
		return processor.New(renderer,
			processor.WithMaxWorkers(maxWorkers),
			processor.WithIdleTimeout(cfg.IdleTimeout),
			processor.WithLogger(logger),
		)
	})
	defer processor.DestroyAll()
	proc := processor.Shared()

	var (
		nc  *bus.Client
		pub notify.Publisher
	)
	if cfg.NATSURL != "" {
		nc, err = bus.Connect(cfg.NATSURL)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		pub = nc
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL, "subject", cfg.Subject)
	}
	tracker := notify.NewSession(pub, cfg.Subject, logger)

	sess := session.New(session.Deps{
		Scheduler: proc,
		Store:     db,
		Settings:  prefsProvider,
		Tracker:   tracker,
		Logger:    logger,
	})
	coord := cancellation.New(sessionCanceller{sess}, tracker, logger)

	if nc != nil {
		_, err = bus.SubscribeJSON(nc, cfg.Subject+".cancel", func(_ context.Context, req schema.CancelRequested) {
			logger.Info("remote cancel requested", "reason", req.Reason)
			coord.CancelAllProcessing()
		})
		if err != nil {
			fatal(logger, "subscribe cancel", err, "subject", cfg.Subject+".cancel")
		}
	}

	exiting := make(chan struct{})
	defer close(exiting)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, cancelling all processing")
			coord.CancelAllProcessing()
		case <-exiting:
		}
	}()

	imp := &importer{
		store:   db,
		session: sess,
		visible: cfg.Visible,
		logger:  logger,
	}

	var cards []session.Card
	if cfg.ImportDir != "" {
		dirCards, err := imp.importDir(ctx, cfg.ImportDir)
		if err != nil {
			fatal(logger, "import directory", err, "dir", cfg.ImportDir)
		}
		cards = append(cards, dirCards...)
	}
	if namesFile != "" {
		if cfg.MetadataAPIBase == "" {
			fatal(logger, "resolve names", fmt.Errorf("METADATA_API_BASE is not set"))
		}
		client := metadata.NewClient(cfg.MetadataAPIBase, logger)
		nameCards, err := imp.importNames(coord.Token(), client, namesFile)
		if err != nil && !cancellation.Aborted(coord.Token()) {
			logger.Error("resolve names", "err", err, "names_file", namesFile)
		}
		cards = append(cards, nameCards...)
	}

	failed := imp.processAll(ctx, cards)
	tracker.PublishProgress()
	progress := tracker.Progress()
	logger.Info("import complete",
		"session_id", progress.SessionID,
		"cards", len(cards),
		"processed", progress.Processed,
		"cache_hits", progress.CacheHits,
		"failed", progress.Failed,
	)

	if watch && ctx.Err() == nil {
		if cfg.ImportDir == "" {
			fatal(logger, "watch", fmt.Errorf("-watch requires -dir or IMPORT_DIR"))
		}
		logger.Info("watching for new images", "dir", cfg.ImportDir)
		if err := imp.watch(ctx, cfg.ImportDir); err != nil {
			fatal(logger, "watch directory", err, "dir", cfg.ImportDir)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// sessionCanceller routes a cancel through the session so its bookkeeping is
// reset along with the scheduler.
type sessionCanceller struct {
	session *session.Session
}

func (c sessionCanceller) CancelAll() int { return c.session.CancelProcessing() }

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}

func LoadConfig() (config, error) {
	cfg := config{
		NATSURL:         getenv("NATS_URL", ""),
		Subject:         getenv("PROXYPREP_SUBJECT", "proxyprep.import"),
		DatabasePath:    getenv("DATABASE_PATH", "./data/proxyprep.db"),
		ImportDir:       getenv("IMPORT_DIR", ""),
		SourceCacheDir:  getenv("SOURCE_CACHE_DIR", "./data/cache"),
		MetadataAPIBase: getenv("METADATA_API_BASE", ""),
	}

	maxCap, err := parsePositiveInt(getenv("MAX_WORKERS_CAP", strconv.Itoa(worker.DefaultCap)), "MAX_WORKERS_CAP")
	if err != nil {
		return config{}, err
	}
	cfg.MaxWorkersCap = maxCap

	idle, err := time.ParseDuration(getenv("WORKER_IDLE_TIMEOUT", worker.DefaultIdleTimeout.String()))
	if err != nil {
		return config{}, fmt.Errorf("invalid WORKER_IDLE_TIMEOUT: %w", err)
	}
	if idle <= 0 {
		return config{}, fmt.Errorf("WORKER_IDLE_TIMEOUT must be greater than zero (got %s)", idle)
	}
	cfg.IdleTimeout = idle

	visible, err := parsePositiveInt(getenv("VISIBLE_CARDS", "9"), "VISIBLE_CARDS")
	if err != nil {
		return config{}, err
	}
	cfg.Visible = visible

	return cfg, nil
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
