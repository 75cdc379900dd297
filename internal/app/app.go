// Package app wires configuration, storage and the metadata source into the
// top-level operations: fetch, update, export and migrate.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"

	"fichub_metadata/internal/config"
	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/export"
	"fichub_metadata/internal/ledger"
	"fichub_metadata/internal/publisher"
	"fichub_metadata/internal/scheduler"
	"fichub_metadata/internal/service"
	"fichub_metadata/internal/source/fichub"
	"fichub_metadata/internal/source/index"
	"fichub_metadata/internal/storage/sqlite"
)

// DefaultDBName is the database base name when the input is a single URL.
const DefaultDBName = "fichub_metadata"

var ErrNoInput = errors.New("no urls to process")

type App struct {
	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for database names and write stamps.
func (a *App) WithClock(now func() time.Time) *App {
	a.now = now
	return a
}

type FetchOptions struct {
	// Input is a story URL or the path of a file listing one URL per line.
	Input string
	// InputDB is an existing database to add to. Empty creates a new one
	// under OutDir.
	InputDB string
	OutDir  string
	// Index treats the input URLs as index pages to expand.
	Index bool
}

// Result is the outcome of a fetch or update batch.
type Result struct {
	DBPath string
	Stats  *domain.SyncStats
}

// Fetch stores metadata for every input URL.
func (a *App) Fetch(ctx context.Context, opts FetchOptions) (*Result, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	urls, base, err := readInput(opts.Input)
	if err != nil {
		return nil, err
	}
	if opts.Index {
		if urls, err = a.expandIndexes(ctx, urls); err != nil {
			return nil, err
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoInput
	}

	dbPath := opts.InputDB
	if dbPath == "" {
		dbPath = DBPath(opts.OutDir, base, a.now())
	}

	db, err := a.openForWrite(ctx, dbPath, sqlite.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	svc, closeSvc, err := a.syncService(db)
	if err != nil {
		return nil, err
	}
	defer closeSvc()

	stats, err := svc.SaveAll(ctx, urls)
	return &Result{DBPath: dbPath, Stats: stats}, err
}

// Update re-fetches every record of an existing database.
func (a *App) Update(ctx context.Context, dbPath string) (*Result, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := a.openForWrite(ctx, dbPath, sqlite.WithMustExist())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	svc, closeSvc, err := a.syncService(db)
	if err != nil {
		return nil, err
	}
	defer closeSvc()

	stats, err := svc.UpdateAll(ctx)
	return &Result{DBPath: dbPath, Stats: stats}, err
}

// RunPeriodic updates an existing database every interval until ctx is done.
func (a *App) RunPeriodic(ctx context.Context, dbPath string, interval time.Duration) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := a.openForWrite(ctx, dbPath, sqlite.WithMustExist())
	if err != nil {
		return err
	}
	defer db.Close()

	svc, closeSvc, err := a.syncService(db)
	if err != nil {
		return err
	}
	defer closeSvc()

	return scheduler.NewScheduler(svc, interval, 0, a.logger).Start(ctx)
}

// Export writes the database to "<name>.json" in outDir, or next to the
// database when outDir is empty.
func (a *App) Export(ctx context.Context, dbPath, outDir string) (*export.Result, error) {
	db, err := sqlite.Open(ctx, dbPath, sqlite.WithMustExist())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	store := sqlite.NewMetadataStore(db, a.cfg.DBTimeFormat)
	return export.NewExporter(store, a.logger).Export(ctx, export.TargetPath(dbPath, outDir))
}

// Migrate applies the selected schema migrations to an existing database.
func (a *App) Migrate(ctx context.Context, dbPath, selector string) ([]string, error) {
	// Resolve the selector before the file is opened so a typo changes nothing.
	if _, err := sqlite.SelectMigrations(selector); err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, dbPath, sqlite.WithMustExist())
	if err != nil {
		return nil, err
	}
	defer db.Close()

	applied, err := sqlite.NewMigrator(db, a.logger).Apply(ctx, selector)
	if err != nil {
		return applied, err
	}
	if len(applied) == 0 {
		a.logger.Info("schema already current", "db", dbPath)
	} else {
		a.logger.Info("migrations applied", "db", dbPath, "applied", applied)
	}
	return applied, nil
}

// ClearLedger removes the worklist ledger so the next batch processes every
// URL again.
func (a *App) ClearLedger() error {
	l := ledger.New(a.cfg.Ledger.Output)
	if err := l.Clear(); err != nil {
		return err
	}
	a.logger.Info("cleared ledger", "path", l.Path())
	return nil
}

// openForWrite opens dbPath, makes sure the table is current and backs up a
// pre-existing file before the batch changes it.
func (a *App) openForWrite(ctx context.Context, dbPath string, opts ...sqlite.Option) (*sqlite.DB, error) {
	db, err := sqlite.Open(ctx, dbPath, opts...)
	if err != nil {
		return nil, err
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		if errors.Is(err, sqlite.ErrSchemaOutdated) {
			return nil, fmt.Errorf("%w (use --migrate-db --input-db %s)", err, dbPath)
		}
		return nil, err
	}

	backup, err := db.Backup(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if backup != "" {
		a.logger.Info("created backup", "db", dbPath, "backup", backup)
	}

	a.logger.Info("using database", "db", dbPath, "existed", db.Existed())
	return db, nil
}

func (a *App) syncService(db *sqlite.DB) (*service.SyncService, func(), error) {
	source := fichub.New(fichub.Config{
		BaseURL:        a.cfg.API.BaseURL,
		UserAgent:      a.cfg.API.UserAgent,
		Timeout:        a.cfg.API.Timeout,
		Automated:      a.cfg.API.Automated,
		MaxAttempts:    a.cfg.API.Retry.MaxAttempts,
		InitialBackoff: a.cfg.API.Retry.InitialBackoff,
		MaxBackoff:     a.cfg.API.Retry.MaxBackoff,
		SupportedSites: a.cfg.SupportedSites,
		FicTimeFormat:  a.cfg.FicTimeFormat,
	}, a.logger)

	store := sqlite.NewMetadataStore(db, a.cfg.DBTimeFormat).WithClock(a.now)

	var pub service.Publisher
	closeFn := func() {}
	if a.cfg.RabbitMQ.Enabled() {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        a.cfg.RabbitMQ.URL,
			Exchange:   a.cfg.RabbitMQ.Exchange,
			RoutingKey: a.cfg.RabbitMQ.RoutingKey,
			QueueName:  a.cfg.RabbitMQ.QueueName,
		}, a.logger)
		if err != nil {
			return nil, nil, err
		}
		pub = rabbitMQ
		closeFn = func() {
			if err := rabbitMQ.Close(); err != nil {
				a.logger.Warn("failed to close rabbitmq", "error", err)
			}
		}
	}

	svc := service.NewSyncService(
		source,
		store,
		ledger.New(a.cfg.Ledger.Output),
		ledger.New(a.cfg.Ledger.Errors),
		pub,
		a.logger,
		a.cfg.Sync,
	)
	return svc, closeFn, nil
}

func (a *App) expandIndexes(ctx context.Context, pages []string) ([]string, error) {
	extractor := index.NewExtractor(a.cfg.API.UserAgent, a.cfg.API.Timeout, a.logger)

	var urls []string
	for _, page := range pages {
		found, err := extractor.StoryURLs(ctx, page)
		if err != nil {
			return nil, err
		}
		urls = append(urls, found...)
	}
	return ledger.Dedupe(urls), nil
}

// readInput returns the URLs named by input and the base name for a new
// database: the stem of the list file, or DefaultDBName for a single URL.
func readInput(input string) ([]string, string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, "", ErrNoInput
	}

	info, err := os.Stat(input)
	switch {
	case err == nil && !info.IsDir():
		urls, err := ledger.ReadURLs(input)
		if err != nil {
			return nil, "", err
		}
		base := filepath.Base(input)
		return urls, strings.TrimSuffix(base, filepath.Ext(base)), nil
	case err == nil:
		return nil, "", fmt.Errorf("input %s is a directory", input)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, "", fmt.Errorf("read input: %w", err)
	}

	if !strings.Contains(input, "://") {
		return nil, "", fmt.Errorf("input %q is neither a file nor a url", input)
	}
	return []string{input}, DefaultDBName, nil
}

// DBPath names a new database: "<outDir>/<base>-<timestamp>.sqlite".
func DBPath(outDir, base string, now time.Time) string {
	return filepath.Join(outDir, base+"-"+strftime.Format("%Y-%m-%dT%H%M%S", now)+".sqlite")
}
