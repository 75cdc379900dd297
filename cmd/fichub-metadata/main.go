package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"fichub_metadata/internal/app"
	"fichub_metadata/internal/config"
	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/storage/sqlite"
)

var version = "0.2.0"

type options struct {
	input       string
	inputDB     string
	updateDB    bool
	exportDB    bool
	migrateDB   bool
	migration   string
	outDir      string
	force       bool
	keepLedger  bool
	clearLedger bool
	debug       bool
	logFile     bool
	automated   bool
	index       bool
	interval    time.Duration
	configPath  string
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	var opts options
	exitCode := 0

	cmd := &cobra.Command{
		Use:   "fichub-metadata",
		Short: "Fetch fanfiction metadata from FicHub into a SQLite database",
		Long: `Fetch story metadata from the FicHub API and keep it in a local SQLite
database. Existing databases can be updated, exported as JSON or migrated
to the current schema.`,
		Example: `  fichub-metadata -i https://archiveofourown.org/works/123
  fichub-metadata -i urls.txt -o out
  fichub-metadata --input-db out/urls-2024-01-01T000000.sqlite --update-db
  fichub-metadata --input-db fics.sqlite --export-db
  fichub-metadata --input-db fics.sqlite --migrate-db --migration all`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := run(cmd.Context(), opts)
			exitCode = code
			return err
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "story URL or file with one URL per line")
	f.StringVar(&opts.inputDB, "input-db", "", "use an existing sqlite database")
	f.BoolVar(&opts.updateDB, "update-db", false, "re-fetch and update every record of --input-db")
	f.BoolVar(&opts.exportDB, "export-db", false, "export --input-db as json")
	f.BoolVar(&opts.migrateDB, "migrate-db", false, "migrate --input-db to the current schema")
	f.StringVar(&opts.migration, "migration", sqlite.MigrateAll, "migration to apply: "+sqlite.MigrationNames()+" or "+sqlite.MigrateAll)
	f.StringVarP(&opts.outDir, "out-dir", "o", "", "directory for new databases and exports")
	f.BoolVar(&opts.force, "force", false, "overwrite stored records and ignore the worklist ledger")
	f.BoolVar(&opts.keepLedger, "keep-ledger", false, "keep output.log after a batch in which every url succeeded")
	f.BoolVar(&opts.clearLedger, "clear-ledger", false, "delete output.log before running")
	f.BoolVarP(&opts.debug, "debug", "d", false, "log at debug level")
	f.BoolVar(&opts.logFile, "log", false, "also write logs to fichub_metadata.log")
	f.BoolVar(&opts.automated, "automated", false, "mark API requests as automated (testing)")
	f.BoolVar(&opts.index, "index", false, "treat --input URLs as index pages and fetch the stories they list")
	f.DurationVar(&opts.interval, "interval", 0, "with --update-db, repeat the update at this interval")
	f.StringVar(&opts.configPath, "config", config.DefaultPath(), "path to config file")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

func run(ctx context.Context, opts options) (int, error) {
	clearOnly := opts.clearLedger && opts.input == "" && opts.inputDB == ""
	if opts.input == "" && opts.inputDB == "" && !clearOnly {
		return 1, errors.New("nothing to do: pass --input or --input-db (see --help)")
	}
	needsDB := opts.updateDB || opts.exportDB || opts.migrateDB
	if needsDB && opts.inputDB == "" {
		return 1, errors.New("--update-db, --export-db and --migrate-db require --input-db")
	}

	logger := setupLogger("info", "json", os.Stdout)

	// Fetch and update format timestamps and cannot run without the config.
	formatsTimestamps := !opts.exportDB && !opts.migrateDB && !clearOnly
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if formatsTimestamps {
			return 1, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not loaded, using defaults", "path", opts.configPath, "error", err)
		cfg = config.Default()
	}

	cfg.API.Automated = cfg.API.Automated || opts.automated
	cfg.Sync.Force = cfg.Sync.Force || opts.force
	cfg.Sync.KeepLedger = cfg.Sync.KeepLedger || opts.keepLedger
	if opts.debug {
		cfg.LogLevel = "debug"
	}

	var out io.Writer = os.Stdout
	if opts.logFile {
		rotator := &lumberjack.Logger{
			Filename:   "fichub_metadata.log",
			MaxSize:    10,
			MaxBackups: 3,
		}
		defer rotator.Close()
		out = io.MultiWriter(os.Stdout, rotator)
	}
	logger = setupLogger(cfg.LogLevel, cfg.LogFormat, out)

	a := app.New(cfg, logger)

	if opts.clearLedger {
		if err := a.ClearLedger(); err != nil {
			return 1, err
		}
		if clearOnly {
			return 0, nil
		}
	}

	switch {
	case opts.migrateDB:
		_, err := a.Migrate(ctx, opts.inputDB, opts.migration)
		if err != nil {
			return 1, fmt.Errorf("migrate %s: %w", opts.inputDB, err)
		}
		return 0, nil

	case opts.exportDB:
		res, err := a.Export(ctx, opts.inputDB, opts.outDir)
		if err != nil {
			return 1, fmt.Errorf("export %s: %w", opts.inputDB, err)
		}
		logger.Info("exported", "path", res.Path, "rows", res.Rows)
		return 0, nil

	case opts.updateDB && opts.interval > 0:
		err := a.RunPeriodic(ctx, opts.inputDB, opts.interval)
		if err != nil && !errors.Is(err, context.Canceled) {
			return 1, err
		}
		return 0, nil

	case opts.updateDB:
		res, err := a.Update(ctx, opts.inputDB)
		return finish(logger, res, err)

	default:
		res, err := a.Fetch(ctx, app.FetchOptions{
			Input:   opts.input,
			InputDB: opts.inputDB,
			OutDir:  opts.outDir,
			Index:   opts.index,
		})
		return finish(logger, res, err)
	}
}

func finish(logger *slog.Logger, res *app.Result, err error) (int, error) {
	if err != nil {
		return 1, err
	}
	logStats(logger, res.DBPath, res.Stats)
	return res.Stats.ExitCode(), nil
}

func logStats(logger *slog.Logger, dbPath string, stats *domain.SyncStats) {
	logger.Info("done",
		"db", dbPath,
		"created", stats.Created,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"unsupported", stats.Unsupported,
		"duplicates", stats.Duplicates,
		"fetch_failed", stats.FetchFailed,
		"exit_code", stats.ExitCode(),
	)
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
