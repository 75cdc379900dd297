// Package sqlite stores story metadata in a single SQLite file.
//
// The database holds one denormalized table, fichub_metadata, keyed in
// practice by the story source URL. Uniqueness of source is enforced by the
// store, not by a constraint, because legacy files may already contain
// duplicates.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverName = "sqlite"

	TableName     = "fichub_metadata"
	tempTableName = "TempFichubMetadata"
	sourceIndex   = "ix_fichub_metadata_source"
)

var (
	ErrStoreNotFound  = errors.New("store not found or unreadable")
	ErrSchemaOutdated = errors.New("schema outdated, run the migration")
	// ErrUnreadableRow marks a row whose values do not fit the current
	// types, e.g. a NULL title left by an older tool.
	ErrUnreadableRow  = errors.New("unreadable row")
)

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

// Column is a table column as reported by pragma_table_info.
type Column struct {
	Name string `db:"name"`
	Type string `db:"type"`
}

// CurrentColumns is the column set of the newest schema revision.
var CurrentColumns = []Column{
	{"id", "INTEGER NOT NULL"},
	{"fichub_id", "VARCHAR(255)"},
	{"title", "VARCHAR(255)"},
	{"author", "VARCHAR(255)"},
	{"author_id", "VARCHAR(255)"},
	{"author_url", "VARCHAR(255)"},
	{"chapters", "INTEGER"},
	{"created", "VARCHAR(255)"},
	{"description", "VARCHAR(255)"},
	{"rated", "VARCHAR(255)"},
	{"language", "VARCHAR(255)"},
	{"genre", "VARCHAR(255)"},
	{"characters", "VARCHAR(255)"},
	{"reviews", "INTEGER"},
	{"favorites", "INTEGER"},
	{"follows", "INTEGER"},
	{"status", "VARCHAR(255)"},
	{"words", "INTEGER"},
	{"fandom", "VARCHAR(255)"},
	{"fic_last_updated", "VARCHAR(255)"},
	{"db_last_updated", "VARCHAR(255)"},
	{"source", "VARCHAR(255)"},
}

// DB is an open metadata database file.
type DB struct {
	*sqlx.DB
	path    string
	existed bool
}

type config struct {
	mustExist   bool
	mkdirAll    bool
	busyTimeout int
}

// Option customises Open.
type Option func(*config)

// WithMustExist fails with ErrStoreNotFound instead of creating the file.
func WithMustExist() Option { return func(c *config) { c.mustExist = true } }

// WithMkdirAll creates parent directories of the database path.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 5000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// Open opens or creates the database at path. The returned DB uses a single
// connection; callers must Close it.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	cfg := config{busyTimeout: 5000}
	for _, o := range opts {
		o(&cfg)
	}

	existed := true
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		existed = false
	case err != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, path, err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s is a directory", ErrStoreNotFound, path)
	}

	if !existed && cfg.mustExist {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
	}

	if !existed && cfg.mkdirAll {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, path, err)
	}

	// Reading the schema catches files that are not SQLite databases.
	var n int
	if err := db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sqlite_master"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, path, err)
	}

	return &DB{DB: db, path: path, existed: existed}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Existed reports whether the file was present before Open.
func (db *DB) Existed() bool {
	return db.existed
}

// EnsureSchema creates the metadata table if it is absent. An existing table
// that lacks current columns yields ErrSchemaOutdated.
func (db *DB) EnsureSchema(ctx context.Context) error {
	exists, err := db.tableExists(ctx, TableName)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := db.ExecContext(ctx, createTableSQL(TableName, CurrentColumns)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		if _, err := db.ExecContext(ctx, createIndexSQL); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		return nil
	}

	missing, err := missingColumns(ctx, db.DB)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %s", ErrSchemaOutdated, db.path, strings.Join(missing, ", "))
	}
	return nil
}

// missingColumns lists the current columns the metadata table lacks.
func missingColumns(ctx context.Context, q sqlx.QueryerContext) ([]string, error) {
	cols, err := tableColumns(ctx, q, TableName)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, c := range CurrentColumns {
		if !have[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	return missing, nil
}

func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	return tableExists(ctx, db.DB, name)
}

func tableExists(ctx context.Context, q sqlx.QueryerContext, name string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", name, err)
	}
	return n > 0, nil
}

func tableColumns(ctx context.Context, q sqlx.QueryerContext, table string) ([]Column, error) {
	var cols []Column
	query := fmt.Sprintf("SELECT name, type FROM pragma_table_info(%s) ORDER BY cid", quoteString(table))
	if err := sqlx.SelectContext(ctx, q, &cols, query); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	return cols, nil
}

func createTableSQL(table string, cols []Column) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(quoteIdent(table))
	sb.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(c.Name))
		if c.Type != "" {
			sb.WriteString(" ")
			sb.WriteString(c.Type)
		}
	}
	sb.WriteString(", PRIMARY KEY (id))")
	return sb.String()
}

var createIndexSQL = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source)",
	quoteIdent(sourceIndex), quoteIdent(TableName))

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
