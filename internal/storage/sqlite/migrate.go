package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	ErrUnknownMigration  = errors.New("unknown migration")
	ErrMigrationArtifact = errors.New("leftover migration table")
)

// MigrateAll selects every migration, applied in order.
const MigrateAll = "all"

// Migration is an additive schema change. It is needed when Probe is not a
// column of the table. Applying it rebuilds the table with Columns, copies
// every existing column across (renaming legacy names per Renames) and
// leaves new columns NULL.
type Migration struct {
	Name    string
	Probe   string
	Columns []Column
	Renames map[string]string
}

// Plan is the column mapping for one table rebuild.
type Plan struct {
	Columns []Column // definition of the rebuilt table
	Insert  []string // target columns filled from the old table
	Select  []string // old columns, parallel to Insert
	Added   []string // target columns with no source, left NULL
}

// Plan maps the old table's columns onto the migration target. Old columns
// that the target does not know are kept, so no data is dropped.
func (m Migration) Plan(old []Column) Plan {
	oldByName := make(map[string]Column, len(old))
	for _, c := range old {
		oldByName[c.Name] = c
	}

	var p Plan
	used := make(map[string]bool, len(old))
	for _, target := range m.Columns {
		p.Columns = append(p.Columns, target)

		if _, ok := oldByName[target.Name]; ok {
			p.Insert = append(p.Insert, target.Name)
			p.Select = append(p.Select, target.Name)
			used[target.Name] = true
			continue
		}
		if legacy, ok := m.legacyName(target.Name); ok {
			if _, present := oldByName[legacy]; present {
				p.Insert = append(p.Insert, target.Name)
				p.Select = append(p.Select, legacy)
				used[legacy] = true
				continue
			}
		}
		p.Added = append(p.Added, target.Name)
	}

	for _, c := range old {
		if used[c.Name] {
			continue
		}
		p.Columns = append(p.Columns, c)
		p.Insert = append(p.Insert, c.Name)
		p.Select = append(p.Select, c.Name)
	}
	return p
}

func (m Migration) legacyName(current string) (string, bool) {
	for legacy, name := range m.Renames {
		if name == current {
			return legacy, true
		}
	}
	return "", false
}

func without(cols []Column, names ...string) []Column {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if !drop[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func renamed(cols []Column, from, to string) []Column {
	out := make([]Column, len(cols))
	for i, c := range cols {
		if c.Name == from {
			c.Name = to
		}
		out[i] = c
	}
	return out
}

var (
	// Revision 2: last_updated split into fic_last_updated and db_last_updated.
	revision2Columns = renamed(
		without(CurrentColumns, "author_id", "author_url", "fandom"),
		"favorites", "favs",
	)
	// Revision 1: fichub_id added to the original table.
	revision1Columns = renamed(
		without(revision2Columns, "db_last_updated"),
		"fic_last_updated", "last_updated",
	)
)

// Migrations is the ordered list of schema generations.
var Migrations = []Migration{
	{
		Name:    "fichub_id",
		Probe:   "fichub_id",
		Columns: revision1Columns,
	},
	{
		Name:    "db_last_updated",
		Probe:   "db_last_updated",
		Columns: revision2Columns,
		Renames: map[string]string{"last_updated": "fic_last_updated"},
	},
	{
		Name:    "author_fields",
		Probe:   "author_id",
		Columns: CurrentColumns,
		Renames: map[string]string{"last_updated": "fic_last_updated", "favs": "favorites"},
	},
}

// SelectMigrations resolves a selector: a migration name or MigrateAll.
func SelectMigrations(selector string) ([]Migration, error) {
	if selector == "" || selector == MigrateAll {
		return Migrations, nil
	}
	for _, m := range Migrations {
		if m.Name == selector {
			return []Migration{m}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s, %s)", ErrUnknownMigration, selector, MigrationNames(), MigrateAll)
}

func MigrationNames() string {
	names := make([]string, len(Migrations))
	for i, m := range Migrations {
		names[i] = m.Name
	}
	return strings.Join(names, ", ")
}

type Migrator struct {
	db     *DB
	tx     *TransactionManager
	logger *slog.Logger
}

func NewMigrator(db *DB, logger *slog.Logger) *Migrator {
	return &Migrator{
		db:     db,
		tx:     NewTransactionManager(db),
		logger: logger.With("component", "migrator"),
	}
}

// Apply runs the selected migrations that are still pending. The database
// file is backed up once, before the first change. It returns the names of
// the migrations applied.
func (m *Migrator) Apply(ctx context.Context, selector string) ([]string, error) {
	selected, err := SelectMigrations(selector)
	if err != nil {
		return nil, err
	}

	exists, err := m.db.tableExists(ctx, TableName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s has no %s table", ErrStoreNotFound, m.db.path, TableName)
	}

	leftover, err := m.db.tableExists(ctx, tempTableName)
	if err != nil {
		return nil, err
	}
	if leftover {
		return nil, fmt.Errorf("%w: %s exists in %s, inspect and drop it before migrating",
			ErrMigrationArtifact, tempTableName, m.db.path)
	}

	var applied []string
	backedUp := false

	for _, mig := range selected {
		present, err := m.hasColumn(ctx, mig.Probe)
		if err != nil {
			return applied, err
		}
		if present {
			m.logger.Debug("migration not needed", "migration", mig.Name)
			continue
		}

		if !backedUp {
			path, err := m.db.Backup(ctx)
			if err != nil {
				return applied, err
			}
			m.logger.Info("created backup before migrating", "backup", path)
			backedUp = true
		}

		m.logger.Info("applying migration", "migration", mig.Name)
		if err := m.apply(ctx, mig); err != nil {
			return applied, fmt.Errorf("migration %s: %w", mig.Name, err)
		}
		applied = append(applied, mig.Name)
	}

	return applied, nil
}

// Pending returns the names of migrations whose probe column is missing.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	var pending []string
	for _, mig := range Migrations {
		present, err := m.hasColumn(ctx, mig.Probe)
		if err != nil {
			return nil, err
		}
		if !present {
			pending = append(pending, mig.Name)
		}
	}
	return pending, nil
}

func (m *Migrator) hasColumn(ctx context.Context, name string) (bool, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info(%s) WHERE name = ?", quoteString(TableName))
	if err := m.db.GetContext(ctx, &n, query, name); err != nil {
		return false, fmt.Errorf("probe column %s: %w", name, err)
	}
	return n > 0, nil
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, m.db.DB)

		old, err := tableColumns(ctx, exec, TableName)
		if err != nil {
			return err
		}
		plan := mig.Plan(old)

		quote := func(names []string) string {
			q := make([]string, len(names))
			for i, n := range names {
				q[i] = quoteIdent(n)
			}
			return strings.Join(q, ", ")
		}

		stmts := []string{
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(TableName), quoteIdent(tempTableName)),
			createTableSQL(TableName, plan.Columns),
			fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
				quoteIdent(TableName), quote(plan.Insert), quote(plan.Select), quoteIdent(tempTableName)),
			fmt.Sprintf("DROP TABLE %s", quoteIdent(tempTableName)),
			createIndexSQL,
		}
		for _, stmt := range stmts {
			if _, err := exec.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
		}

		m.logger.Debug("table rebuilt",
			"migration", mig.Name,
			"added", plan.Added,
			"columns", len(plan.Columns),
		)
		return nil
	})
}
