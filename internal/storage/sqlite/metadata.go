package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ncruces/go-strftime"

	"fichub_metadata/internal/domain"
)

// ErrDuplicate is returned by Insert when the source is already stored.
var ErrDuplicate = domain.ErrDuplicate

var (
	selectColumns = strings.Join(columnNames(CurrentColumns), ", ")

	// id is assigned by SQLite.
	insertQuery = func() string {
		names := columnNames(CurrentColumns[1:])
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (:%s)",
			TableName, strings.Join(names, ", "), strings.Join(names, ", :"))
	}()

	// Every column except id and source.
	updateQuery = func() string {
		var sets []string
		for _, c := range CurrentColumns {
			if c.Name == "id" || c.Name == "source" {
				continue
			}
			sets = append(sets, c.Name+" = :"+c.Name)
		}
		return fmt.Sprintf("UPDATE %s SET %s WHERE id = :id", TableName, strings.Join(sets, ", "))
	}()
)

type MetadataStore struct {
	db           *DB
	tx           *TransactionManager
	dbTimeFormat string
	now          func() time.Time
}

// NewMetadataStore returns a store that stamps db_last_updated on
// overwrite using the strftime pattern dbTimeFormat.
func NewMetadataStore(db *DB, dbTimeFormat string) *MetadataStore {
	return &MetadataStore{
		db:           db,
		tx:           NewTransactionManager(db),
		dbTimeFormat: dbTimeFormat,
		now:          time.Now,
	}
}

// WithClock replaces the clock used for db_last_updated.
func (s *MetadataStore) WithClock(now func() time.Time) *MetadataStore {
	s.now = now
	return s
}

func (s *MetadataStore) Exists(ctx context.Context, source string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db.DB), &exists,
		"SELECT EXISTS(SELECT 1 FROM "+TableName+" WHERE source = ?)", source)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", source, err)
	}
	return exists, nil
}

// Insert adds a new row and commits it. It fails with ErrDuplicate if a row
// for m.Source exists. On success m.ID holds the new id.
func (s *MetadataStore) Insert(ctx context.Context, m *domain.Metadata) (int64, error) {
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		exists, err := s.Exists(ctx, m.Source)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicate, m.Source)
		}
		return s.insert(ctx, m)
	})
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// Upsert inserts m, or overwrites every field of the existing row except id
// and source and stamps db_last_updated. created reports which branch ran.
// m.ID and m.DBLastUpdated are updated to match the stored row.
func (s *MetadataStore) Upsert(ctx context.Context, m *domain.Metadata) (id int64, created bool, err error) {
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		existingID, found, err := s.idBySource(ctx, m.Source)
		if err != nil {
			return err
		}
		if !found {
			created = true
			return s.insert(ctx, m)
		}

		stamp := strftime.Format(s.dbTimeFormat, s.now())
		m.ID = existingID
		m.DBLastUpdated = &stamp

		if _, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db.DB), updateQuery, m); err != nil {
			return fmt.Errorf("update %s: %w", m.Source, err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return m.ID, created, nil
}

func (s *MetadataStore) insert(ctx context.Context, m *domain.Metadata) error {
	res, err := sqlx.NamedExecContext(ctx, GetExecutor(ctx, s.db.DB), insertQuery, m)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Source, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Source, err)
	}
	m.ID = id
	return nil
}

func (s *MetadataStore) idBySource(ctx context.Context, source string) (int64, bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db.DB), &id,
		"SELECT id FROM "+TableName+" WHERE source = ? ORDER BY id LIMIT 1", source)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("look up %s: %w", source, err)
	}
	return id, true, nil
}

// All returns every row ordered by id. A missing table or unreadable file
// yields ErrStoreNotFound, a table from an older revision ErrSchemaOutdated.
// A row that does not fit the current types yields ErrUnreadableRow naming
// its id and column.
func (s *MetadataStore) All(ctx context.Context) ([]domain.Metadata, error) {
	exec := GetExecutor(ctx, s.db.DB)

	exists, err := tableExists(ctx, exec, TableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, s.db.path, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s has no %s table", ErrStoreNotFound, s.db.path, TableName)
	}

	missing, err := missingColumns(ctx, exec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, s.db.path, err)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s lacks %s", ErrSchemaOutdated, s.db.path, strings.Join(missing, ", "))
	}

	query := "SELECT " + selectColumns + " FROM " + TableName + " ORDER BY id"
	cursor, err := exec.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStoreNotFound, s.db.path, err)
	}
	defer cursor.Close()

	var rows []domain.Metadata
	for cursor.Next() {
		var m domain.Metadata
		if err := cursor.StructScan(&m); err != nil {
			return nil, fmt.Errorf("%w: %s id %s: %w", ErrUnreadableRow, s.db.path, rowID(cursor), err)
		}
		rows = append(rows, m)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", s.db.path, err)
	}
	return rows, nil
}

// rowID returns the id of the current row without converting the other
// columns. id is the first selected column.
func rowID(cursor *sqlx.Rows) string {
	values, err := cursor.SliceScan()
	if err != nil || len(values) == 0 {
		return "?"
	}
	return fmt.Sprint(values[0])
}

func (s *MetadataStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db.DB), &n, "SELECT COUNT(*) FROM "+TableName); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}
