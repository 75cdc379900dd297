// Package export dumps the metadata table into a JSON document.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"fichub_metadata/internal/domain"
	"fichub_metadata/internal/fsutil"
)

type RowReader interface {
	All(ctx context.Context) ([]domain.Metadata, error)
}

// Document is the on-disk export format.
type Document struct {
	Meta []domain.Metadata `json:"meta"`
}

// Result describes a finished export.
type Result struct {
	Path     string
	Rows     int
	Duration time.Duration
}

type Exporter struct {
	rows   RowReader
	logger *slog.Logger
}

func NewExporter(rows RowReader, logger *slog.Logger) *Exporter {
	return &Exporter{
		rows:   rows,
		logger: logger.With("component", "exporter"),
	}
}

// Export writes every stored row to target. The file is replaced atomically,
// so a failed export leaves any previous document intact.
func (e *Exporter) Export(ctx context.Context, target string) (*Result, error) {
	startTime := time.Now()

	rows, err := e.rows.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if rows == nil {
		rows = []domain.Metadata{}
	}

	for _, r := range rows {
		e.logger.Debug("exporting row", "id", r.ID, "source", r.Source)
	}

	err = fsutil.WriteFileAtomic(target, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		return enc.Encode(Document{Meta: rows})
	})
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", target, err)
	}

	res := &Result{Path: target, Rows: len(rows), Duration: time.Since(startTime)}
	e.logger.Info("export completed",
		"path", res.Path,
		"rows", res.Rows,
		"duration", res.Duration,
	)
	return res, nil
}

// TargetPath is "<dir>/<db stem>.json", where dir is outDir or, when empty,
// the database's own directory.
func TargetPath(dbPath, outDir string) string {
	base := filepath.Base(dbPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if outDir == "" {
		outDir = filepath.Dir(dbPath)
	}
	return filepath.Join(outDir, stem+".json")
}
