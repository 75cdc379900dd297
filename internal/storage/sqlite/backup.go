package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"fichub_metadata/internal/fsutil"
)

// BackupPath returns the sibling backup name: "<stem>.old<ext>".
func BackupPath(path string) string {
	dir, file := filepath.Split(path)
	ext := filepath.Ext(file)
	stem := strings.TrimSuffix(file, ext)
	return filepath.Join(dir, stem+".old"+ext)
}

// Backup copies the database file to BackupPath. It returns "" without
// copying when the file was created by this Open and holds nothing to save.
func (db *DB) Backup(ctx context.Context) (string, error) {
	if !db.existed {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dst := BackupPath(db.path)
	if err := fsutil.CopyFileAtomic(db.path, dst); err != nil {
		return "", fmt.Errorf("backup %s: %w", db.path, err)
	}
	return dst, nil
}
