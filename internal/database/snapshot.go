package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot writes a consistent copy of the live database to destPath using
// VACUUM INTO, which is safe while the connection is in use.
func (db *DB) Snapshot(ctx context.Context, destPath string) error {
	if destPath == "" {
		return fmt.Errorf("snapshot destination must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale snapshot: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// Restore replaces the live database file with the snapshot at srcPath.
// The connection is closed first; the caller must reopen with New and
// re-run migrations before serving again.
func (db *DB) Restore(srcPath string) error {
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("snapshot not readable: %w", err)
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("failed to close database before restore: %w", err)
	}

	// Drop WAL sidecars so the restored file is opened clean.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(db.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s sidecar: %w", suffix, err)
		}
	}

	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := os.WriteFile(db.path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write restored database: %w", err)
	}
	return nil
}
