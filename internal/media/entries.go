package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CreateEntry inserts a filesystem entry. A duplicate path maps to
// ErrDuplicate so callers can treat re-links as no-ops.
func (s *Store) CreateEntry(ctx context.Context, entry *FilesystemEntry) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filesystem_entries (kind, path, file_size, is_directory, available_in_vfs, language, media_item_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Kind, entry.Path, entry.FileSize, entry.IsDirectory,
		entry.AvailableInVFS, nullableStr(entry.Language), entry.MediaItemID)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug().Str("path", entry.Path).Msg("duplicate filesystem entry ignored")
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert filesystem entry: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	return err
}

// EntryByID loads a single filesystem entry.
func (s *Store) EntryByID(ctx context.Context, id int64) (*FilesystemEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, path, file_size, is_directory, available_in_vfs,
		       COALESCE(language, ''), media_item_id, created_at, updated_at
		FROM filesystem_entries
		WHERE id = ?`, id)

	var e FilesystemEntry
	err := row.Scan(&e.ID, &e.Kind, &e.Path, &e.FileSize, &e.IsDirectory,
		&e.AvailableInVFS, &e.Language, &e.MediaItemID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load filesystem entry: %w", err)
	}
	return &e, nil
}

// EntriesForItem returns an item's filesystem entries of the given kind.
func (s *Store) EntriesForItem(ctx context.Context, itemID int64, kind EntryKind) ([]FilesystemEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, path, file_size, is_directory, available_in_vfs,
		       COALESCE(language, ''), media_item_id, created_at, updated_at
		FROM filesystem_entries
		WHERE media_item_id = ? AND kind = ?
		ORDER BY path`, itemID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query filesystem entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// AllEntries lists every filesystem entry, for the VFS file listing.
func (s *Store) AllEntries(ctx context.Context) ([]FilesystemEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, path, file_size, is_directory, available_in_vfs,
		       COALESCE(language, ''), media_item_id, created_at, updated_at
		FROM filesystem_entries
		ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("failed to list filesystem entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

type entryRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanEntries(rows entryRows) ([]FilesystemEntry, error) {
	var entries []FilesystemEntry
	for rows.Next() {
		var e FilesystemEntry
		if err := rows.Scan(&e.ID, &e.Kind, &e.Path, &e.FileSize, &e.IsDirectory,
			&e.AvailableInVFS, &e.Language, &e.MediaItemID, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkEntryAvailable flips available_in_vfs after the media server refresh.
func (s *Store) MarkEntryAvailable(ctx context.Context, entryID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE filesystem_entries
		SET available_in_vfs = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to mark entry available: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
