package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AddStreams upserts candidate streams and attaches them to an item.
// Hashes already blacklisted for the item keep their blacklist flag.
func (s *Store) AddStreams(ctx context.Context, itemID int64, streams []Stream) error {
	if len(streams) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stream := range streams {
		hash := NormalizeInfohash(stream.Infohash)
		if hash == "" {
			s.logger.Debug().Str("infohash", stream.Infohash).Msg("skipping malformed infohash")
			continue
		}

		var streamID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM streams WHERE infohash = ?`, hash).Scan(&streamID)
		if errors.Is(err, sql.ErrNoRows) {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO streams (infohash, raw_title, parsed_title, quality, release_group)
				VALUES (?, ?, ?, ?, ?)`,
				hash, stream.RawTitle, stream.ParsedTitle, stream.Quality, stream.ReleaseGroup)
			if err != nil {
				return fmt.Errorf("failed to insert stream: %w", err)
			}
			streamID, err = res.LastInsertId()
			if err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("failed to look up stream: %w", err)
		}

		// Keep an existing relation (and its blacklist flag) untouched.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO media_item_streams (media_item_id, stream_id, blacklisted)
			VALUES (?, ?, 0)`, itemID, streamID); err != nil {
			return fmt.Errorf("failed to attach stream: %w", err)
		}
	}

	return tx.Commit()
}

// StreamsFor returns the item's candidate streams, excluding blacklisted ones.
func (s *Store) StreamsFor(ctx context.Context, itemID int64) ([]Stream, error) {
	return s.queryStreams(ctx, itemID, false)
}

// BlacklistedStreamsFor returns the item's blacklisted streams.
func (s *Store) BlacklistedStreamsFor(ctx context.Context, itemID int64) ([]Stream, error) {
	return s.queryStreams(ctx, itemID, true)
}

func (s *Store) queryStreams(ctx context.Context, itemID int64, blacklisted bool) ([]Stream, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.infohash, st.raw_title, st.parsed_title, st.quality, st.release_group, st.created_at
		FROM streams st
		JOIN media_item_streams rel ON rel.stream_id = st.id
		WHERE rel.media_item_id = ? AND rel.blacklisted = ?
		ORDER BY st.id`, itemID, blacklisted)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []Stream
	for rows.Next() {
		var st Stream
		if err := rows.Scan(&st.ID, &st.Infohash, &st.RawTitle, &st.ParsedTitle,
			&st.Quality, &st.ReleaseGroup, &st.CreatedAt); err != nil {
			return nil, err
		}
		streams = append(streams, st)
	}
	return streams, rows.Err()
}

// BlacklistStream moves a stream from the candidate set to the blacklist.
func (s *Store) BlacklistStream(ctx context.Context, itemID, streamID int64) error {
	return s.setBlacklist(ctx, itemID, streamID, true)
}

// UnblacklistStream moves a stream back to the candidate set.
func (s *Store) UnblacklistStream(ctx context.Context, itemID, streamID int64) error {
	return s.setBlacklist(ctx, itemID, streamID, false)
}

func (s *Store) setBlacklist(ctx context.Context, itemID, streamID int64, blacklisted bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_item_streams SET blacklisted = ?
		WHERE media_item_id = ? AND stream_id = ?`, blacklisted, itemID, streamID)
	if err != nil {
		return fmt.Errorf("failed to update blacklist flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// BlacklistHash blacklists by infohash, attaching the relation if missing.
// Used when a debrid container fails file selection.
func (s *Store) BlacklistHash(ctx context.Context, itemID int64, infohash string) error {
	hash := NormalizeInfohash(infohash)
	if hash == "" {
		return fmt.Errorf("malformed infohash %q", infohash)
	}

	var streamID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM streams WHERE infohash = ?`, hash).Scan(&streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media_item_streams (media_item_id, stream_id, blacklisted)
		VALUES (?, ?, 1)
		ON CONFLICT (media_item_id, stream_id) DO UPDATE SET blacklisted = 1`,
		itemID, streamID)
	if err != nil {
		return fmt.Errorf("failed to blacklist hash: %w", err)
	}
	return nil
}

// ResetStreams detaches all streams (candidate and blacklisted) from an item.
func (s *Store) ResetStreams(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM media_item_streams WHERE media_item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to reset streams: %w", err)
	}
	return nil
}

// ContainsID reports whether sorted contains id. Binary search over the
// sorted descendant list used by dedupe checks; loops until left > right.
func ContainsID(sorted []int64, id int64) bool {
	left, right := 0, len(sorted)-1
	for left <= right {
		mid := (left + right) / 2
		switch {
		case sorted[mid] == id:
			return true
		case sorted[mid] < id:
			left = mid + 1
		default:
			right = mid - 1
		}
	}
	return false
}
