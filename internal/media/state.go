package media

import (
	"context"
	"fmt"
	"time"
)

// StoredState computes an item's derived state. For shows and seasons the
// state is derived from direct children; for movies and episodes it is
// derived from the item's own progress columns. Ancestors are never touched
// here; see UpdateAncestors.
func (s *Store) StoredState(ctx context.Context, id int64) (State, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	// Sticky states survive recomputation.
	if item.LastState == StatePaused || item.LastState == StateFailed {
		return item.LastState, nil
	}

	switch item.Type {
	case TypeShow, TypeSeason:
		children, err := s.Children(ctx, id)
		if err != nil {
			return "", err
		}
		return deriveParentState(item, children, time.Now()), nil
	default:
		return deriveLeafState(ctx, s, item)
	}
}

// deriveParentState applies the parent-state invariant:
// Completed iff every child is Completed; PartiallyCompleted when mixed;
// Ongoing when aired with at least one future-air child; Unreleased when no
// child is released.
func deriveParentState(item *Item, children []*Item, now time.Time) State {
	if len(children) == 0 {
		if item.Released(now) {
			return item.LastState
		}
		return StateUnreleased
	}

	completed := 0
	released := 0
	futureAir := 0
	for _, child := range children {
		if child.LastState == StateCompleted {
			completed++
		}
		if child.Released(now) {
			released++
		} else if child.AiredAt != nil {
			futureAir++
		}
	}

	switch {
	case completed == len(children):
		return StateCompleted
	case completed > 0:
		return StatePartiallyCompleted
	case item.Released(now) && futureAir > 0:
		return StateOngoing
	case released == 0:
		return StateUnreleased
	default:
		return item.LastState
	}
}

// deriveLeafState reads a movie or episode's progress columns.
func deriveLeafState(ctx context.Context, s *Store, item *Item) (State, error) {
	entries, err := s.EntriesForItem(ctx, item.ID, EntryMedia)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.AvailableInVFS {
			return StateCompleted, nil
		}
	}
	if len(entries) > 0 {
		return StateSymlinked, nil
	}
	if item.ActiveStream != nil {
		return StateDownloaded, nil
	}
	if item.ScrapedAt != nil {
		return StateScraped, nil
	}
	if item.IndexedAt != nil {
		if !item.Released(time.Now()) {
			return StateUnreleased, nil
		}
		return StateIndexed, nil
	}
	return StateRequested, nil
}

// RefreshState recomputes and persists the item's derived state, returning
// the new value.
func (s *Store) RefreshState(ctx context.Context, id int64) (State, error) {
	state, err := s.StoredState(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.UpdateState(ctx, id, state); err != nil {
		return "", err
	}
	return state, nil
}

// UpdateAncestors recomputes the stored state of every ancestor, nearest
// first. Callers invoke this after a leaf transition.
func (s *Store) UpdateAncestors(ctx context.Context, id int64) error {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	for item.ParentID != nil {
		parentID := *item.ParentID
		if _, err := s.RefreshState(ctx, parentID); err != nil {
			return fmt.Errorf("failed to refresh ancestor %d: %w", parentID, err)
		}
		item, err = s.GetByID(ctx, parentID)
		if err != nil {
			return err
		}
	}
	return nil
}

// Pause marks an item Paused. The prior state is recoverable because it is
// derived, not stored.
func (s *Store) Pause(ctx context.Context, id int64) error {
	return s.UpdateState(ctx, id, StatePaused)
}

// Unpause restores the item's prior non-Paused state by recomputing it.
func (s *Store) Unpause(ctx context.Context, id int64) (State, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if item.LastState != StatePaused {
		return item.LastState, nil
	}
	// Clear the sticky flag before recomputing.
	if err := s.UpdateState(ctx, id, StateUnknown); err != nil {
		return "", err
	}
	return s.RefreshState(ctx, id)
}

// Reset clears acquisition progress so the item re-enters the pipeline from
// Requested. Metadata is kept; streams and filesystem entries are dropped.
func (s *Store) Reset(ctx context.Context, id int64) error {
	// Collect the tree before opening the transaction; the pool holds a
	// single connection, so queries on s.db block while a tx is open.
	_, descendants, err := s.GetItemIDs(ctx, id)
	if err != nil {
		return err
	}
	ids := append([]int64{id}, descendants...)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, itemID := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE media_items
			SET last_state = ?, indexed_at = NULL, scraped_at = NULL,
			    scraped_times = 0, active_stream = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?`, StateRequested, itemID); err != nil {
			return fmt.Errorf("failed to reset item %d: %w", itemID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM filesystem_entries WHERE media_item_id = ?`, itemID); err != nil {
			return fmt.Errorf("failed to clear filesystem entries for %d: %w", itemID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM media_item_streams WHERE media_item_id = ?`, itemID); err != nil {
			return fmt.Errorf("failed to clear stream relations for %d: %w", itemID, err)
		}
	}

	return tx.Commit()
}
