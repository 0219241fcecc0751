package media

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Store errors.
var (
	ErrNotFound  = errors.New("media item not found")
	ErrDuplicate = errors.New("media item already exists")
)

// Store provides persistence for media items, their filesystem entries and
// stream relations.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a media item store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "media-store").Logger(),
	}
}

const itemColumns = `id, type, parent_id, imdb_id, tmdb_id, tvdb_id, last_state,
	title, year, number, genres, aliases, is_anime, requested_by, requested_at,
	indexed_at, scraped_at, aired_at, scraped_times,
	release_next_aired, release_airs_days, release_airs_time, release_timezone,
	active_stream, parsed_data`

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") && strings.Contains(msg, "2067")
}

// Create inserts an item and its children in one transaction. A unique
// violation on an external id maps to ErrDuplicate.
func (s *Store) Create(ctx context.Context, item *Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertTree(ctx, tx, item, nil); err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug().Str("title", item.Title).Msg("duplicate media item insert ignored")
			return ErrDuplicate
		}
		return err
	}

	return tx.Commit()
}

// CreateChild inserts a new child and its subtree under an existing item.
// Used by the indexer when a reindex discovers new seasons or episodes.
func (s *Store) CreateChild(ctx context.Context, parentID int64, item *Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertTree(ctx, tx, item, &parentID); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}

	return tx.Commit()
}

func (s *Store) insertTree(ctx context.Context, tx *sql.Tx, item *Item, parentID *int64) error {
	id, err := s.insertOne(ctx, tx, item, parentID)
	if err != nil {
		return err
	}
	item.ID = id
	for _, child := range item.Children {
		if err := s.insertTree(ctx, tx, child, &id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertOne(ctx context.Context, tx *sql.Tx, item *Item, parentID *int64) (int64, error) {
	if item.LastState == "" {
		item.LastState = StateRequested
	}
	if item.RequestedAt.IsZero() {
		item.RequestedAt = time.Now()
	}
	genres, aliases, airsDays, activeStream, parsedData, err := marshalItemJSON(item)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO media_items (
			type, parent_id, imdb_id, tmdb_id, tvdb_id, last_state,
			title, year, number, genres, aliases, is_anime, requested_by, requested_at,
			indexed_at, scraped_at, aired_at, scraped_times,
			release_next_aired, release_airs_days, release_airs_time, release_timezone,
			active_stream, parsed_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Type, parentID, item.ImdbID, item.TmdbID, item.TvdbID, item.LastState,
		item.Title, nullableInt(item.Year), nullableInt(item.Number), genres, aliases,
		item.IsAnime, item.RequestedBy, item.RequestedAt,
		item.IndexedAt, item.ScrapedAt, item.AiredAt, item.ScrapedTimes,
		nullableStr(item.ReleaseData.NextAired), airsDays,
		nullableStr(item.ReleaseData.AirsTime), nullableStr(item.ReleaseData.Timezone),
		activeStream, parsedData)
	if err != nil {
		return 0, fmt.Errorf("failed to insert media item: %w", err)
	}
	return res.LastInsertId()
}

// GetByID loads a single item without children.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM media_items WHERE id = ?`, id)
	return scanItem(row)
}

// GetByExternalID finds an item of the given type by any external id.
// Empty arguments are skipped.
func (s *Store) GetByExternalID(ctx context.Context, typ ItemType, imdbID, tmdbID, tvdbID string) (*Item, error) {
	var clauses []string
	var args []any
	if imdbID != "" {
		clauses = append(clauses, "imdb_id = ?")
		args = append(args, imdbID)
	}
	if tmdbID != "" {
		clauses = append(clauses, "tmdb_id = ?")
		args = append(args, tmdbID)
	}
	if tvdbID != "" {
		clauses = append(clauses, "tvdb_id = ?")
		args = append(args, tvdbID)
	}
	if len(clauses) == 0 {
		return nil, ErrNotFound
	}

	query := `SELECT ` + itemColumns + ` FROM media_items WHERE (` + strings.Join(clauses, " OR ") + `)`
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, typ)
	}
	query += ` LIMIT 1`

	return scanItem(s.db.QueryRowContext(ctx, query, args...))
}

// Exists reports whether an item with any of the given external ids exists.
func (s *Store) Exists(ctx context.Context, typ ItemType, imdbID, tmdbID, tvdbID string) (int64, bool, error) {
	item, err := s.GetByExternalID(ctx, typ, imdbID, tmdbID, tvdbID)
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return item.ID, true, nil
}

// GetState returns only the columns the dispatch hot path needs.
func (s *Store) GetState(ctx context.Context, id int64) (State, ItemType, error) {
	var state State
	var typ ItemType
	err := s.db.QueryRowContext(ctx,
		`SELECT last_state, type FROM media_items WHERE id = ?`, id).Scan(&state, &typ)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to read item state: %w", err)
	}
	return state, typ, nil
}

// GetItemIDs returns the item's id and all descendant ids, supporting
// parent/child deduplication in the event manager.
func (s *Store) GetItemIDs(ctx context.Context, id int64) (int64, []int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree (id) AS (
			SELECT id FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id FROM media_items m JOIN tree t ON m.parent_id = t.id
		)
		SELECT id FROM tree`, id)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to query item tree: %w", err)
	}
	defer rows.Close()

	var self int64
	var descendants []int64
	first := true
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			return 0, nil, err
		}
		if first {
			self = rowID
			first = false
			continue
		}
		descendants = append(descendants, rowID)
	}
	if first {
		return 0, nil, ErrNotFound
	}
	return self, descendants, rows.Err()
}

// AncestorStates returns the states of the item's parent chain, nearest first.
func (s *Store) AncestorStates(ctx context.Context, id int64) ([]State, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain (id, parent_id, last_state, depth) AS (
			SELECT id, parent_id, last_state, 0 FROM media_items WHERE id = ?
			UNION ALL
			SELECT m.id, m.parent_id, m.last_state, c.depth + 1
			FROM media_items m JOIN chain c ON m.id = c.parent_id
		)
		SELECT last_state FROM chain WHERE depth > 0 ORDER BY depth`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestor chain: %w", err)
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		var st State
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// Children loads the direct children of an item, ordered by number.
func (s *Store) Children(ctx context.Context, id int64) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items WHERE parent_id = ? ORDER BY number, id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []*Item
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, item)
	}
	return children, rows.Err()
}

// LoadTree loads an item with its full descendant tree attached.
func (s *Store) LoadTree(ctx context.Context, id int64) (*Item, error) {
	item, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		loaded, err := s.LoadTree(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		item.Children = append(item.Children, loaded)
	}
	return item, nil
}

// UpdateState sets last_state on a single item.
func (s *Store) UpdateState(ctx context.Context, id int64, state State) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET last_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		state, id)
	if err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Update persists the mutable metadata columns of an item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	genres, aliases, airsDays, activeStream, parsedData, err := marshalItemJSON(item)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE media_items SET
			imdb_id = ?, tmdb_id = ?, tvdb_id = ?, last_state = ?,
			title = ?, year = ?, number = ?, genres = ?, aliases = ?, is_anime = ?,
			indexed_at = ?, scraped_at = ?, aired_at = ?, scraped_times = ?,
			release_next_aired = ?, release_airs_days = ?, release_airs_time = ?, release_timezone = ?,
			active_stream = ?, parsed_data = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		item.ImdbID, item.TmdbID, item.TvdbID, item.LastState,
		item.Title, nullableInt(item.Year), nullableInt(item.Number), genres, aliases, item.IsAnime,
		item.IndexedAt, item.ScrapedAt, item.AiredAt, item.ScrapedTimes,
		nullableStr(item.ReleaseData.NextAired), airsDays,
		nullableStr(item.ReleaseData.AirsTime), nullableStr(item.ReleaseData.Timezone),
		activeStream, parsedData, item.ID)
	if err != nil {
		return fmt.Errorf("failed to update media item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScraped bumps the scrape counter and timestamp.
func (s *Store) MarkScraped(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE media_items
		SET scraped_times = scraped_times + 1, scraped_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark scraped: %w", err)
	}
	return nil
}

// DeleteCascade removes an item; children, filesystem entries, subtitles and
// stream relations go with it via foreign keys.
func (s *Store) DeleteCascade(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RetryLibrary returns ids of top-level items that have not completed.
func (s *Store) RetryLibrary(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM media_items
		WHERE last_state != ? AND type IN (?, ?)
		ORDER BY requested_at`, StateCompleted, TypeMovie, TypeShow)
	if err != nil {
		return nil, fmt.Errorf("failed to query retry library: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Upcoming returns non-completed items of a type whose air date is in the
// future, for the release monitor.
func (s *Store) Upcoming(ctx context.Context, typ ItemType, now time.Time) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items
		 WHERE type = ? AND last_state != ? AND aired_at IS NOT NULL AND aired_at > ?`,
		typ, StateCompleted, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ShowsInStates returns shows in any of the given states.
func (s *Store) ShowsInStates(ctx context.Context, states ...State) ([]*Item, error) {
	placeholders := make([]string, len(states))
	args := make([]any, 0, len(states)+1)
	args = append(args, TypeShow)
	for i, st := range states {
		placeholders[i] = "?"
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items
		 WHERE type = ? AND last_state IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query shows by state: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// MoviesWithoutAirDate returns movies lacking aired_at in early states, for
// the daily reindex fallback.
func (s *Store) MoviesWithoutAirDate(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM media_items
		 WHERE type = ? AND aired_at IS NULL AND last_state IN (?, ?, ?)`,
		TypeMovie, StateUnknown, StateIndexed, StateRequested)
	if err != nil {
		return nil, fmt.Errorf("failed to query movies without air date: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItemRows(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// scanning helpers

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row *sql.Row) (*Item, error) {
	item, err := scanFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

func scanItemRows(rows *sql.Rows) (*Item, error) {
	return scanFrom(rows)
}

func scanFrom(sc rowScanner) (*Item, error) {
	var item Item
	var parentID sql.NullInt64
	var imdbID, tmdbID, tvdbID sql.NullString
	var year, number sql.NullInt64
	var genres, aliases string
	var indexedAt, scrapedAt, airedAt sql.NullTime
	var nextAired, airsDays, airsTime, timezone sql.NullString
	var activeStream, parsedData sql.NullString

	err := sc.Scan(&item.ID, &item.Type, &parentID, &imdbID, &tmdbID, &tvdbID,
		&item.LastState, &item.Title, &year, &number, &genres, &aliases,
		&item.IsAnime, &item.RequestedBy, &item.RequestedAt,
		&indexedAt, &scrapedAt, &airedAt, &item.ScrapedTimes,
		&nextAired, &airsDays, &airsTime, &timezone, &activeStream, &parsedData)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		item.ParentID = &parentID.Int64
	}
	item.ImdbID = nullStrPtr(imdbID)
	item.TmdbID = nullStrPtr(tmdbID)
	item.TvdbID = nullStrPtr(tvdbID)
	if year.Valid {
		item.Year = int(year.Int64)
	}
	if number.Valid {
		item.Number = int(number.Int64)
	}
	item.IndexedAt = nullTimePtr(indexedAt)
	item.ScrapedAt = nullTimePtr(scrapedAt)
	item.AiredAt = nullTimePtr(airedAt)

	if err := json.Unmarshal([]byte(genres), &item.Genres); err != nil {
		return nil, fmt.Errorf("corrupt genres column on item %d: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(aliases), &item.Aliases); err != nil {
		return nil, fmt.Errorf("corrupt aliases column on item %d: %w", item.ID, err)
	}
	item.ReleaseData.NextAired = nextAired.String
	item.ReleaseData.AirsTime = airsTime.String
	item.ReleaseData.Timezone = timezone.String
	if airsDays.Valid && airsDays.String != "" {
		if err := json.Unmarshal([]byte(airsDays.String), &item.ReleaseData.AirsDays); err != nil {
			return nil, fmt.Errorf("corrupt airs_days column on item %d: %w", item.ID, err)
		}
	}
	if activeStream.Valid && activeStream.String != "" {
		item.ActiveStream = &ActiveStream{}
		if err := json.Unmarshal([]byte(activeStream.String), item.ActiveStream); err != nil {
			return nil, fmt.Errorf("corrupt active_stream column on item %d: %w", item.ID, err)
		}
	}
	if parsedData.Valid && parsedData.String != "" {
		item.ParsedData = &ParsedData{}
		if err := json.Unmarshal([]byte(parsedData.String), item.ParsedData); err != nil {
			return nil, fmt.Errorf("corrupt parsed_data column on item %d: %w", item.ID, err)
		}
	}

	return &item, nil
}

func marshalItemJSON(item *Item) (genres, aliases string, airsDays, activeStream, parsedData any, err error) {
	if item.Genres == nil {
		item.Genres = []string{}
	}
	if item.Aliases == nil {
		item.Aliases = map[string][]string{}
	}
	g, err := json.Marshal(item.Genres)
	if err != nil {
		return "", "", nil, nil, nil, err
	}
	a, err := json.Marshal(item.Aliases)
	if err != nil {
		return "", "", nil, nil, nil, err
	}

	var days any
	if len(item.ReleaseData.AirsDays) > 0 {
		b, err := json.Marshal(item.ReleaseData.AirsDays)
		if err != nil {
			return "", "", nil, nil, nil, err
		}
		days = string(b)
	}
	var active any
	if item.ActiveStream != nil {
		b, err := json.Marshal(item.ActiveStream)
		if err != nil {
			return "", "", nil, nil, nil, err
		}
		active = string(b)
	}
	var parsed any
	if item.ParsedData != nil {
		b, err := json.Marshal(item.ParsedData)
		if err != nil {
			return "", "", nil, nil, nil, err
		}
		parsed = string(b)
	}
	return string(g), string(a), days, active, parsed, nil
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullStrPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
