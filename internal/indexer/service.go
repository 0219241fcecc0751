package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

// retryAttempts bounds in-call retries against the metadata API.
const retryAttempts = 3

// Service is the indexer worker: it enriches items with metadata and builds
// the season/episode tree for shows.
type Service struct {
	store  *media.Store
	client MetadataClient
	logger zerolog.Logger
}

// NewService creates the indexer service.
func NewService(store *media.Store, client MetadataClient, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		client: client,
		logger: logger.With().Str("component", "indexer").Logger(),
	}
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServiceIndexer
}

// Run implements events.Worker. On success the enriched item re-enters the
// pipeline; on exhausted retries nothing is yielded and the retry sweep
// picks the item up later.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}

	if err := s.index(ctx, item); err != nil {
		return nil, err
	}

	return []events.Result{{ItemID: item.ID, RunAt: time.Now()}}, nil
}

// ReindexItem re-runs indexing synchronously for the scheduler's reindex
// tasks.
func (s *Service) ReindexItem(ctx context.Context, itemID int64) error {
	item, err := s.store.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	return s.index(ctx, item)
}

func (s *Service) index(ctx context.Context, item *media.Item) error {
	switch item.Type {
	case media.TypeMovie:
		return s.indexMovie(ctx, item)
	case media.TypeShow:
		return s.indexShow(ctx, item)
	default:
		// Seasons and episodes are indexed through their show.
		if item.ParentID != nil {
			return s.ReindexItem(ctx, *item.ParentID)
		}
		return fmt.Errorf("cannot index %s %d without a parent", item.Type, item.ID)
	}
}

func (s *Service) indexMovie(ctx context.Context, item *media.Item) error {
	var details *MovieDetails
	err := s.withRetry(ctx, func() error {
		var err error
		details, err = s.client.GetMovieDetails(ctx, strVal(item.ImdbID), strVal(item.TmdbID))
		return err
	})
	if err != nil {
		return fmt.Errorf("movie metadata lookup failed: %w", err)
	}

	applyMovie(item, details)
	now := time.Now()
	item.IndexedAt = &now

	if err := s.store.Update(ctx, item); err != nil {
		return err
	}
	if _, err := s.store.RefreshState(ctx, item.ID); err != nil {
		return err
	}
	s.logger.Info().Int64("itemId", item.ID).Str("title", item.Title).Msg("movie indexed")
	return nil
}

func (s *Service) indexShow(ctx context.Context, item *media.Item) error {
	var details *ShowDetails
	err := s.withRetry(ctx, func() error {
		var err error
		details, err = s.client.GetShowDetails(ctx, strVal(item.ImdbID), strVal(item.TvdbID))
		return err
	})
	if err != nil {
		return fmt.Errorf("show metadata lookup failed: %w", err)
	}

	applyShow(item, details)
	now := time.Now()
	item.IndexedAt = &now

	if err := s.store.Update(ctx, item); err != nil {
		return err
	}

	if err := s.syncSeasons(ctx, item, details.TvdbID); err != nil {
		return err
	}
	if _, err := s.store.RefreshState(ctx, item.ID); err != nil {
		return err
	}
	if err := s.store.UpdateAncestors(ctx, item.ID); err != nil {
		return err
	}
	s.logger.Info().Int64("itemId", item.ID).Str("title", item.Title).Msg("show indexed")
	return nil
}

// syncSeasons creates seasons and episodes discovered by the metadata
// provider that are not yet in the library. Existing children are left
// untouched; their progress is theirs.
func (s *Service) syncSeasons(ctx context.Context, show *media.Item, tvdbID string) error {
	if tvdbID == "" {
		tvdbID = strVal(show.TvdbID)
	}
	if tvdbID == "" {
		return nil
	}

	var seasons []SeasonDetails
	err := s.withRetry(ctx, func() error {
		var err error
		seasons, err = s.client.GetSeriesSeasons(ctx, tvdbID)
		return err
	})
	if err != nil {
		return fmt.Errorf("season listing failed: %w", err)
	}

	existing, err := s.store.Children(ctx, show.ID)
	if err != nil {
		return err
	}
	byNumber := make(map[int]*media.Item, len(existing))
	for _, child := range existing {
		byNumber[child.Number] = child
	}

	now := time.Now()
	for _, sd := range seasons {
		var episodes []EpisodeDetails
		err := s.withRetry(ctx, func() error {
			var err error
			episodes, err = s.client.GetSeasonEpisodes(ctx, tvdbID, sd.Number)
			return err
		})
		if err != nil {
			return fmt.Errorf("episode listing for season %d failed: %w", sd.Number, err)
		}

		season, ok := byNumber[sd.Number]
		if !ok {
			season = &media.Item{
				Type:        media.TypeSeason,
				Number:      sd.Number,
				Title:       fmt.Sprintf("%s Season %d", show.Title, sd.Number),
				RequestedBy: show.RequestedBy,
				IndexedAt:   &now,
				Children:    buildEpisodes(show, episodes, now),
			}
			if err := s.store.CreateChild(ctx, show.ID, season); err != nil {
				return err
			}
			continue
		}

		existingEps, err := s.store.Children(ctx, season.ID)
		if err != nil {
			return err
		}
		epNumbers := make(map[int]bool, len(existingEps))
		for _, ep := range existingEps {
			epNumbers[ep.Number] = true
		}
		for _, ep := range buildEpisodes(show, episodes, now) {
			if epNumbers[ep.Number] {
				continue
			}
			if err := s.store.CreateChild(ctx, season.ID, ep); err != nil {
				return err
			}
		}
	}
	return nil
}

func buildEpisodes(show *media.Item, episodes []EpisodeDetails, now time.Time) []*media.Item {
	out := make([]*media.Item, 0, len(episodes))
	for _, ed := range episodes {
		ep := &media.Item{
			Type:        media.TypeEpisode,
			Number:      ed.Number,
			Title:       ed.Title,
			RequestedBy: show.RequestedBy,
			IndexedAt:   &now,
			AiredAt:     parseAirDate(ed.AirDate),
		}
		out = append(out, ep)
	}
	return out
}

func applyMovie(item *media.Item, d *MovieDetails) {
	item.Title = d.Title
	item.Year = d.Year
	item.Genres = d.Genres
	item.Aliases = d.Aliases
	item.IsAnime = d.IsAnime
	if item.ImdbID == nil && d.ImdbID != "" {
		item.ImdbID = &d.ImdbID
	}
	if item.TmdbID == nil && d.TmdbID != "" {
		item.TmdbID = &d.TmdbID
	}
	item.AiredAt = parseAirDate(d.ReleaseDate)
}

func applyShow(item *media.Item, d *ShowDetails) {
	item.Title = d.Title
	item.Year = d.Year
	item.Genres = d.Genres
	item.Aliases = d.Aliases
	item.IsAnime = d.IsAnime
	if item.ImdbID == nil && d.ImdbID != "" {
		item.ImdbID = &d.ImdbID
	}
	if item.TvdbID == nil && d.TvdbID != "" {
		item.TvdbID = &d.TvdbID
	}
	item.AiredAt = parseAirDate(d.FirstAired)
	item.ReleaseData = media.ReleaseData{
		NextAired: d.NextAired,
		AirsDays:  d.AirsDays,
		AirsTime:  d.AirsTime,
		Timezone:  d.Timezone,
	}
}

func parseAirDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

// withRetry retries transient failures with exponential backoff. Not-found
// and auth errors fail immediately.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAPIKeyMissing) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * time.Second):
		}
	}
	return err
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
