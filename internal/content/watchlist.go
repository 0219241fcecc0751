package content

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/media"
)

// WatchlistProvider polls a Plex-style watchlist API.
type WatchlistProvider struct {
	base
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewWatchlistProvider creates the watchlist source.
func NewWatchlistProvider(cfg config.ContentSourceConfig, logger zerolog.Logger) *WatchlistProvider {
	return &WatchlistProvider{
		base:       base{cfg: cfg, key: "watchlist"},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "content-watchlist").Logger(),
	}
}

// Fetch implements Provider.
func (p *WatchlistProvider) Fetch(ctx context.Context) ([]*media.Item, error) {
	endpoint := fmt.Sprintf("%s/library/sections/watchlist/all?X-Plex-Token=%s", p.cfg.URL, p.cfg.APIKey)

	var response struct {
		MediaContainer struct {
			Metadata []struct {
				Type  string `json:"type"`
				GUIDs []struct {
					ID string `json:"id"` // "imdb://tt123", "tmdb://456", "tvdb://789"
				} `json:"Guid"`
			} `json:"Metadata"`
		} `json:"MediaContainer"`
	}
	if err := getJSON(ctx, p.httpClient, endpoint, "", &response); err != nil {
		return nil, err
	}

	items := make([]*media.Item, 0, len(response.MediaContainer.Metadata))
	for _, entry := range response.MediaContainer.Metadata {
		var imdbID, tmdbID, tvdbID string
		for _, guid := range entry.GUIDs {
			switch {
			case len(guid.ID) > 7 && guid.ID[:7] == "imdb://":
				imdbID = guid.ID[7:]
			case len(guid.ID) > 7 && guid.ID[:7] == "tmdb://":
				tmdbID = guid.ID[7:]
			case len(guid.ID) > 7 && guid.ID[:7] == "tvdb://":
				tvdbID = guid.ID[7:]
			}
		}
		if imdbID == "" && tmdbID == "" && tvdbID == "" {
			continue
		}
		items = append(items, submission(entry.Type, imdbID, tmdbID, tvdbID, "watchlist"))
	}

	p.logger.Debug().Int("items", len(items)).Msg("watchlist fetched")
	return items, nil
}
