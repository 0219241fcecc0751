package content

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/media"
)

// ListsProvider polls an MDBList-style curated list API.
type ListsProvider struct {
	base
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewListsProvider creates the lists source.
func NewListsProvider(cfg config.ContentSourceConfig, logger zerolog.Logger) *ListsProvider {
	return &ListsProvider{
		base:       base{cfg: cfg, key: "lists"},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "content-lists").Logger(),
	}
}

// Fetch implements Provider.
func (p *ListsProvider) Fetch(ctx context.Context) ([]*media.Item, error) {
	endpoint := fmt.Sprintf("%s/items?apikey=%s", p.cfg.URL, p.cfg.APIKey)

	var response []struct {
		MediaType string `json:"mediatype"` // "movie" or "show"
		ImdbID    string `json:"imdb_id"`
		TvdbID    int64  `json:"tvdb_id"`
	}
	if err := getJSON(ctx, p.httpClient, endpoint, "", &response); err != nil {
		return nil, err
	}

	items := make([]*media.Item, 0, len(response))
	for _, entry := range response {
		if entry.ImdbID == "" && entry.TvdbID == 0 {
			continue
		}
		items = append(items, submission(entry.MediaType,
			entry.ImdbID, "", strconv.FormatInt(entry.TvdbID, 10), "lists"))
	}

	p.logger.Debug().Int("items", len(items)).Msg("lists fetched")
	return items, nil
}
