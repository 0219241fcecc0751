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

// RequestsProvider polls an Overseerr-style request API for approved
// requests.
type RequestsProvider struct {
	base
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewRequestsProvider creates the requests source.
func NewRequestsProvider(cfg config.ContentSourceConfig, logger zerolog.Logger) *RequestsProvider {
	return &RequestsProvider{
		base:       base{cfg: cfg, key: "requests"},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "content-requests").Logger(),
	}
}

// Fetch implements Provider.
func (p *RequestsProvider) Fetch(ctx context.Context) ([]*media.Item, error) {
	endpoint := fmt.Sprintf("%s/api/v1/request?filter=approved&take=100", p.cfg.URL)

	var response struct {
		Results []struct {
			Type  string `json:"type"`
			Media struct {
				ImdbID string `json:"imdbId"`
				TmdbID int64  `json:"tmdbId"`
				TvdbID int64  `json:"tvdbId"`
			} `json:"media"`
			RequestedBy struct {
				Username string `json:"username"`
			} `json:"requestedBy"`
		} `json:"results"`
	}
	if err := getJSON(ctx, p.httpClient, endpoint, p.cfg.APIKey, &response); err != nil {
		return nil, err
	}

	items := make([]*media.Item, 0, len(response.Results))
	for _, r := range response.Results {
		item := submission(r.Type,
			r.Media.ImdbID,
			strconv.FormatInt(r.Media.TmdbID, 10),
			strconv.FormatInt(r.Media.TvdbID, 10),
			r.RequestedBy.Username)
		items = append(items, item)
	}

	p.logger.Debug().Int("requests", len(items)).Msg("requests fetched")
	return items, nil
}
