// Package indexer enriches requested items with metadata and builds the
// season/episode tree for shows.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
)

var (
	ErrAPIKeyMissing = errors.New("metadata API key is not configured")
	ErrNotFound      = errors.New("title not found")
	ErrAPIError      = errors.New("metadata API error")
	ErrRateLimited   = errors.New("metadata API rate limited")
)

// MovieDetails is the normalized metadata for a movie.
type MovieDetails struct {
	ImdbID      string              `json:"imdb_id"`
	TmdbID      string              `json:"tmdb_id"`
	Title       string              `json:"title"`
	Year        int                 `json:"year"`
	Genres      []string            `json:"genres"`
	Aliases     map[string][]string `json:"aliases"`
	ReleaseDate string              `json:"release_date"` // "2006-01-02"
	IsAnime     bool                `json:"is_anime"`
}

// ShowDetails is the normalized metadata for a show.
type ShowDetails struct {
	ImdbID     string              `json:"imdb_id"`
	TvdbID     string              `json:"tvdb_id"`
	Title      string              `json:"title"`
	Year       int                 `json:"year"`
	Genres     []string            `json:"genres"`
	Aliases    map[string][]string `json:"aliases"`
	FirstAired string              `json:"first_aired"`
	IsAnime    bool                `json:"is_anime"`
	NextAired  string              `json:"next_aired"`
	AirsDays   map[string]bool     `json:"airs_days"`
	AirsTime   string              `json:"airs_time"`
	Timezone   string              `json:"timezone"`
}

// SeasonDetails describes one season of a show.
type SeasonDetails struct {
	Number int `json:"number"`
}

// EpisodeDetails describes one episode of a season.
type EpisodeDetails struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	AirDate string `json:"air_date"` // "2006-01-02" or full datetime
}

// MetadataClient is the metadata provider surface the service depends on.
type MetadataClient interface {
	GetMovieDetails(ctx context.Context, imdbID, tmdbID string) (*MovieDetails, error)
	GetShowDetails(ctx context.Context, imdbID, tvdbID string) (*ShowDetails, error)
	GetSeriesSeasons(ctx context.Context, tvdbID string) ([]SeasonDetails, error)
	GetSeasonEpisodes(ctx context.Context, tvdbID string, season int) ([]EpisodeDetails, error)
}

// Client talks to a TMDB/TVDB-style metadata aggregator API.
type Client struct {
	httpClient *http.Client
	config     config.IndexerConfig
	logger     zerolog.Logger
}

// NewClient creates a metadata client.
func NewClient(cfg config.IndexerConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		config:     cfg,
		logger:     logger.With().Str("component", "metadata").Logger(),
	}
}

// IsConfigured returns true if the API key is set.
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// GetMovieDetails fetches movie metadata by external id; imdbID wins when
// both are present.
func (c *Client) GetMovieDetails(ctx context.Context, imdbID, tmdbID string) (*MovieDetails, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	if imdbID != "" {
		params.Set("imdb_id", imdbID)
	} else if tmdbID != "" {
		params.Set("tmdb_id", tmdbID)
	} else {
		return nil, fmt.Errorf("%w: no external id", ErrNotFound)
	}

	var details MovieDetails
	if err := c.doRequest(ctx, c.config.BaseURL+"/movie", params, &details); err != nil {
		return nil, err
	}

	c.logger.Debug().Str("imdbId", imdbID).Str("title", details.Title).Msg("Got movie details")
	return &details, nil
}

// GetShowDetails fetches show metadata, including next-air hints.
func (c *Client) GetShowDetails(ctx context.Context, imdbID, tvdbID string) (*ShowDetails, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	if imdbID != "" {
		params.Set("imdb_id", imdbID)
	} else if tvdbID != "" {
		params.Set("tvdb_id", tvdbID)
	} else {
		return nil, fmt.Errorf("%w: no external id", ErrNotFound)
	}

	var details ShowDetails
	if err := c.doRequest(ctx, c.config.BaseURL+"/show", params, &details); err != nil {
		return nil, err
	}

	c.logger.Debug().Str("imdbId", imdbID).Str("title", details.Title).Msg("Got show details")
	return &details, nil
}

// GetSeriesSeasons lists a show's seasons.
func (c *Client) GetSeriesSeasons(ctx context.Context, tvdbID string) ([]SeasonDetails, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("tvdb_id", tvdbID)

	var seasons []SeasonDetails
	if err := c.doRequest(ctx, c.config.BaseURL+"/show/seasons", params, &seasons); err != nil {
		return nil, err
	}
	return seasons, nil
}

// GetSeasonEpisodes lists one season's episodes.
func (c *Client) GetSeasonEpisodes(ctx context.Context, tvdbID string, season int) ([]EpisodeDetails, error) {
	if !c.IsConfigured() {
		return nil, ErrAPIKeyMissing
	}

	params := url.Values{}
	params.Set("api_key", c.config.APIKey)
	params.Set("tvdb_id", tvdbID)
	params.Set("season", fmt.Sprintf("%d", season))

	var episodes []EpisodeDetails
	if err := c.doRequest(ctx, c.config.BaseURL+"/show/episodes", params, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	reqURL := endpoint
	if len(params) > 0 {
		reqURL = fmt.Sprintf("%s?%s", endpoint, params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: invalid API key", ErrAPIError)
		case http.StatusTooManyRequests:
			return ErrRateLimited
		default:
			return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
