// Package scraper finds candidate streams for released items by querying
// torrent aggregator APIs.
package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/media"
)

var (
	ErrAPIError    = errors.New("aggregator API error")
	ErrRateLimited = errors.New("aggregator rate limited")
)

// Target carries the resolved coordinates for one scrape: the item plus
// the show-level ids aggregators key their APIs by.
type Target struct {
	Item      *media.Item
	ImdbID    string
	ShowTitle string
	Season    int
	Episode   int
}

// Aggregator is one upstream torrent index. Scrape returns candidate
// streams keyed by infohash.
type Aggregator interface {
	Name() string
	Scrape(ctx context.Context, target Target) (map[string]string, error)
}

// TorrentioClient queries a Torrentio-style stream API.
type TorrentioClient struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewTorrentioClient creates a torrentio aggregator client.
func NewTorrentioClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *TorrentioClient {
	return &TorrentioClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger.With().Str("component", "torrentio").Logger(),
	}
}

// Name implements Aggregator.
func (c *TorrentioClient) Name() string { return "torrentio" }

// Scrape implements Aggregator. Movies query by imdb id, episodes by
// imdb id plus season/episode coordinates.
func (c *TorrentioClient) Scrape(ctx context.Context, target Target) (map[string]string, error) {
	if target.ImdbID == "" {
		return nil, nil
	}

	var endpoint string
	switch target.Item.Type {
	case media.TypeMovie:
		endpoint = fmt.Sprintf("%s/stream/movie/%s.json", c.baseURL, target.ImdbID)
	case media.TypeEpisode:
		endpoint = fmt.Sprintf("%s/stream/series/%s:%d:%d.json", c.baseURL, target.ImdbID, target.Season, target.Episode)
	default:
		endpoint = fmt.Sprintf("%s/stream/series/%s.json", c.baseURL, target.ImdbID)
	}

	var response struct {
		Streams []struct {
			InfoHash string `json:"infoHash"`
			Title    string `json:"title"`
		} `json:"streams"`
	}
	if err := getJSON(ctx, c.httpClient, endpoint, &response); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(response.Streams))
	for _, st := range response.Streams {
		if hash := media.NormalizeInfohash(st.InfoHash); hash != "" {
			results[hash] = st.Title
		}
	}
	c.logger.Debug().Int64("itemId", target.Item.ID).Int("streams", len(results)).Msg("torrentio scrape finished")
	return results, nil
}

// ZileanClient queries a Zilean-style DMM search API.
type ZileanClient struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewZileanClient creates a zilean aggregator client.
func NewZileanClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *ZileanClient {
	return &ZileanClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		logger:     logger.With().Str("component", "zilean").Logger(),
	}
}

// Name implements Aggregator.
func (c *ZileanClient) Name() string { return "zilean" }

// Scrape implements Aggregator.
func (c *ZileanClient) Scrape(ctx context.Context, target Target) (map[string]string, error) {
	query := scrapeQuery(target)
	if query == "" {
		return nil, nil
	}

	endpoint := fmt.Sprintf("%s/dmm/search?%s", c.baseURL, url.Values{"query": {query}}.Encode())

	var response []struct {
		InfoHash string `json:"info_hash"`
		RawTitle string `json:"raw_title"`
	}
	if err := getJSON(ctx, c.httpClient, endpoint, &response); err != nil {
		return nil, err
	}

	results := make(map[string]string, len(response))
	for _, entry := range response {
		if hash := media.NormalizeInfohash(entry.InfoHash); hash != "" {
			results[hash] = entry.RawTitle
		}
	}
	c.logger.Debug().Int64("itemId", target.Item.ID).Int("streams", len(results)).Msg("zilean scrape finished")
	return results, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAPIError, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// scrapeQuery builds a text query for DMM-style search APIs.
func scrapeQuery(target Target) string {
	item := target.Item
	switch item.Type {
	case media.TypeEpisode:
		return fmt.Sprintf("%s S%02dE%02d", target.ShowTitle, target.Season, target.Episode)
	default:
		if item.Year > 0 {
			return fmt.Sprintf("%s %d", item.Title, item.Year)
		}
		return item.Title
	}
}
