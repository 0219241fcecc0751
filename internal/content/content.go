// Package content implements the request sources that feed new items into
// the pipeline: a requests API, a watchlist and external lists.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/media"
)

// ErrNotConfigured is returned by Validate when a provider is unusable.
var ErrNotConfigured = errors.New("content provider not configured")

// Provider is one content source. Fetch returns unresolved submissions;
// the event manager dedupes and persists them.
type Provider interface {
	Key() string
	Interval() time.Duration
	WebhookOnly() bool
	Validate() error
	Fetch(ctx context.Context) ([]*media.Item, error)
}

// base carries what all providers share.
type base struct {
	cfg config.ContentSourceConfig
	key string
}

func (b *base) Key() string { return b.key }

func (b *base) Interval() time.Duration {
	seconds := b.cfg.UpdateIntervalSeconds
	if seconds <= 0 {
		seconds = 900
	}
	return time.Duration(seconds) * time.Second
}

func (b *base) WebhookOnly() bool { return b.cfg.Webhook }

func (b *base) Validate() error {
	if !b.cfg.Enabled {
		return fmt.Errorf("%w: %s disabled", ErrNotConfigured, b.key)
	}
	if b.cfg.URL == "" {
		return fmt.Errorf("%w: %s has no URL", ErrNotConfigured, b.key)
	}
	return nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("content API status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// submission builds an unresolved item from external ids. mediaType is the
// provider's notion ("movie" or "tv"/"show").
func submission(mediaType, imdbID, tmdbID, tvdbID, requestedBy string) *media.Item {
	item := &media.Item{
		RequestedBy: requestedBy,
		RequestedAt: time.Now(),
	}
	switch mediaType {
	case "movie":
		item.Type = media.TypeMovie
	default:
		item.Type = media.TypeShow
	}
	if imdbID != "" {
		item.ImdbID = &imdbID
	}
	if tmdbID != "" && tmdbID != "0" {
		item.TmdbID = &tmdbID
	}
	if tvdbID != "" && tvdbID != "0" {
		item.TvdbID = &tvdbID
	}
	return item
}
