// Package mediaserver notifies the media library server about new files.
package mediaserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
)

// Refresher asks the media server to rescan a library path.
type Refresher interface {
	RefreshPath(ctx context.Context, path string) bool
}

// Client talks to a Plex-style section refresh API.
type Client struct {
	httpClient *http.Client
	cfg        config.MediaServerConfig
	logger     zerolog.Logger
}

// NewClient creates a media server client.
func NewClient(cfg config.MediaServerConfig, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		cfg:        cfg,
		logger:     logger.With().Str("component", "mediaserver").Logger(),
	}
}

// IsConfigured reports whether a server URL is set.
func (c *Client) IsConfigured() bool {
	return c.cfg.URL != ""
}

// RefreshPath implements Refresher. An unconfigured server reports success
// so the pipeline completes in mount-only setups.
func (c *Client) RefreshPath(ctx context.Context, path string) bool {
	if !c.IsConfigured() {
		return true
	}

	params := url.Values{"path": {path}, "X-Plex-Token": {c.cfg.Token}}
	endpoint := fmt.Sprintf("%s/library/sections/all/refresh?%s", c.cfg.URL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("refresh request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("refresh rejected")
		return false
	}
	c.logger.Debug().Str("path", path).Msg("library refresh requested")
	return true
}
