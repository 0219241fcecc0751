// Package torbox implements the TorBox provider.
package torbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/downloader/types"
)

const baseURL = "https://api.torbox.app/v1/api"

// Client is a TorBox API client with a per-host circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cfg        config.ProviderConfig
	logger     zerolog.Logger
}

// New creates a TorBox client.
func New(cfg config.ProviderConfig, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "torbox").Logger()
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "torbox",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
		cfg:        cfg,
		logger:     log,
	}
}

// Name implements types.Provider.
func (c *Client) Name() string { return "torbox" }

// IsConfigured implements types.Provider.
func (c *Client) IsConfigured() bool { return c.cfg.Enabled && c.cfg.APIKey != "" }

// InstantAvailability implements types.Provider.
func (c *Client) InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	params := url.Values{"hash": {strings.Join(hashes, ",")}, "format": {"list"}}
	body, err := c.do(ctx, http.MethodGet, "/torrents/checkcached?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data []struct {
			Hash string `json:"hash"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode cache check: %w", err)
	}

	cached := make(map[string]bool, len(response.Data))
	for _, entry := range response.Data {
		cached[strings.ToLower(entry.Hash)] = true
	}
	out := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		out[hash] = cached[hash]
	}
	return out, nil
}

// AddMagnet implements types.Provider.
func (c *Client) AddMagnet(ctx context.Context, infohash string) (string, error) {
	form := url.Values{"magnet": {"magnet:?xt=urn:btih:" + infohash}}
	body, err := c.do(ctx, http.MethodPost, "/torrents/createtorrent", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	var response struct {
		Data struct {
			TorrentID int64 `json:"torrent_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	return strconv.FormatInt(response.Data.TorrentID, 10), nil
}

// GetTorrentInfo implements types.Provider.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*types.TorrentInfo, error) {
	params := url.Values{"id": {id}}
	body, err := c.do(ctx, http.MethodGet, "/torrents/mylist?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			ID    int64  `json:"id"`
			Hash  string `json:"hash"`
			Name  string `json:"name"`
			State string `json:"download_state"`
			Files []struct {
				ID   int    `json:"id"`
				Name string `json:"name"`
				Size int64  `json:"size"`
			} `json:"files"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode torrent info: %w", err)
	}

	info := &types.TorrentInfo{
		ID:     strconv.FormatInt(response.Data.ID, 10),
		Hash:   strings.ToLower(response.Data.Hash),
		Name:   response.Data.Name,
		Status: response.Data.State,
	}
	for _, f := range response.Data.Files {
		info.Files = append(info.Files, types.TorrentFile{ID: f.ID, Path: f.Name, Size: f.Size})
	}
	return info, nil
}

// SelectFiles implements types.Provider. TorBox materializes all files on
// add, so selection is a no-op accepted for interface parity.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	return nil
}

// GetTorrents implements types.Provider.
func (c *Client) GetTorrents(ctx context.Context) ([]types.TorrentInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/torrents/mylist", nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data []struct {
			ID    int64  `json:"id"`
			Hash  string `json:"hash"`
			Name  string `json:"name"`
			State string `json:"download_state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode torrent list: %w", err)
	}

	out := make([]types.TorrentInfo, 0, len(response.Data))
	for _, t := range response.Data {
		out = append(out, types.TorrentInfo{
			ID:     strconv.FormatInt(t.ID, 10),
			Hash:   strings.ToLower(t.Hash),
			Name:   t.Name,
			Status: t.State,
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	if !c.IsConfigured() {
		return nil, types.ErrNotConfigured
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if method == http.MethodPost {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, types.ErrNotFound
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, types.ErrRateLimited
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("%w: status %d", types.ErrAPIError, resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return data, nil
	})
}
