// Package realdebrid implements the Real-Debrid provider.
package realdebrid

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

const baseURL = "https://api.real-debrid.com/rest/1.0"

// Client is a Real-Debrid API client with a per-host circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cfg        config.ProviderConfig
	logger     zerolog.Logger
}

// New creates a Real-Debrid client.
func New(cfg config.ProviderConfig, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "realdebrid").Logger()
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "realdebrid",
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
func (c *Client) Name() string { return "realdebrid" }

// IsConfigured implements types.Provider.
func (c *Client) IsConfigured() bool { return c.cfg.Enabled && c.cfg.APIKey != "" }

// InstantAvailability implements types.Provider.
func (c *Client) InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	body, err := c.do(ctx, http.MethodGet, "/torrents/instantAvailability/"+strings.Join(hashes, "/"), nil)
	if err != nil {
		return nil, err
	}

	var response map[string]json.RawMessage
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode availability: %w", err)
	}

	out := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		raw, ok := response[hash]
		// An empty object means the hash is known but not cached.
		out[hash] = ok && len(raw) > 2 && string(raw) != "[]"
	}
	return out, nil
}

// AddMagnet implements types.Provider.
func (c *Client) AddMagnet(ctx context.Context, infohash string) (string, error) {
	form := url.Values{"magnet": {"magnet:?xt=urn:btih:" + infohash}}
	body, err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	var response struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode addMagnet response: %w", err)
	}
	return response.ID, nil
}

// GetTorrentInfo implements types.Provider.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*types.TorrentInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/torrents/info/"+id, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		ID     string `json:"id"`
		Hash   string `json:"hash"`
		Name   string `json:"filename"`
		Status string `json:"status"`
		Files  []struct {
			ID   int    `json:"id"`
			Path string `json:"path"`
			Size int64  `json:"bytes"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode torrent info: %w", err)
	}

	info := &types.TorrentInfo{
		ID:     response.ID,
		Hash:   strings.ToLower(response.Hash),
		Name:   response.Name,
		Status: response.Status,
	}
	for _, f := range response.Files {
		info.Files = append(info.Files, types.TorrentFile{ID: f.ID, Path: f.Path, Size: f.Size})
	}
	return info, nil
}

// SelectFiles implements types.Provider.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	ids := make([]string, len(fileIDs))
	for i, fid := range fileIDs {
		ids[i] = strconv.Itoa(fid)
	}
	form := url.Values{"files": {strings.Join(ids, ",")}}
	_, err := c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+id, strings.NewReader(form.Encode()))
	return err
}

// GetTorrents implements types.Provider.
func (c *Client) GetTorrents(ctx context.Context) ([]types.TorrentInfo, error) {
	body, err := c.do(ctx, http.MethodGet, "/torrents", nil)
	if err != nil {
		return nil, err
	}

	var response []struct {
		ID     string `json:"id"`
		Hash   string `json:"hash"`
		Name   string `json:"filename"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode torrent list: %w", err)
	}

	out := make([]types.TorrentInfo, 0, len(response))
	for _, t := range response {
		out = append(out, types.TorrentInfo{ID: t.ID, Hash: strings.ToLower(t.Hash), Name: t.Name, Status: t.Status})
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
