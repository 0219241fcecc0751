// Package alldebrid implements the AllDebrid provider.
package alldebrid

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

const baseURL = "https://api.alldebrid.com/v4"

// Client is an AllDebrid API client with a per-host circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	cfg        config.ProviderConfig
	logger     zerolog.Logger
}

// New creates an AllDebrid client.
func New(cfg config.ProviderConfig, logger zerolog.Logger) *Client {
	log := logger.With().Str("component", "alldebrid").Logger()
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "alldebrid",
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
func (c *Client) Name() string { return "alldebrid" }

// IsConfigured implements types.Provider.
func (c *Client) IsConfigured() bool { return c.cfg.Enabled && c.cfg.APIKey != "" }

// InstantAvailability implements types.Provider.
func (c *Client) InstantAvailability(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	form := url.Values{}
	for _, hash := range hashes {
		form.Add("magnets[]", hash)
	}
	body, err := c.do(ctx, http.MethodPost, "/magnet/instant", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			Magnets []struct {
				Hash    string `json:"hash"`
				Instant bool   `json:"instant"`
			} `json:"magnets"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode instant check: %w", err)
	}

	out := make(map[string]bool, len(hashes))
	for _, m := range response.Data.Magnets {
		out[strings.ToLower(m.Hash)] = m.Instant
	}
	return out, nil
}

// AddMagnet implements types.Provider.
func (c *Client) AddMagnet(ctx context.Context, infohash string) (string, error) {
	form := url.Values{"magnets[]": {infohash}}
	body, err := c.do(ctx, http.MethodPost, "/magnet/upload", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	var response struct {
		Data struct {
			Magnets []struct {
				ID int64 `json:"id"`
			} `json:"magnets"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if len(response.Data.Magnets) == 0 {
		return "", types.ErrAPIError
	}
	return strconv.FormatInt(response.Data.Magnets[0].ID, 10), nil
}

// GetTorrentInfo implements types.Provider.
func (c *Client) GetTorrentInfo(ctx context.Context, id string) (*types.TorrentInfo, error) {
	form := url.Values{"id": {id}}
	body, err := c.do(ctx, http.MethodPost, "/magnet/status", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			Magnets struct {
				ID       int64  `json:"id"`
				Hash     string `json:"hash"`
				Filename string `json:"filename"`
				Status   string `json:"status"`
				Links    []struct {
					Filename string `json:"filename"`
					Size     int64  `json:"size"`
				} `json:"links"`
			} `json:"magnets"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode magnet status: %w", err)
	}

	m := response.Data.Magnets
	info := &types.TorrentInfo{
		ID:     strconv.FormatInt(m.ID, 10),
		Hash:   strings.ToLower(m.Hash),
		Name:   m.Filename,
		Status: m.Status,
	}
	for i, link := range m.Links {
		info.Files = append(info.Files, types.TorrentFile{ID: i, Path: link.Filename, Size: link.Size})
	}
	return info, nil
}

// SelectFiles implements types.Provider. AllDebrid materializes every file;
// selection is accepted for interface parity.
func (c *Client) SelectFiles(ctx context.Context, id string, fileIDs []int) error {
	return nil
}

// GetTorrents implements types.Provider.
func (c *Client) GetTorrents(ctx context.Context) ([]types.TorrentInfo, error) {
	body, err := c.do(ctx, http.MethodPost, "/magnet/status", nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Data struct {
			Magnets []struct {
				ID       int64  `json:"id"`
				Hash     string `json:"hash"`
				Filename string `json:"filename"`
				Status   string `json:"status"`
			} `json:"magnets"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode magnet list: %w", err)
	}

	out := make([]types.TorrentInfo, 0, len(response.Data.Magnets))
	for _, m := range response.Data.Magnets {
		out = append(out, types.TorrentInfo{
			ID:     strconv.FormatInt(m.ID, 10),
			Hash:   strings.ToLower(m.Hash),
			Name:   m.Filename,
			Status: m.Status,
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
