package postprocessor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// defaultSubtitleURL is an OpenSubtitles-style search-and-download API.
const defaultSubtitleURL = "https://api.subsource.example/v1"

// HTTPProvider fetches subtitles over a simple search API keyed by the
// media filename.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

// NewHTTPProvider creates the default subtitle provider. An empty baseURL
// falls back to the built-in endpoint.
func NewHTTPProvider(baseURL string, logger zerolog.Logger) *HTTPProvider {
	if baseURL == "" {
		baseURL = defaultSubtitleURL
	}
	return &HTTPProvider{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		logger:     logger.With().Str("component", "subtitles").Logger(),
	}
}

// Fetch implements SubtitleProvider.
func (p *HTTPProvider) Fetch(ctx context.Context, mediaPath, language string) ([]byte, error) {
	params := url.Values{
		"filename": {filepath.Base(mediaPath)},
		"language": {language},
	}
	endpoint := fmt.Sprintf("%s/download?%s", p.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoSubtitles
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subtitle API status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read subtitle payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, ErrNoSubtitles
	}
	return payload, nil
}
