// Package postprocessor fetches subtitles for completed items that lack
// embedded ones.
package postprocessor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

// SubtitleProvider fetches subtitle payloads for a media file.
type SubtitleProvider interface {
	Fetch(ctx context.Context, mediaPath, language string) ([]byte, error)
}

// ErrNoSubtitles is returned by providers when nothing matches.
var ErrNoSubtitles = errors.New("no subtitles found")

// Service is the post-processing worker.
type Service struct {
	store    *media.Store
	provider SubtitleProvider
	cfg      config.PostProcessingConfig
	logger   zerolog.Logger
}

// NewService creates the post processor.
func NewService(store *media.Store, provider SubtitleProvider, cfg config.PostProcessingConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger.With().Str("component", "postprocessor").Logger(),
	}
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServicePostProcessor
}

// Run implements events.Worker. Terminal worker: nothing is yielded.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	if !s.cfg.SubtitlesEnabled {
		return nil, nil
	}

	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}
	if item.ParsedData != nil && item.ParsedData.SubtitlesEmbedded {
		return nil, nil
	}

	entries, err := s.store.EntriesForItem(ctx, item.ID, media.EntryMedia)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		for _, lang := range s.cfg.Languages {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := s.fetchOne(ctx, item.ID, entry.Path, lang); err != nil {
				if errors.Is(err, ErrNoSubtitles) {
					continue
				}
				s.logger.Warn().Err(err).Str("path", entry.Path).Str("lang", lang).Msg("subtitle fetch failed")
			}
		}
	}
	return nil, nil
}

func (s *Service) fetchOne(ctx context.Context, itemID int64, mediaPath, language string) error {
	payload, err := s.provider.Fetch(ctx, mediaPath, language)
	if err != nil {
		return err
	}

	subPath := subtitlePath(mediaPath, language)
	if err := os.WriteFile(subPath, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write subtitle: %w", err)
	}

	entry := &media.FilesystemEntry{
		Kind:        media.EntrySubtitle,
		Path:        subPath,
		FileSize:    int64(len(payload)),
		Language:    language,
		MediaItemID: &itemID,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil && !errors.Is(err, media.ErrDuplicate) {
		return err
	}

	s.logger.Info().Int64("itemId", itemID).Str("lang", language).Str("path", subPath).Msg("subtitle saved")
	return nil
}

// subtitlePath derives "<media>.<lang>.srt" next to the media file.
func subtitlePath(mediaPath, language string) string {
	base := strings.TrimSuffix(mediaPath, filepath.Ext(mediaPath))
	return fmt.Sprintf("%s.%s.srt", base, language)
}
