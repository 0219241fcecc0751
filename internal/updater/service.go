// Package updater flips symlinked files to available once the media server
// has picked them up.
package updater

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/mediaserver"
)

// Service is the updater worker.
type Service struct {
	store     *media.Store
	refresher mediaserver.Refresher
	logger    zerolog.Logger
}

// NewService creates the updater.
func NewService(store *media.Store, refresher mediaserver.Refresher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		refresher: refresher,
		logger:    logger.With().Str("component", "updater").Logger(),
	}
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServiceUpdater
}

// Run implements events.Worker. Each pending entry's directory is refreshed
// at the media server; accepted entries become available in the VFS.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	entries, err := s.store.EntriesForItem(ctx, event.ItemID, media.EntryMedia)
	if err != nil {
		return nil, err
	}

	refreshed := 0
	for _, entry := range entries {
		if entry.AvailableInVFS {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.refresher.RefreshPath(ctx, filepath.Dir(entry.Path)) {
			s.logger.Warn().Str("path", entry.Path).Msg("media server refresh failed")
			continue
		}
		if err := s.store.MarkEntryAvailable(ctx, entry.ID); err != nil {
			return nil, err
		}
		refreshed++
	}

	if refreshed == 0 {
		return nil, nil
	}

	if _, err := s.store.RefreshState(ctx, event.ItemID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAncestors(ctx, event.ItemID); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("itemId", event.ItemID).Int("entries", refreshed).Msg("library updated")
	return []events.Result{{ItemID: event.ItemID, RunAt: time.Now()}}, nil
}
