// Package downloader picks a cached stream at the active debrid provider
// and records the chosen files on the item.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/downloader/types"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

// videoExtensions is the whitelist for selectable files.
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true,
	".webm": true, ".mov": true, ".ts": true, ".wmv": true,
}

// ErrNoUsableStream is returned when no candidate stream yields a valid
// file set.
var ErrNoUsableStream = errors.New("no usable stream")

// Service is the downloader worker.
type Service struct {
	store    *media.Store
	provider types.Provider
	cfg      config.DownloaderConfig
	logger   zerolog.Logger
}

// NewService picks the first configured provider from the ordered candidate
// list and returns the service. A nil provider set is a startup error.
func NewService(store *media.Store, providers []types.Provider, cfg config.DownloaderConfig, logger zerolog.Logger) (*Service, error) {
	log := logger.With().Str("component", "downloader").Logger()
	for _, p := range providers {
		if p.IsConfigured() {
			log.Info().Str("provider", p.Name()).Msg("debrid provider selected")
			return &Service{store: store, provider: p, cfg: cfg, logger: log}, nil
		}
	}
	return nil, errors.New("no debrid provider configured")
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServiceDownloader
}

// Run implements events.Worker. Candidate streams are tried in order; a
// stream that fails file selection is blacklisted and the next one is
// tried.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}

	streams, err := s.store.StreamsFor(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		s.logger.Debug().Int64("itemId", item.ID).Msg("no candidate streams")
		return nil, nil
	}

	hashes := make([]string, len(streams))
	for i, st := range streams {
		hashes[i] = st.Infohash
	}
	availability, err := s.provider.InstantAvailability(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("availability check failed: %w", err)
	}

	for _, stream := range streams {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !availability[stream.Infohash] {
			continue
		}

		files, err := s.tryStream(ctx, item, stream.Infohash)
		if errors.Is(err, types.ErrSelectionFailed) {
			s.logger.Info().Int64("itemId", item.ID).Str("hash", stream.Infohash).Msg("blacklisting stream after failed selection")
			if blErr := s.store.BlacklistHash(ctx, item.ID, stream.Infohash); blErr != nil {
				s.logger.Warn().Err(blErr).Msg("blacklist failed")
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		item.ActiveStream = &media.ActiveStream{Hash: stream.Infohash, Files: files}
		if err := s.store.Update(ctx, item); err != nil {
			return nil, err
		}
		if _, err := s.store.RefreshState(ctx, item.ID); err != nil {
			return nil, err
		}
		if err := s.store.UpdateAncestors(ctx, item.ID); err != nil {
			return nil, err
		}
		s.logger.Info().Int64("itemId", item.ID).Str("hash", stream.Infohash).Int("files", len(files)).Msg("stream downloaded")
		return []events.Result{{ItemID: item.ID, RunAt: time.Now()}}, nil
	}

	s.logger.Info().Int64("itemId", item.ID).Msg("no cached stream usable")
	return nil, nil
}

// tryStream registers the magnet and selects the wanted files. Returns
// types.ErrSelectionFailed when the container has no acceptable file.
func (s *Service) tryStream(ctx context.Context, item *media.Item, infohash string) ([]media.ChosenFile, error) {
	torrentID, err := s.provider.AddMagnet(ctx, infohash)
	if err != nil {
		return nil, fmt.Errorf("add magnet failed: %w", err)
	}

	info, err := s.provider.GetTorrentInfo(ctx, torrentID)
	if err != nil {
		return nil, fmt.Errorf("torrent info failed: %w", err)
	}

	wanted := s.selectFiles(item, info.Files)
	if len(wanted) == 0 {
		return nil, types.ErrSelectionFailed
	}

	ids := make([]int, len(wanted))
	for i, f := range wanted {
		ids[i] = f.ID
	}
	if err := s.provider.SelectFiles(ctx, torrentID, ids); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSelectionFailed, err)
	}

	chosen := make([]media.ChosenFile, len(wanted))
	for i, f := range wanted {
		chosen[i] = media.ChosenFile{Path: f.Path, Size: f.Size}
	}
	return chosen, nil
}

// selectFiles filters the container to video files within the per-type size
// range, largest first. Movies and episodes take the single best file.
func (s *Service) selectFiles(item *media.Item, files []types.TorrentFile) []types.TorrentFile {
	minSize, maxSize := s.sizeRange(item.Type)

	var candidates []types.TorrentFile
	for _, f := range files {
		if !videoExtensions[strings.ToLower(filepath.Ext(f.Path))] {
			continue
		}
		if f.Size < minSize {
			continue
		}
		if maxSize > 0 && f.Size > maxSize {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Size > candidates[j].Size })

	switch item.Type {
	case media.TypeMovie, media.TypeEpisode:
		return candidates[:1]
	default:
		return candidates
	}
}

func (s *Service) sizeRange(typ media.ItemType) (minSize, maxSize int64) {
	switch typ {
	case media.TypeMovie:
		return s.cfg.MovieMinBytes, s.cfg.MovieMaxBytes
	default:
		return s.cfg.EpisodeMinBytes, s.cfg.EpisodeMaxBytes
	}
}
