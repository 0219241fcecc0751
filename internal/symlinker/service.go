// Package symlinker places downloaded files into the typed library tree as
// symlinks against the debrid mount.
package symlinker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

// Source resolution retries: the debrid mount can lag behind selection.
const (
	resolveAttempts = 6
	resolveDelay    = 5 * time.Second
)

// ErrSourceMissing is returned when the mount never exposes the chosen file.
var ErrSourceMissing = errors.New("source file not present in mount")

// Service is the symlinker worker.
type Service struct {
	store       *media.Store
	cfg         config.LibraryConfig
	logger      zerolog.Logger
	pathCache   *fifoCache
	folderCache *fifoCache
}

// NewService creates the symlinker.
func NewService(store *media.Store, cfg config.LibraryConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		cfg:         cfg,
		logger:      logger.With().Str("component", "symlinker").Logger(),
		pathCache:   newFifoCache(512),
		folderCache: newFifoCache(512),
	}
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServiceSymlinker
}

// Run implements events.Worker. Leaves with an active stream and no library
// entry are linked in fixed-size batches over a bounded pool.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}

	leaves, err := s.collectLinkable(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(leaves) == 0 {
		return nil, nil
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	workers := s.cfg.MaxWorkers
	if workers <= 0 {
		workers = 4
	}

	var results []events.Result
	for start := 0; start < len(leaves); start += batchSize {
		end := start + batchSize
		if end > len(leaves) {
			end = len(leaves)
		}
		batch := leaves[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		linked := make([]bool, len(batch))
		for i, leaf := range batch {
			i, leaf := i, leaf
			g.Go(func() error {
				if err := s.linkOne(gctx, leaf); err != nil {
					s.logger.Warn().Err(err).Int64("itemId", leaf.ID).Msg("symlink failed")
					return nil
				}
				linked[i] = true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
		for i, ok := range linked {
			if ok {
				results = append(results, events.Result{ItemID: batch[i].ID, RunAt: time.Now()})
			}
		}
	}
	return results, nil
}

// collectLinkable returns the item itself for leaves, or every descendant
// leaf holding an active stream without a library entry.
func (s *Service) collectLinkable(ctx context.Context, item *media.Item) ([]*media.Item, error) {
	if item.Type == media.TypeMovie || item.Type == media.TypeEpisode {
		ok, err := s.needsLink(ctx, item)
		if err != nil || !ok {
			return nil, err
		}
		return []*media.Item{item}, nil
	}

	_, descendants, err := s.store.GetItemIDs(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	var leaves []*media.Item
	for _, id := range descendants {
		child, err := s.store.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if child.Type != media.TypeMovie && child.Type != media.TypeEpisode {
			continue
		}
		ok, err := s.needsLink(ctx, child)
		if err != nil {
			return nil, err
		}
		if ok {
			leaves = append(leaves, child)
		}
	}
	return leaves, nil
}

func (s *Service) needsLink(ctx context.Context, item *media.Item) (bool, error) {
	if item.ActiveStream == nil || len(item.ActiveStream.Files) == 0 {
		return false, nil
	}
	entries, err := s.store.EntriesForItem(ctx, item.ID, media.EntryMedia)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// linkOne resolves the source in the mount, builds the destination under
// the typed tree, replaces any existing link and registers the entry.
func (s *Service) linkOne(ctx context.Context, item *media.Item) error {
	file := item.ActiveStream.Files[0]

	source, err := s.resolveSource(ctx, file.Path)
	if err != nil {
		return err
	}

	dest, err := s.destinationPath(ctx, item, filepath.Base(file.Path))
	if err != nil {
		return err
	}

	dir := filepath.Dir(dest)
	if _, ok := s.folderCache.get(dir); !ok {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create library folder: %w", err)
		}
		s.folderCache.put(dir, dir)
	}

	// Replace a stale link from a previous run.
	if _, err := os.Lstat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("failed to remove existing link: %w", err)
		}
	}
	if err := os.Symlink(source, dest); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	target, err := os.Readlink(dest)
	if err != nil || target != source {
		return fmt.Errorf("symlink verification failed for %s", dest)
	}

	entry := &media.FilesystemEntry{
		Kind:        media.EntryMedia,
		Path:        dest,
		FileSize:    file.Size,
		MediaItemID: &item.ID,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil && !errors.Is(err, media.ErrDuplicate) {
		return err
	}
	if _, err := s.store.RefreshState(ctx, item.ID); err != nil {
		return err
	}
	if err := s.store.UpdateAncestors(ctx, item.ID); err != nil {
		return err
	}

	s.logger.Info().Int64("itemId", item.ID).Str("dest", dest).Msg("symlinked")
	return nil
}

// resolveSource waits for the mount to expose the file, within a bounded
// retry window.
func (s *Service) resolveSource(ctx context.Context, relPath string) (string, error) {
	if cached, ok := s.pathCache.get(relPath); ok {
		return cached, nil
	}

	candidate := filepath.Join(s.cfg.MountDir, relPath)
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			s.pathCache.put(relPath, candidate)
			return candidate, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(resolveDelay):
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSourceMissing, candidate)
}

// destinationPath builds the library path under the typed tree.
func (s *Service) destinationPath(ctx context.Context, item *media.Item, filename string) (string, error) {
	switch item.Type {
	case media.TypeMovie:
		category := "movies"
		if item.IsAnime {
			category = "anime_movies"
		}
		return filepath.Join(s.cfg.Root, category, itemFolder(item), filename), nil

	case media.TypeEpisode:
		show, season, err := s.resolveShow(ctx, item)
		if err != nil {
			return "", err
		}
		category := "shows"
		if show.IsAnime {
			category = "anime_shows"
		}
		return filepath.Join(s.cfg.Root, category, itemFolder(show),
			fmt.Sprintf("Season %02d", season), filename), nil

	default:
		return "", fmt.Errorf("cannot build destination for item type %s", item.Type)
	}
}

// itemFolder names a movie or show folder as "Title (Year) {imdb-id}" so
// media servers match the external id instead of guessing from the title.
func itemFolder(item *media.Item) string {
	folder := item.Title
	if item.Year > 0 {
		folder = fmt.Sprintf("%s (%d)", item.Title, item.Year)
	}
	if tag := externalIDTag(item); tag != "" {
		folder += " " + tag
	}
	return folder
}

func externalIDTag(item *media.Item) string {
	switch {
	case item.ImdbID != nil && *item.ImdbID != "":
		return fmt.Sprintf("{imdb-%s}", *item.ImdbID)
	case item.TmdbID != nil && *item.TmdbID != "":
		return fmt.Sprintf("{tmdb-%s}", *item.TmdbID)
	case item.TvdbID != nil && *item.TvdbID != "":
		return fmt.Sprintf("{tvdb-%s}", *item.TvdbID)
	}
	return ""
}

// resolveShow walks up from an episode to its season number and show.
func (s *Service) resolveShow(ctx context.Context, episode *media.Item) (*media.Item, int, error) {
	seasonNumber := 0
	current := episode
	for current.ParentID != nil {
		parent, err := s.store.GetByID(ctx, *current.ParentID)
		if err != nil {
			return nil, 0, err
		}
		switch parent.Type {
		case media.TypeSeason:
			seasonNumber = parent.Number
		case media.TypeShow:
			return parent, seasonNumber, nil
		}
		current = parent
	}
	return nil, 0, fmt.Errorf("episode %d has no show ancestor", episode.ID)
}
