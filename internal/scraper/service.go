package scraper

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/harborr/harborr/internal/config"
	"github.com/harborr/harborr/internal/events"
	"github.com/harborr/harborr/internal/media"
)

// Service is the scraper worker: it gathers candidate streams from the
// configured aggregators for items that pass the scrape gate.
type Service struct {
	store       *media.Store
	aggregators []Aggregator
	limiter     *rate.Limiter
	cfg         config.ScraperConfig
	logger      zerolog.Logger
}

// NewService creates the scraper service.
func NewService(store *media.Store, aggregators []Aggregator, cfg config.ScraperConfig, logger zerolog.Logger) *Service {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Service{
		store:       store,
		aggregators: aggregators,
		limiter:     rate.NewLimiter(rate.Limit(perSecond), 1),
		cfg:         cfg,
		logger:      logger.With().Str("component", "scraper").Logger(),
	}
}

// Name implements events.Worker.
func (s *Service) Name() events.Service {
	return events.ServiceScraper
}

// Run implements events.Worker.
func (s *Service) Run(ctx context.Context, event *events.Event) ([]events.Result, error) {
	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return nil, err
	}

	if !s.CanWeScrape(item, time.Now()) {
		s.logger.Debug().Int64("itemId", item.ID).Msg("scrape gate closed")
		return nil, nil
	}

	target, err := s.resolveTarget(ctx, item)
	if err != nil {
		return nil, err
	}

	// Total budget across all aggregators.
	budget := time.Duration(s.cfg.BudgetSeconds) * time.Second
	if budget <= 0 {
		budget = 60 * time.Second
	}
	scrapeCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	found := s.scrapeAll(scrapeCtx, target)

	if err := s.store.MarkScraped(ctx, item.ID); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		s.logger.Info().Int64("itemId", item.ID).Msg("no streams found")
		return nil, nil
	}

	streams := make([]media.Stream, 0, len(found))
	for hash, title := range found {
		streams = append(streams, media.Stream{Infohash: hash, RawTitle: title})
	}
	if err := s.store.AddStreams(ctx, item.ID, streams); err != nil {
		return nil, err
	}
	if _, err := s.store.RefreshState(ctx, item.ID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAncestors(ctx, item.ID); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("itemId", item.ID).Int("streams", len(streams)).Msg("item scraped")
	return []events.Result{{ItemID: item.ID, RunAt: time.Now()}}, nil
}

// scrapeAll queries every aggregator, merging results. One failing
// aggregator never sinks the scrape.
func (s *Service) scrapeAll(ctx context.Context, target Target) map[string]string {
	perCall := time.Duration(s.cfg.TimeoutSeconds) * time.Second
	if perCall <= 0 {
		perCall = 15 * time.Second
	}

	found := make(map[string]string)
	for _, agg := range s.aggregators {
		if err := s.limiter.Wait(ctx); err != nil {
			return found
		}

		callCtx, cancel := context.WithTimeout(ctx, perCall)
		results, err := agg.Scrape(callCtx, target)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Str("aggregator", agg.Name()).Int64("itemId", target.Item.ID).Msg("aggregator scrape failed")
			continue
		}
		for hash, title := range results {
			if _, ok := found[hash]; !ok {
				found[hash] = title
			}
		}
	}
	return found
}

// CanWeScrape gates scraping: released items only, bounded attempts, and an
// exponential backoff window between attempts.
func (s *Service) CanWeScrape(item *media.Item, now time.Time) bool {
	if !item.Released(now) {
		return false
	}
	if s.cfg.MaxScrapeTimes > 0 && item.ScrapedTimes >= s.cfg.MaxScrapeTimes {
		return false
	}
	if item.ScrapedAt != nil {
		base := s.cfg.BackoffBaseHours
		if base <= 0 {
			base = 0.5
		}
		window := time.Duration(base * math.Pow(2, float64(item.ScrapedTimes)) * float64(time.Hour))
		if now.Before(item.ScrapedAt.Add(window)) {
			return false
		}
	}
	return true
}

// resolveTarget walks up the tree to collect the show-level ids episode
// scrapes need.
func (s *Service) resolveTarget(ctx context.Context, item *media.Item) (Target, error) {
	target := Target{Item: item}
	if item.ImdbID != nil {
		target.ImdbID = *item.ImdbID
	}

	switch item.Type {
	case media.TypeMovie, media.TypeShow:
		target.ShowTitle = item.Title
		return target, nil
	}

	current := item
	for current.ParentID != nil {
		parent, err := s.store.GetByID(ctx, *current.ParentID)
		if err != nil {
			return Target{}, fmt.Errorf("failed to resolve ancestor of item %d: %w", item.ID, err)
		}
		switch parent.Type {
		case media.TypeSeason:
			target.Season = parent.Number
		case media.TypeShow:
			target.ShowTitle = parent.Title
			if parent.ImdbID != nil {
				target.ImdbID = *parent.ImdbID
			}
		}
		current = parent
	}

	if item.Type == media.TypeEpisode {
		target.Episode = item.Number
	} else if item.Type == media.TypeSeason {
		target.Season = item.Number
	}
	return target, nil
}
