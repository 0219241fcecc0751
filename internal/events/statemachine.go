package events

import (
	"time"

	"github.com/harborr/harborr/internal/media"
)

// Route is the outcome of running the state machine over one item. When
// NextService is empty and Children is empty the item is terminal for now.
type Route struct {
	// Item is the item to act on, after any merge with an existing row.
	Item *media.Item

	// NextService is the executor that should process the item next.
	NextService Service

	// Children re-enter the state machine independently (fan-out from a
	// partially completed or ongoing show/season).
	Children []*media.Item

	// SubmitParent is set when a season arrived from a content emitter;
	// the parent show is the real submission unit.
	SubmitParent bool
}

// ProcessEvent routes an item to its next service. First match wins. The
// function is pure: it reads its arguments and the clock reference only.
func ProcessEvent(existing *media.Item, emitter Service, item *media.Item, postProcessingEnabled bool, now time.Time) Route {
	// Seasons are not top-level requests; a provider submitting one means
	// the show.
	if item.Type == media.TypeSeason && emitter.IsContent() {
		return Route{Item: item, SubmitParent: true}
	}

	// An existing row that was never indexed absorbs the incoming copy.
	if existing != nil && existing.IndexedAt == nil {
		mergeInto(existing, item)
		item = existing
	} else if existing != nil {
		item = existing
	}

	switch item.LastState {
	case media.StateRequested, media.StateUnknown:
		if existing != nil && existing.LastState == media.StateCompleted {
			return Route{Item: item}
		}
		return Route{Item: item, NextService: ServiceIndexer}

	case media.StateIndexed:
		return Route{Item: item, NextService: ServiceScraper}

	case media.StateScraped:
		return Route{Item: item, NextService: ServiceDownloader}

	case media.StateDownloaded:
		return Route{Item: item, NextService: ServiceSymlinker}

	case media.StateSymlinked:
		return Route{Item: item, NextService: ServiceUpdater}

	case media.StateCompleted:
		// Post-process on pipeline completion only; manual retries, provider
		// re-submissions and the post-processor itself do not loop back in.
		if postProcessingEnabled && emitter != ServiceManual && emitter != ServicePostProcessor && !emitter.IsContent() {
			return Route{Item: item, NextService: ServicePostProcessor}
		}
		return Route{Item: item}

	case media.StateOngoing, media.StatePartiallyCompleted:
		if item.Type == media.TypeShow || item.Type == media.TypeSeason {
			return Route{Item: item, Children: incompleteReleased(item, now)}
		}
		return Route{Item: item}

	default:
		// Failed, Paused, Unreleased: terminal until something external
		// (unpause, release monitor, retry sweep) re-submits.
		return Route{Item: item}
	}
}

// incompleteReleased returns the children that are released but not yet
// Completed, recursing through seasons so fan-out lands on leaves and
// partially filled seasons alike.
func incompleteReleased(item *media.Item, now time.Time) []*media.Item {
	var out []*media.Item
	for _, child := range item.Children {
		if child.LastState == media.StateCompleted {
			continue
		}
		if !child.Released(now) && child.Type != media.TypeSeason {
			continue
		}
		out = append(out, child)
	}
	return out
}

// mergeInto copies the incoming item's metadata and children onto an
// existing row that has not been indexed yet.
func mergeInto(existing, incoming *media.Item) {
	if existing.Title == "" {
		existing.Title = incoming.Title
	}
	if existing.Year == 0 {
		existing.Year = incoming.Year
	}
	if existing.ImdbID == nil {
		existing.ImdbID = incoming.ImdbID
	}
	if existing.TmdbID == nil {
		existing.TmdbID = incoming.TmdbID
	}
	if existing.TvdbID == nil {
		existing.TvdbID = incoming.TvdbID
	}
	if len(existing.Genres) == 0 {
		existing.Genres = incoming.Genres
	}
	if existing.AiredAt == nil {
		existing.AiredAt = incoming.AiredAt
	}
	if len(existing.Children) == 0 {
		existing.Children = incoming.Children
	}
}
