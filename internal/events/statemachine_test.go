package events

import (
	"testing"
	"time"

	"github.com/harborr/harborr/internal/media"
)

func TestProcessEvent_ForwardRouting(t *testing.T) {
	now := time.Now()

	tests := []struct {
		state media.State
		want  Service
	}{
		{media.StateRequested, ServiceIndexer},
		{media.StateUnknown, ServiceIndexer},
		{media.StateIndexed, ServiceScraper},
		{media.StateScraped, ServiceDownloader},
		{media.StateDownloaded, ServiceSymlinker},
		{media.StateSymlinked, ServiceUpdater},
		{media.StateFailed, ""},
		{media.StatePaused, ""},
		{media.StateUnreleased, ""},
	}

	for _, tt := range tests {
		item := &media.Item{ID: 1, Type: media.TypeMovie, LastState: tt.state}
		route := ProcessEvent(nil, ServiceScheduler, item, true, now)
		if route.NextService != tt.want {
			t.Errorf("ProcessEvent(%s) NextService = %q, want %q", tt.state, route.NextService, tt.want)
		}
	}
}

func TestProcessEvent_CompletedRoutesToPostProcessor(t *testing.T) {
	now := time.Now()
	item := &media.Item{ID: 1, Type: media.TypeMovie, LastState: media.StateCompleted}

	route := ProcessEvent(nil, ServiceUpdater, item, true, now)
	if route.NextService != ServicePostProcessor {
		t.Errorf("NextService = %q, want postprocessor", route.NextService)
	}

	// Disabled post-processing means Completed is terminal.
	route = ProcessEvent(nil, ServiceUpdater, item, false, now)
	if route.NextService != "" {
		t.Errorf("NextService = %q, want terminal with post-processing disabled", route.NextService)
	}

	// The post-processor's own completion must not loop.
	route = ProcessEvent(nil, ServicePostProcessor, item, true, now)
	if route.NextService != "" {
		t.Errorf("NextService = %q, want terminal for postprocessor emitter", route.NextService)
	}

	// Manual events skip post-processing too.
	route = ProcessEvent(nil, ServiceManual, item, true, now)
	if route.NextService != "" {
		t.Errorf("NextService = %q, want terminal for manual emitter", route.NextService)
	}
}

func TestProcessEvent_SeasonFromContentSubmitsParent(t *testing.T) {
	item := &media.Item{ID: 5, Type: media.TypeSeason, LastState: media.StateRequested}

	route := ProcessEvent(nil, Service("watchlist"), item, true, time.Now())
	if !route.SubmitParent {
		t.Error("SubmitParent = false, want true for a season from a content emitter")
	}

	// A season from a core service is processed as itself.
	route = ProcessEvent(nil, ServiceScheduler, item, true, time.Now())
	if route.SubmitParent {
		t.Error("SubmitParent = true, want false for a core emitter")
	}
}

func TestProcessEvent_ExistingCompletedShortCircuits(t *testing.T) {
	indexed := time.Now().Add(-time.Hour)
	existing := &media.Item{ID: 1, Type: media.TypeMovie, LastState: media.StateCompleted, IndexedAt: &indexed}
	incoming := &media.Item{Type: media.TypeMovie, LastState: media.StateRequested}

	route := ProcessEvent(existing, Service("requests"), incoming, true, time.Now())
	if route.NextService != "" {
		t.Errorf("NextService = %q, want terminal for a re-request of a completed item", route.NextService)
	}
}

func TestProcessEvent_MergesIntoUnindexedExisting(t *testing.T) {
	imdb := "tt0133093"
	existing := &media.Item{ID: 9, Type: media.TypeMovie, LastState: media.StateRequested}
	incoming := &media.Item{Type: media.TypeMovie, LastState: media.StateRequested, Title: "The Matrix", Year: 1999, ImdbID: &imdb}

	route := ProcessEvent(existing, Service("requests"), incoming, true, time.Now())
	if route.Item != existing {
		t.Fatal("route.Item is not the existing row")
	}
	if existing.Title != "The Matrix" || existing.Year != 1999 {
		t.Errorf("merge did not fill metadata: title=%q year=%d", existing.Title, existing.Year)
	}
	if existing.ImdbID == nil || *existing.ImdbID != imdb {
		t.Error("merge did not fill imdb id")
	}
	if route.NextService != ServiceIndexer {
		t.Errorf("NextService = %q, want indexer", route.NextService)
	}
}

func TestProcessEvent_OngoingShowFansOut(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	show := &media.Item{
		ID:        1,
		Type:      media.TypeShow,
		LastState: media.StateOngoing,
		Children: []*media.Item{
			{ID: 2, Type: media.TypeSeason, LastState: media.StateCompleted},
			{ID: 3, Type: media.TypeSeason, LastState: media.StatePartiallyCompleted},
			{ID: 4, Type: media.TypeEpisode, LastState: media.StateIndexed, AiredAt: &past},
			{ID: 5, Type: media.TypeEpisode, LastState: media.StateUnreleased, AiredAt: &future},
		},
	}

	route := ProcessEvent(nil, ServiceScheduler, show, true, now)
	if route.NextService != "" {
		t.Errorf("NextService = %q, want fan-out only", route.NextService)
	}

	got := make(map[int64]bool)
	for _, c := range route.Children {
		got[c.ID] = true
	}
	if got[2] {
		t.Error("completed season included in fan-out")
	}
	if !got[3] {
		t.Error("partially completed season missing from fan-out")
	}
	if !got[4] {
		t.Error("released incomplete episode missing from fan-out")
	}
	if got[5] {
		t.Error("unreleased episode included in fan-out")
	}
}
