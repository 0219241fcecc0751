package events

import (
	"context"
	"testing"
	"time"

	"github.com/harborr/harborr/internal/media"
	"github.com/harborr/harborr/internal/testutil"
)

func testManager(t *testing.T) (*Manager, *media.Store, func()) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	store := media.NewStore(tdb.Conn, tdb.Logger)
	return NewManager(store, tdb.Logger, nil, true), store, tdb.Close
}

func createMovie(t *testing.T, store *media.Store, imdb string) *media.Item {
	t.Helper()
	item := &media.Item{Type: media.TypeMovie, ImdbID: &imdb, Title: "Movie " + imdb}
	if err := store.Create(context.Background(), item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return item
}

func TestManager_AddEventDedupesQueuedItem(t *testing.T) {
	m, store, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	item := createMovie(t, store, "tt0000001")

	ok, err := m.AddEvent(ctx, NewItemEvent(item.ID, ServiceManual, time.Now(), ""))
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	if !ok {
		t.Fatal("AddEvent() = false, want the first event accepted")
	}

	ok, err = m.AddEvent(ctx, NewItemEvent(item.ID, ServiceScheduler, time.Now(), ""))
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	if ok {
		t.Error("AddEvent() = true for an already-queued item, want rejected")
	}
	if len(m.QueueSnapshot()) != 1 {
		t.Errorf("queue depth = %d, want 1", len(m.QueueSnapshot()))
	}
}

func TestManager_AddEventDedupesDescendants(t *testing.T) {
	m, store, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	tvdb := "100"
	show := &media.Item{
		Type: media.TypeShow, TvdbID: &tvdb, Title: "Show",
		Children: []*media.Item{
			{Type: media.TypeSeason, Number: 1, Children: []*media.Item{
				{Type: media.TypeEpisode, Number: 1},
			}},
		},
	}
	if err := store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	episode := show.Children[0].Children[0]

	ok, err := m.AddEvent(ctx, NewItemEvent(show.ID, ServiceManual, time.Now(), ""))
	if err != nil || !ok {
		t.Fatalf("AddEvent(show) = %v, %v, want accepted", ok, err)
	}

	// A descendant of a queued show is covered by the show's event.
	ok, err = m.AddEvent(ctx, NewItemEvent(episode.ID, ServiceScheduler, time.Now(), ""))
	if err != nil {
		t.Fatalf("AddEvent(episode) error = %v", err)
	}
	if ok {
		t.Error("AddEvent() = true for a descendant of a queued item, want rejected")
	}
}

func TestManager_AddEventBlockedByPausedAncestor(t *testing.T) {
	m, store, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	tvdb := "200"
	show := &media.Item{
		Type: media.TypeShow, TvdbID: &tvdb, Title: "Paused Show",
		Children: []*media.Item{
			{Type: media.TypeSeason, Number: 1, Children: []*media.Item{
				{Type: media.TypeEpisode, Number: 1},
			}},
		},
	}
	if err := store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Pause(ctx, show.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}

	episode := show.Children[0].Children[0]
	ok, err := m.AddEvent(ctx, NewItemEvent(episode.ID, ServiceScheduler, time.Now(), ""))
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	if ok {
		t.Error("AddEvent() = true under a paused ancestor, want rejected")
	}
}

func TestManager_AddEventDropsMissingItem(t *testing.T) {
	m, _, cleanup := testManager(t)
	defer cleanup()

	ok, err := m.AddEvent(context.Background(), NewItemEvent(9999, ServiceScheduler, time.Now(), ""))
	if err != nil {
		t.Fatalf("AddEvent() error = %v, want silent drop", err)
	}
	if ok {
		t.Error("AddEvent() = true for a missing item, want false")
	}
}

func TestManager_ContentDedupeOnExternalIDs(t *testing.T) {
	m, _, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	imdb := "tt0300001"
	first := &media.Item{Type: media.TypeMovie, ImdbID: &imdb, Title: "From requests"}
	ok, err := m.AddEvent(ctx, NewContentEvent(first, Service("requests")))
	if err != nil || !ok {
		t.Fatalf("AddEvent(content) = %v, %v, want accepted", ok, err)
	}

	// The same title arriving from another provider is one submission.
	second := &media.Item{Type: media.TypeMovie, ImdbID: &imdb, Title: "From watchlist"}
	ok, err = m.AddEvent(ctx, NewContentEvent(second, Service("watchlist")))
	if err != nil {
		t.Fatalf("AddEvent() error = %v", err)
	}
	if ok {
		t.Error("AddEvent() = true for matching external ids, want rejected")
	}

	// Different ids queue independently.
	other := "tt0300002"
	third := &media.Item{Type: media.TypeMovie, ImdbID: &other, Title: "Other"}
	ok, err = m.AddEvent(ctx, NewContentEvent(third, Service("watchlist")))
	if err != nil || !ok {
		t.Fatalf("AddEvent(other content) = %v, %v, want accepted", ok, err)
	}
}

func TestManager_CancelJobDropsQueuedSubtree(t *testing.T) {
	m, store, cleanup := testManager(t)
	defer cleanup()
	ctx := context.Background()

	tvdb := "300"
	show := &media.Item{
		Type: media.TypeShow, TvdbID: &tvdb, Title: "Cancellable",
		Children: []*media.Item{
			{Type: media.TypeSeason, Number: 1},
		},
	}
	if err := store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	season := show.Children[0]

	ok, err := m.AddEvent(ctx, NewItemEvent(season.ID, ServiceScheduler, time.Now(), ""))
	if err != nil || !ok {
		t.Fatalf("AddEvent(season) = %v, %v, want accepted", ok, err)
	}

	if err := m.CancelJob(ctx, show.ID); err != nil {
		t.Fatalf("CancelJob() error = %v", err)
	}
	if n := len(m.QueueSnapshot()); n != 0 {
		t.Errorf("queue depth after cancel = %d, want 0", n)
	}
}

type recordingWorker struct {
	name Service
	runs chan int64
}

func (w *recordingWorker) Name() Service { return w.name }

func (w *recordingWorker) Run(ctx context.Context, e *Event) ([]Result, error) {
	w.runs <- e.ItemID
	return nil, nil
}

func TestManager_DispatchesToRegisteredWorker(t *testing.T) {
	m, store, cleanup := testManager(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := &recordingWorker{name: ServiceIndexer, runs: make(chan int64, 1)}
	m.RegisterWorker(worker, 1)

	item := createMovie(t, store, "tt0400001")

	m.Start(ctx)
	defer m.Stop()

	if ok, err := m.AddEvent(ctx, NewItemEvent(item.ID, ServiceManual, time.Now(), "")); err != nil || !ok {
		t.Fatalf("AddEvent() = %v, %v, want accepted", ok, err)
	}

	select {
	case got := <-worker.runs:
		if got != item.ID {
			t.Errorf("worker ran item %d, want %d", got, item.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not run within 5s")
	}
}
