package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborr/harborr/internal/testutil"
)

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return NewStore(tdb.Conn, tdb.Logger), tdb.Close
}

func TestStore_CreateAndGet(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	imdb := "tt0133093"
	aired := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	item := &Item{
		Type:        TypeMovie,
		ImdbID:      &imdb,
		Title:       "The Matrix",
		Year:        1999,
		Genres:      []string{"action", "sci-fi"},
		RequestedBy: "test",
		AiredAt:     &aired,
	}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if item.ID == 0 {
		t.Fatal("Create() did not set the item id")
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "The Matrix" || got.Year != 1999 {
		t.Errorf("GetByID() = %q/%d, want The Matrix/1999", got.Title, got.Year)
	}
	if got.LastState != StateRequested {
		t.Errorf("LastState = %q, want Requested default", got.LastState)
	}
	if got.ImdbID == nil || *got.ImdbID != imdb {
		t.Error("imdb id not round-tripped")
	}
	if len(got.Genres) != 2 {
		t.Errorf("Genres = %v, want 2 entries", got.Genres)
	}
	if got.AiredAt == nil {
		t.Error("aired_at not round-tripped")
	}
}

func TestStore_CreateDuplicateExternalID(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	imdb := "tt0133093"
	if err := store.Create(ctx, &Item{Type: TypeMovie, ImdbID: &imdb, Title: "First"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := store.Create(ctx, &Item{Type: TypeMovie, ImdbID: &imdb, Title: "Second"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("Create() duplicate error = %v, want ErrDuplicate", err)
	}

	// Same external id under a different type is a distinct item.
	if err := store.Create(ctx, &Item{Type: TypeShow, ImdbID: &imdb, Title: "Show"}); err != nil {
		t.Fatalf("Create() show with movie's imdb id error = %v", err)
	}
}

func TestStore_GetByExternalID(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	tvdb := "81189"
	if err := store.Create(ctx, &Item{Type: TypeShow, TvdbID: &tvdb, Title: "Breaking Bad"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := store.GetByExternalID(ctx, TypeShow, "", "", tvdb)
	if err != nil {
		t.Fatalf("GetByExternalID() error = %v", err)
	}
	if got.Title != "Breaking Bad" {
		t.Errorf("Title = %q, want Breaking Bad", got.Title)
	}

	if _, err := store.GetByExternalID(ctx, TypeMovie, "", "", tvdb); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByExternalID() wrong type error = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByExternalID(ctx, TypeShow, "", "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByExternalID() no ids error = %v, want ErrNotFound", err)
	}
}

func createShowTree(t *testing.T, store *Store) *Item {
	t.Helper()
	tvdb := "81189"
	show := &Item{
		Type:   TypeShow,
		TvdbID: &tvdb,
		Title:  "Breaking Bad",
		Children: []*Item{
			{
				Type: TypeSeason, Number: 1,
				Children: []*Item{
					{Type: TypeEpisode, Number: 1, Title: "Pilot"},
					{Type: TypeEpisode, Number: 2, Title: "Cat's in the Bag..."},
				},
			},
			{
				Type: TypeSeason, Number: 2,
				Children: []*Item{
					{Type: TypeEpisode, Number: 1, Title: "Seven Thirty-Seven"},
				},
			},
		},
	}
	if err := store.Create(context.Background(), show); err != nil {
		t.Fatalf("Create() tree error = %v", err)
	}
	return show
}

func TestStore_TreeQueries(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	show := createShowTree(t, store)

	self, descendants, err := store.GetItemIDs(ctx, show.ID)
	if err != nil {
		t.Fatalf("GetItemIDs() error = %v", err)
	}
	if self != show.ID {
		t.Errorf("self = %d, want %d", self, show.ID)
	}
	if len(descendants) != 5 {
		t.Errorf("descendants = %d, want 5 (2 seasons + 3 episodes)", len(descendants))
	}

	episode := show.Children[0].Children[0]
	states, err := store.AncestorStates(ctx, episode.ID)
	if err != nil {
		t.Fatalf("AncestorStates() error = %v", err)
	}
	if len(states) != 2 {
		t.Errorf("AncestorStates() = %d entries, want 2 (season, show)", len(states))
	}

	tree, err := store.LoadTree(ctx, show.ID)
	if err != nil {
		t.Fatalf("LoadTree() error = %v", err)
	}
	if len(tree.Children) != 2 {
		t.Fatalf("LoadTree() seasons = %d, want 2", len(tree.Children))
	}
	if len(tree.Children[0].Children) != 2 {
		t.Errorf("LoadTree() season 1 episodes = %d, want 2", len(tree.Children[0].Children))
	}
	if tree.Children[0].Number != 1 || tree.Children[1].Number != 2 {
		t.Error("children not ordered by number")
	}
}

func TestStore_DeleteCascade(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	show := createShowTree(t, store)
	episode := show.Children[0].Children[0]

	if err := store.DeleteCascade(ctx, show.ID); err != nil {
		t.Fatalf("DeleteCascade() error = %v", err)
	}
	if _, err := store.GetByID(ctx, episode.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after cascade = %v, want ErrNotFound", err)
	}
	if err := store.DeleteCascade(ctx, show.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteCascade() again = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateRoundTrip(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	item := &Item{Type: TypeMovie, Title: "Before"}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	item.Title = "After"
	item.IndexedAt = &now
	item.LastState = StateIndexed
	item.ActiveStream = &ActiveStream{Hash: "abc", Files: []ChosenFile{{Path: "a.mkv", Size: 123}}}
	item.ReleaseData = ReleaseData{NextAired: "2026-09-01", AirsDays: map[string]bool{"monday": true}, AirsTime: "20:00"}
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "After" || got.LastState != StateIndexed || got.IndexedAt == nil {
		t.Error("metadata columns not updated")
	}
	if got.ActiveStream == nil || got.ActiveStream.Hash != "abc" || len(got.ActiveStream.Files) != 1 {
		t.Error("active stream not round-tripped")
	}
	if got.ReleaseData.NextAired != "2026-09-01" || !got.ReleaseData.AirsDays["monday"] {
		t.Error("release data not round-tripped")
	}
}

func TestStore_RetryLibrary(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	done := &Item{Type: TypeMovie, Title: "Done", LastState: StateCompleted}
	pending := &Item{Type: TypeMovie, Title: "Pending", LastState: StateIndexed}
	for _, it := range []*Item{done, pending} {
		if err := store.Create(ctx, it); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	// Children never show up in the retry sweep.
	createShowTree(t, store)

	ids, err := store.RetryLibrary(ctx)
	if err != nil {
		t.Fatalf("RetryLibrary() error = %v", err)
	}
	for _, id := range ids {
		if id == done.ID {
			t.Error("completed item included in retry sweep")
		}
	}
	found := false
	for _, id := range ids {
		if id == pending.ID {
			found = true
		}
	}
	if !found {
		t.Error("pending movie missing from retry sweep")
	}
}
