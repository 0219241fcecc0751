package media

import (
	"context"
	"testing"
	"time"
)

func setState(t *testing.T, store *Store, id int64, state State) {
	t.Helper()
	if err := store.UpdateState(context.Background(), id, state); err != nil {
		t.Fatalf("UpdateState(%d, %s) error = %v", id, state, err)
	}
}

func TestRefreshState_ShowDerivation(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	show := createShowTree(t, store)
	s1, s2 := show.Children[0], show.Children[1]

	// All seasons completed → show completed.
	setState(t, store, s1.ID, StateCompleted)
	setState(t, store, s2.ID, StateCompleted)
	state, err := store.RefreshState(ctx, show.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StateCompleted {
		t.Errorf("state = %s, want Completed", state)
	}

	// Mixed → partially completed.
	setState(t, store, s2.ID, StateScraped)
	state, err = store.RefreshState(ctx, show.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StatePartiallyCompleted {
		t.Errorf("state = %s, want PartiallyCompleted", state)
	}
}

func TestRefreshState_OngoingShow(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	past := time.Now().Add(-30 * 24 * time.Hour)
	future := time.Now().Add(7 * 24 * time.Hour)
	show := &Item{
		Type: TypeShow, Title: "Airing", AiredAt: &past,
		Children: []*Item{
			{Type: TypeSeason, Number: 1, AiredAt: &past, LastState: StateIndexed},
			{Type: TypeSeason, Number: 2, AiredAt: &future},
		},
	}
	if err := store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	state, err := store.RefreshState(ctx, show.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StateOngoing {
		t.Errorf("state = %s, want Ongoing (aired show with a future season)", state)
	}
}

func TestRefreshState_UnreleasedShow(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	future := time.Now().Add(60 * 24 * time.Hour)
	show := &Item{
		Type: TypeShow, Title: "Announced", AiredAt: &future,
		Children: []*Item{
			{Type: TypeSeason, Number: 1, AiredAt: &future},
		},
	}
	if err := store.Create(ctx, show); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	state, err := store.RefreshState(ctx, show.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StateUnreleased {
		t.Errorf("state = %s, want Unreleased", state)
	}
}

func TestRefreshState_LeafProgression(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	item := &Item{Type: TypeMovie, Title: "Leaf", AiredAt: &past}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	assertState := func(want State) {
		t.Helper()
		state, err := store.RefreshState(ctx, item.ID)
		if err != nil {
			t.Fatalf("RefreshState() error = %v", err)
		}
		if state != want {
			t.Errorf("state = %s, want %s", state, want)
		}
	}

	assertState(StateRequested)

	now := time.Now()
	item.IndexedAt = &now
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	assertState(StateIndexed)

	if err := store.MarkScraped(ctx, item.ID); err != nil {
		t.Fatalf("MarkScraped() error = %v", err)
	}
	item, _ = store.GetByID(ctx, item.ID)
	assertState(StateScraped)

	item.ActiveStream = &ActiveStream{Hash: "abc"}
	if err := store.Update(ctx, item); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	assertState(StateDownloaded)

	entry := &FilesystemEntry{Kind: EntryMedia, Path: "/library/movies/Leaf (2020)/leaf.mkv", MediaItemID: &item.ID}
	if err := store.CreateEntry(ctx, entry); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}
	assertState(StateSymlinked)

	if err := store.MarkEntryAvailable(ctx, entry.ID); err != nil {
		t.Fatalf("MarkEntryAvailable() error = %v", err)
	}
	assertState(StateCompleted)
}

func TestRefreshState_UnreleasedLeaf(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	future := time.Now().Add(30 * 24 * time.Hour)
	now := time.Now()
	item := &Item{Type: TypeMovie, Title: "Future", AiredAt: &future, IndexedAt: &now}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	state, err := store.RefreshState(ctx, item.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StateUnreleased {
		t.Errorf("state = %s, want Unreleased for an indexed future movie", state)
	}
}

func TestPauseUnpauseRoundTrip(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	now := time.Now()
	item := &Item{Type: TypeMovie, Title: "Pausable", AiredAt: &past, IndexedAt: &now}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.RefreshState(ctx, item.ID); err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}

	if err := store.Pause(ctx, item.ID); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	state, _, err := store.GetState(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != StatePaused {
		t.Fatalf("state = %s, want Paused", state)
	}

	// Paused is sticky under recomputation.
	state, err = store.RefreshState(ctx, item.ID)
	if err != nil {
		t.Fatalf("RefreshState() error = %v", err)
	}
	if state != StatePaused {
		t.Errorf("RefreshState() = %s, want Paused to stick", state)
	}

	state, err = store.Unpause(ctx, item.ID)
	if err != nil {
		t.Fatalf("Unpause() error = %v", err)
	}
	if state != StateIndexed {
		t.Errorf("Unpause() = %s, want the derived Indexed state back", state)
	}

	// Unpausing a non-paused item is a no-op.
	state, err = store.Unpause(ctx, item.ID)
	if err != nil {
		t.Fatalf("Unpause() again error = %v", err)
	}
	if state != StateIndexed {
		t.Errorf("Unpause() on non-paused = %s, want Indexed", state)
	}
}

func TestReset_ClearsProgress(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	now := time.Now()
	item := &Item{
		Type: TypeMovie, Title: "Resettable", AiredAt: &past, IndexedAt: &now,
		ActiveStream: &ActiveStream{Hash: "abc"}, LastState: StateDownloaded,
	}
	if err := store.Create(ctx, item); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.CreateEntry(ctx, &FilesystemEntry{Kind: EntryMedia, Path: "/library/x.mkv", MediaItemID: &item.ID}); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}

	if err := store.Reset(ctx, item.ID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.LastState != StateRequested {
		t.Errorf("LastState = %s, want Requested", got.LastState)
	}
	if got.IndexedAt != nil || got.ScrapedAt != nil || got.ActiveStream != nil || got.ScrapedTimes != 0 {
		t.Error("progress columns not cleared")
	}
	entries, err := store.EntriesForItem(ctx, item.ID, EntryMedia)
	if err != nil {
		t.Fatalf("EntriesForItem() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d after reset, want 0", len(entries))
	}
}

func TestReset_ShowTree(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	show := createShowTree(t, store)
	s1 := show.Children[0]
	e1 := s1.Children[0]
	setState(t, store, e1.ID, StateDownloaded)
	if err := store.CreateEntry(ctx, &FilesystemEntry{Kind: EntryMedia, Path: "/library/shows/x/e1.mkv", MediaItemID: &e1.ID}); err != nil {
		t.Fatalf("CreateEntry() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- store.Reset(ctx, show.ID) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Reset() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Reset() did not return")
	}

	for _, id := range []int64{show.ID, s1.ID, e1.ID} {
		state, _, err := store.GetState(ctx, id)
		if err != nil {
			t.Fatalf("GetState(%d) error = %v", id, err)
		}
		if state != StateRequested {
			t.Errorf("item %d state = %s, want Requested", id, state)
		}
	}
	entries, err := store.EntriesForItem(ctx, e1.ID, EntryMedia)
	if err != nil {
		t.Fatalf("EntriesForItem() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d after reset, want 0", len(entries))
	}
}

func TestUpdateAncestors(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	show := createShowTree(t, store)
	s2 := show.Children[1]
	e1 := s2.Children[0]

	// Completing season 2's only episode completes the season and leaves
	// the show partially completed.
	setState(t, store, e1.ID, StateCompleted)
	if err := store.UpdateAncestors(ctx, e1.ID); err != nil {
		t.Fatalf("UpdateAncestors() error = %v", err)
	}

	state, _, err := store.GetState(ctx, s2.ID)
	if err != nil {
		t.Fatalf("GetState(season) error = %v", err)
	}
	if state != StateCompleted {
		t.Errorf("season state = %s, want Completed", state)
	}
	state, _, err = store.GetState(ctx, show.ID)
	if err != nil {
		t.Fatalf("GetState(show) error = %v", err)
	}
	if state != StatePartiallyCompleted {
		t.Errorf("show state = %s, want PartiallyCompleted", state)
	}
}
