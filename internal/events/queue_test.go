package events

import (
	"testing"
	"time"

	"github.com/harborr/harborr/internal/media"
)

func TestQueue_PopPrefersLaterStates(t *testing.T) {
	now := time.Now()
	q := &Queue{}

	q.Push(NewItemEvent(1, ServiceScheduler, now.Add(-time.Minute), media.StateRequested))
	q.Push(NewItemEvent(2, ServiceScheduler, now.Add(-time.Minute), media.StateDownloaded))
	q.Push(NewItemEvent(3, ServiceScheduler, now.Add(-time.Minute), media.StateIndexed))

	e, err := q.Pop(now)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if e.ItemID != 2 {
		t.Errorf("Pop() ItemID = %d, want 2 (Downloaded outranks Indexed and Requested)", e.ItemID)
	}

	e, err = q.Pop(now)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if e.ItemID != 3 {
		t.Errorf("Pop() ItemID = %d, want 3", e.ItemID)
	}
}

func TestQueue_PopTieBreaksOnRunAt(t *testing.T) {
	now := time.Now()
	q := &Queue{}

	q.Push(NewItemEvent(1, ServiceScheduler, now.Add(-time.Minute), media.StateScraped))
	q.Push(NewItemEvent(2, ServiceScheduler, now.Add(-2*time.Minute), media.StateScraped))

	e, err := q.Pop(now)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if e.ItemID != 2 {
		t.Errorf("Pop() ItemID = %d, want 2 (earlier run_at wins within a state)", e.ItemID)
	}
}

func TestQueue_PopSkipsFutureEvents(t *testing.T) {
	now := time.Now()
	q := &Queue{}

	q.Push(NewItemEvent(1, ServiceScheduler, now.Add(time.Hour), media.StateCompleted))

	if _, err := q.Pop(now); err != ErrEmpty {
		t.Fatalf("Pop() error = %v, want ErrEmpty", err)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (future event stays queued)", q.Len())
	}

	e, err := q.Pop(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("Pop() after run_at error = %v", err)
	}
	if e.ItemID != 1 {
		t.Errorf("Pop() ItemID = %d, want 1", e.ItemID)
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := &Queue{}
	if _, err := q.Pop(time.Now()); err != ErrEmpty {
		t.Fatalf("Pop() error = %v, want ErrEmpty", err)
	}
}

func TestQueue_Remove(t *testing.T) {
	now := time.Now()
	q := &Queue{}
	q.Push(NewItemEvent(1, ServiceScheduler, now, media.StateIndexed))
	q.Push(NewItemEvent(2, ServiceScheduler, now, media.StateIndexed))
	q.Push(NewItemEvent(1, ServiceManual, now, media.StateIndexed))

	removed := q.Remove(func(e *Event) bool { return e.ItemID == 1 })
	if removed != 2 {
		t.Errorf("Remove() = %d, want 2", removed)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_ZeroRunAtIsEligible(t *testing.T) {
	q := &Queue{}
	q.Push(NewItemEvent(7, ServiceManual, time.Time{}, media.StateRequested))

	e, err := q.Pop(time.Now())
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if e.ItemID != 7 {
		t.Errorf("Pop() ItemID = %d, want 7", e.ItemID)
	}
}

func TestServiceIsContent(t *testing.T) {
	if ServiceIndexer.IsContent() {
		t.Error("IsContent() = true for indexer, want false")
	}
	if !Service("watchlist").IsContent() {
		t.Error("IsContent() = false for watchlist, want true")
	}
}
