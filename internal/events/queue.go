package events

import (
	"errors"
	"time"

	"github.com/harborr/harborr/internal/media"
)

// ErrEmpty signals that no event is eligible to run yet.
var ErrEmpty = errors.New("no eligible event")

// statePriority orders eligible events so items nearer completion progress
// first, smoothing tail latency.
func statePriority(state media.State) int {
	switch state {
	case media.StateCompleted:
		return 0
	case media.StatePartiallyCompleted:
		return 1
	case media.StateSymlinked:
		return 2
	case media.StateDownloaded:
		return 3
	case media.StateScraped:
		return 4
	case media.StateIndexed:
		return 5
	default:
		return 999
	}
}

// Queue holds pending events. It is not synchronized; the manager guards it
// together with the running set under a single mutex.
type Queue struct {
	events []*Event
}

// Push appends an event.
func (q *Queue) Push(e *Event) {
	q.events = append(q.events, e)
}

// Pop removes and returns the best eligible event: run_at ≤ now, lowest
// (state_priority, run_at). Returns ErrEmpty when nothing is eligible.
func (q *Queue) Pop(now time.Time) (*Event, error) {
	best := -1
	for i, e := range q.events {
		if e.RunAt.After(now) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		b := q.events[best]
		pi, pb := statePriority(e.State), statePriority(b.State)
		if pi < pb || (pi == pb && e.RunAt.Before(b.RunAt)) {
			best = i
		}
	}
	if best == -1 {
		return nil, ErrEmpty
	}
	e := q.events[best]
	q.events = append(q.events[:best], q.events[best+1:]...)
	return e, nil
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Contains reports whether any queued event matches the predicate.
func (q *Queue) Contains(match func(*Event) bool) bool {
	for _, e := range q.events {
		if match(e) {
			return true
		}
	}
	return false
}

// Remove drops every queued event matching the predicate and returns how
// many were dropped.
func (q *Queue) Remove(match func(*Event) bool) int {
	kept := q.events[:0]
	removed := 0
	for _, e := range q.events {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.events = kept
	return removed
}

// Snapshot returns a copy of the queued events for the admin surface.
func (q *Queue) Snapshot() []*Event {
	out := make([]*Event, len(q.events))
	copy(out, q.events)
	return out
}
