// Package events implements the in-memory event engine: the priority queue,
// the per-service executors, the state machine routing and the manager that
// ties them together.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborr/harborr/internal/media"
)

// Service identifies an event emitter or an executor target. Content
// providers register under their own keys; everything outside the core set
// is treated as a content emitter.
type Service string

const (
	ServiceIndexer       Service = "indexer"
	ServiceScraper       Service = "scraper"
	ServiceDownloader    Service = "downloader"
	ServiceSymlinker     Service = "symlinker"
	ServiceUpdater       Service = "updater"
	ServicePostProcessor Service = "postprocessor"
	ServiceScheduler     Service = "scheduler"
	ServiceManual        Service = "manual"
)

var coreServices = map[Service]bool{
	ServiceIndexer:       true,
	ServiceScraper:       true,
	ServiceDownloader:    true,
	ServiceSymlinker:     true,
	ServiceUpdater:       true,
	ServicePostProcessor: true,
	ServiceScheduler:     true,
	ServiceManual:        true,
}

// IsContent reports whether the service is a content provider key.
func (s Service) IsContent() bool {
	return !coreServices[s]
}

// Event is one unit of work flowing through the engine. Exactly one of
// ItemID or Content is set: ItemID for items already persisted, Content for
// provider submissions that have not been resolved yet.
type Event struct {
	ID      string
	ItemID  int64
	Content *media.Item
	Emitter Service
	RunAt   time.Time

	// State caches the item's last_state at enqueue time so the priority
	// sort never reads the database.
	State media.State
}

// NewItemEvent creates an event for a persisted item.
func NewItemEvent(itemID int64, emitter Service, runAt time.Time, state media.State) *Event {
	return &Event{
		ID:      uuid.NewString(),
		ItemID:  itemID,
		Emitter: emitter,
		RunAt:   runAt,
		State:   state,
	}
}

// NewContentEvent creates an event carrying an unresolved provider item.
func NewContentEvent(item *media.Item, emitter Service) *Event {
	return &Event{
		ID:      uuid.NewString(),
		Content: item,
		Emitter: emitter,
		RunAt:   time.Now(),
	}
}
