// Package media defines the persisted media item model and its store.
package media

import (
	"strings"
	"time"
)

// ItemType discriminates the polymorphic media item variants.
type ItemType string

const (
	TypeMovie   ItemType = "movie"
	TypeShow    ItemType = "show"
	TypeSeason  ItemType = "season"
	TypeEpisode ItemType = "episode"
)

// State is the lifecycle state of a media item.
type State string

const (
	StateRequested          State = "Requested"
	StateIndexed            State = "Indexed"
	StateScraped            State = "Scraped"
	StateDownloaded         State = "Downloaded"
	StateSymlinked          State = "Symlinked"
	StateCompleted          State = "Completed"
	StatePartiallyCompleted State = "PartiallyCompleted"
	StateOngoing            State = "Ongoing"
	StateUnreleased         State = "Unreleased"
	StatePaused             State = "Paused"
	StateFailed             State = "Failed"
	StateUnknown            State = "Unknown"
)

// ReleaseData carries next-air hints used by the release monitor.
type ReleaseData struct {
	NextAired string          `json:"next_aired,omitempty"`
	AirsDays  map[string]bool `json:"airs_days,omitempty"` // weekday name → flag
	AirsTime  string          `json:"airs_time,omitempty"` // "HH:MM"
	Timezone  string          `json:"timezone,omitempty"`
}

// Empty reports whether no next-air hints are present.
func (r ReleaseData) Empty() bool {
	return r.NextAired == "" && len(r.AirsDays) == 0 && r.AirsTime == ""
}

// ActiveStream records the chosen infohash and the file set selected at the
// debrid provider.
type ActiveStream struct {
	Hash  string       `json:"hash"`
	Files []ChosenFile `json:"files,omitempty"`
}

// ChosenFile is one selected file inside the active stream's container.
type ChosenFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ParsedData caches filename parse results so workers do not re-parse.
type ParsedData struct {
	SubtitlesEmbedded bool     `json:"subtitles_embedded,omitempty"`
	Resolution        string   `json:"resolution,omitempty"`
	Codec             string   `json:"codec,omitempty"`
	Languages         []string `json:"languages,omitempty"`
}

// Item is a movie, show, season or episode. Variants share the header;
// Number is meaningful for seasons and episodes only.
type Item struct {
	ID       int64
	Type     ItemType
	ParentID *int64

	ImdbID *string
	TmdbID *string
	TvdbID *string

	LastState State

	Title   string
	Year    int
	Number  int // season or episode number
	Genres  []string
	Aliases map[string][]string // country → titles
	IsAnime bool

	RequestedBy  string
	RequestedAt  time.Time
	IndexedAt    *time.Time
	ScrapedAt    *time.Time
	AiredAt      *time.Time
	ScrapedTimes int

	ReleaseData  ReleaseData
	ActiveStream *ActiveStream
	ParsedData   *ParsedData

	// Populated on demand; not loaded by the hot-path queries.
	Children []*Item
}

// Released reports whether the item's air date has passed.
func (i *Item) Released(now time.Time) bool {
	return i.AiredAt != nil && !i.AiredAt.After(now)
}

// ExternalIDsMatch reports whether any external id matches the other item's.
// Single pass, early return on first hit.
func (i *Item) ExternalIDsMatch(other *Item) bool {
	if other == nil {
		return false
	}
	if i.ImdbID != nil && other.ImdbID != nil && *i.ImdbID == *other.ImdbID {
		return true
	}
	if i.TmdbID != nil && other.TmdbID != nil && *i.TmdbID == *other.TmdbID {
		return true
	}
	if i.TvdbID != nil && other.TvdbID != nil && *i.TvdbID == *other.TvdbID {
		return true
	}
	return false
}

// Stream is a candidate acquisition shared across items.
type Stream struct {
	ID           int64
	Infohash     string
	RawTitle     string
	ParsedTitle  string
	Quality      string
	ReleaseGroup string
	CreatedAt    time.Time
}

// EntryKind discriminates filesystem entry subtypes.
type EntryKind string

const (
	EntryMedia    EntryKind = "media"
	EntrySubtitle EntryKind = "subtitle"
)

// FilesystemEntry is a media or subtitle file registered for an item.
type FilesystemEntry struct {
	ID             int64
	Kind           EntryKind
	Path           string
	FileSize       int64
	IsDirectory    bool
	AvailableInVFS bool
	Language       string
	MediaItemID    *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalizeInfohash lowercases a hex infohash and converts 32-character
// base32 hashes to 40-character hex. Returns empty on malformed input.
func NormalizeInfohash(hash string) string {
	hash = strings.TrimSpace(strings.ToLower(hash))
	switch len(hash) {
	case 40:
		for _, c := range hash {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return ""
			}
		}
		return hash
	case 32:
		return base32ToHex(hash)
	default:
		return ""
	}
}

const base32Alphabet = "abcdefghijklmnopqrstuvwxyz234567"

func base32ToHex(s string) string {
	var bits uint
	var acc uint64
	var out []byte
	const hexDigits = "0123456789abcdef"

	for _, c := range s {
		idx := strings.IndexRune(base32Alphabet, c)
		if idx < 0 {
			return ""
		}
		acc = acc<<5 | uint64(idx)
		bits += 5
		for bits >= 4 {
			bits -= 4
			out = append(out, hexDigits[(acc>>bits)&0xf])
		}
	}
	if len(out) != 40 {
		return ""
	}
	return string(out)
}
