package media

import (
	"strings"
	"testing"
	"time"
)

func TestNormalizeInfohash(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ABCDEF0123456789ABCDEF0123456789ABCDEF01", "abcdef0123456789abcdef0123456789abcdef01"},
		{"  abcdef0123456789abcdef0123456789abcdef01 ", "abcdef0123456789abcdef0123456789abcdef01"},
		{strings.Repeat("a", 32), strings.Repeat("0", 40)}, // base32 all-zero
		{strings.Repeat("7", 32), strings.Repeat("f", 40)}, // base32 all-one
		{"xyzdef0123456789abcdef0123456789abcdef01", ""},   // non-hex at length 40
		{"tooshort", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeInfohash(tt.in); got != tt.want {
			t.Errorf("NormalizeInfohash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestItem_Released(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if (&Item{}).Released(now) {
		t.Error("Released() = true with no air date, want false")
	}
	if !(&Item{AiredAt: &past}).Released(now) {
		t.Error("Released() = false for a past air date, want true")
	}
	if (&Item{AiredAt: &future}).Released(now) {
		t.Error("Released() = true for a future air date, want false")
	}
}

func TestItem_ExternalIDsMatch(t *testing.T) {
	imdb := "tt0133093"
	tmdb := "603"
	other := "tt0234215"

	a := &Item{ImdbID: &imdb}
	if !a.ExternalIDsMatch(&Item{ImdbID: &imdb, TmdbID: &tmdb}) {
		t.Error("want match on shared imdb id")
	}
	if a.ExternalIDsMatch(&Item{ImdbID: &other}) {
		t.Error("want no match on different imdb ids")
	}
	if a.ExternalIDsMatch(&Item{TmdbID: &tmdb}) {
		t.Error("want no match when id spaces do not overlap")
	}
	if a.ExternalIDsMatch(nil) {
		t.Error("want no match against nil")
	}
}
