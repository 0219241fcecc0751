package scheduler

import (
	"testing"
	"time"

	"github.com/harborr/harborr/internal/media"
)

// 2026-03-02 is a Monday.
var nextAirRef = time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local)

func TestComputeNextAirDatetime_FullDatetime(t *testing.T) {
	rd := media.ReleaseData{NextAired: "2026-03-05 20:00:00"}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 5, 20, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextAirDatetime_DateWithAirsTime(t *testing.T) {
	rd := media.ReleaseData{NextAired: "2026-03-04", AirsTime: "21:30"}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 4, 21, 30, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextAirDatetime_DateOnlyDefaultsMidnight(t *testing.T) {
	rd := media.ReleaseData{NextAired: "2026-03-04"}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 4, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextAirDatetime_PastNextAiredRejected(t *testing.T) {
	rd := media.ReleaseData{NextAired: "2026-02-01 20:00:00"}

	if _, ok := ComputeNextAirDatetime(rd, nextAirRef); ok {
		t.Error("ok = true for a past next_aired, want false")
	}
}

func TestComputeNextAirDatetime_AirsDaysScansForward(t *testing.T) {
	rd := media.ReleaseData{
		AirsDays: map[string]bool{"Thursday": true, "Monday": false},
		AirsTime: "20:00",
	}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 5, 20, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want next Thursday %v", got, want)
	}
}

func TestComputeNextAirDatetime_SameDayEarlierTimeRollsOver(t *testing.T) {
	// Ref is Monday noon; a Monday 08:00 slot has passed, so the next
	// occurrence is a week out.
	rd := media.ReleaseData{
		AirsDays: map[string]bool{"monday": true},
		AirsTime: "08:00",
	}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 9, 8, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestComputeNextAirDatetime_NoHints(t *testing.T) {
	if _, ok := ComputeNextAirDatetime(media.ReleaseData{}, nextAirRef); ok {
		t.Error("ok = true with no hints, want false")
	}
}

func TestComputeNextAirDatetime_UnknownTimezoneFallsBackToLocal(t *testing.T) {
	rd := media.ReleaseData{NextAired: "2026-03-05 20:00:00", Timezone: "Not/AZone"}

	got, ok := ComputeNextAirDatetime(rd, nextAirRef)
	if !ok {
		t.Fatal("ok = false, want true")
	}
	want := time.Date(2026, 3, 5, 20, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want local naive %v", got, want)
	}
}
