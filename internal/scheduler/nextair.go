package scheduler

import (
	"strings"
	"time"

	"github.com/harborr/harborr/internal/media"
)

// weekdayScanLimit bounds the forward scan for the next flagged air day.
const weekdayScanLimit = 20

// ComputeNextAirDatetime derives the next air time from release hints.
// The result is naive local time; ok is false when the hints cannot be
// resolved to a future time.
func ComputeNextAirDatetime(rd media.ReleaseData, ref time.Time) (time.Time, bool) {
	if next, ok := fromNextAired(rd, ref); ok {
		return next, ok
	}
	return fromAirsDays(rd, ref)
}

// fromNextAired handles an explicit next_aired hint, either a full datetime
// or a date to combine with airs_time.
func fromNextAired(rd media.ReleaseData, ref time.Time) (time.Time, bool) {
	if rd.NextAired == "" {
		return time.Time{}, false
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, rd.NextAired); err == nil {
			t = localize(t, rd.Timezone)
			if !t.Before(ref) {
				return t, true
			}
			return time.Time{}, false
		}
	}

	day, err := time.Parse("2006-01-02", rd.NextAired)
	if err != nil {
		return time.Time{}, false
	}
	t := combine(day, rd.AirsTime)
	t = localize(t, rd.Timezone)
	if !t.Before(ref) {
		return t, true
	}
	return time.Time{}, false
}

// fromAirsDays scans forward from ref for the first flagged weekday.
func fromAirsDays(rd media.ReleaseData, ref time.Time) (time.Time, bool) {
	if len(rd.AirsDays) == 0 {
		return time.Time{}, false
	}

	flagged := make(map[string]bool, len(rd.AirsDays))
	for day, on := range rd.AirsDays {
		if on {
			flagged[strings.ToLower(day)] = true
		}
	}
	if len(flagged) == 0 {
		return time.Time{}, false
	}

	for offset := 0; offset <= weekdayScanLimit; offset++ {
		day := ref.AddDate(0, 0, offset)
		if !flagged[strings.ToLower(day.Weekday().String())] {
			continue
		}
		t := combine(day.Truncate(24*time.Hour), rd.AirsTime)
		t = time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, time.Local)
		t = localize(t, rd.Timezone)
		if t.Before(ref) {
			continue
		}
		return t, true
	}
	return time.Time{}, false
}

// combine merges a date with an "HH:MM" airs_time, defaulting to midnight.
func combine(day time.Time, airsTime string) time.Time {
	hour, minute := 0, 0
	if airsTime != "" {
		if t, err := time.Parse("15:04", airsTime); err == nil {
			hour, minute = t.Hour(), t.Minute()
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.Local)
}

// localize interprets a naive time in the given zone, converts to local and
// strips the zone. Unknown zones leave the time as local naive.
func localize(t time.Time, zone string) time.Time {
	if zone == "" {
		return naiveLocal(t)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return naiveLocal(t)
	}
	inZone := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	return naiveLocal(inZone.In(time.Local))
}

// naiveLocal rebuilds the wall-clock fields in the local zone.
func naiveLocal(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
}
