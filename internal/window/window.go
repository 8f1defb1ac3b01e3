// Package window plans bounded sub-ranges for multi-window imports.
//
// The upstream API rejects requests spanning more than a fixed number of
// days, so an arbitrary [start, end) range has to be walked in chunks. The
// planner is pure: identical inputs always produce the identical sequence,
// which is what makes failed sub-ranges safe to re-run in isolation.
package window

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/gridscope/elexon-pipeline/internal/model"
)

// DefaultMaxDays is the widest span the upstream API accepts per request.
const DefaultMaxDays = 7

var (
	// ErrInvalidRange is returned when the requested end does not follow the start.
	ErrInvalidRange = eris.New("window: end date must be after start date")

	// ErrInvalidConfig is returned when the maximum window span is not positive.
	ErrInvalidConfig = eris.New("window: max window days must be positive")
)

// Plan splits [start, end) into contiguous half-open windows of at most
// maxWindowDays each, in ascending order. The final window is clamped to end.
// Windows cover the range exactly once with no gaps or overlaps.
func Plan(start, end time.Time, maxWindowDays int) ([]model.Window, error) {
	if maxWindowDays <= 0 {
		return nil, eris.Wrapf(ErrInvalidConfig, "got %d", maxWindowDays)
	}
	if !end.After(start) {
		return nil, eris.Wrapf(ErrInvalidRange, "start %s, end %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	var windows []model.Window
	for cur := start; cur.Before(end); {
		next := cur.AddDate(0, 0, maxWindowDays)
		if next.After(end) {
			next = end
		}
		windows = append(windows, model.Window{Start: cur, End: next})
		cur = next
	}
	return windows, nil
}

// YearRange returns the calendar bounds of a year as a half-open range
// [Jan 1 year, Jan 1 year+1) in UTC.
func YearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// ParseDate parses a YYYY-MM-DD argument into a UTC midnight timestamp.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "window: parse date %q", s)
	}
	return t.UTC(), nil
}
