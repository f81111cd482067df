// Package civil normalizes timestamps to a fixed UTC+5:30 civil calendar.
// All streak and day-boundary logic uses this calendar regardless of the
// device timezone, so a given instant maps to the same date on every device.
package civil

import (
	"fmt"
	"time"
)

// Zone is the fixed offset used for all day-boundary computations.
var Zone = time.FixedZone("UTC+5:30", (5*60+30)*60)

const layout = "2006-01-02"

// Date returns the civil date of t as YYYY-MM-DD.
func Date(t time.Time) string {
	return t.In(Zone).Format(layout)
}

// Parse converts a YYYY-MM-DD civil date back to its midnight instant.
func Parse(date string) (time.Time, error) {
	t, err := time.ParseInLocation(layout, date, Zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid civil date %q: %w", date, err)
	}
	return t, nil
}

// Yesterday returns the civil date one day before date, or "" if date is
// malformed.
func Yesterday(date string) string {
	t, err := Parse(date)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -1).Format(layout)
}

// DaysBetween returns b - a in whole civil days. Positive when b is later.
// Malformed inputs yield 0.
func DaysBetween(a, b string) int {
	ta, err := Parse(a)
	if err != nil {
		return 0
	}
	tb, err := Parse(b)
	if err != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours() / 24)
}
