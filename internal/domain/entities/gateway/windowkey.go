package gateway

import (
	"fmt"
	"time"
)

// WindowKey returns the fixed-window bucket key for a point in time. Keys are
// stable strings so the dispatch ledger can group rows by window with a plain
// equality match.
func (u WindowUnit) WindowKey(t time.Time) string {
	t = t.UTC()
	switch u {
	case WindowHour:
		return fmt.Sprintf("%04d-%02d-%02d-%02d", t.Year(), t.Month(), t.Day(), t.Hour())
	case WindowDay:
		return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
	case WindowWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case WindowMonth:
		return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
	default:
		return fmt.Sprintf("%04d-%02d-%02d", t.Year(), t.Month(), t.Day())
	}
}

// WindowReset returns when the window containing t rolls over.
func (u WindowUnit) WindowReset(t time.Time) time.Time {
	t = t.UTC()
	switch u {
	case WindowHour:
		return t.Truncate(time.Hour).Add(time.Hour)
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case WindowWeek:
		// ISO weeks start on Monday.
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1-weekday)
		return monday.AddDate(0, 0, 7)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}
