package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowKeys(t *testing.T) {
	at := time.Date(2026, 3, 15, 14, 30, 12, 0, time.UTC)

	assert.Equal(t, "2026-03-15-14", WindowHour.WindowKey(at))
	assert.Equal(t, "2026-03-15", WindowDay.WindowKey(at))
	assert.Equal(t, "2026-03", WindowMonth.WindowKey(at))
}

func TestWindowKeyWeekFollowsISOWeeks(t *testing.T) {
	// 2026-03-15 is a Sunday; the ISO week rolls over on the following Monday.
	sunday := time.Date(2026, 3, 15, 23, 0, 0, 0, time.UTC)
	monday := time.Date(2026, 3, 16, 1, 0, 0, 0, time.UTC)
	nextSunday := time.Date(2026, 3, 22, 12, 0, 0, 0, time.UTC)

	assert.NotEqual(t, WindowWeek.WindowKey(sunday), WindowWeek.WindowKey(monday))
	assert.Equal(t, WindowWeek.WindowKey(monday), WindowWeek.WindowKey(nextSunday))
}

func TestWindowKeyStableWithinWindow(t *testing.T) {
	early := time.Date(2026, 3, 15, 14, 0, 1, 0, time.UTC)
	late := time.Date(2026, 3, 15, 14, 59, 59, 0, time.UTC)

	assert.Equal(t, WindowHour.WindowKey(early), WindowHour.WindowKey(late))
	assert.NotEqual(t, WindowHour.WindowKey(early), WindowHour.WindowKey(late.Add(time.Second)))
}

func TestWindowReset(t *testing.T) {
	at := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 3, 15, 15, 0, 0, 0, time.UTC), WindowHour.WindowReset(at))
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), WindowDay.WindowReset(at))
	assert.Equal(t, time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC), WindowWeek.WindowReset(at))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), WindowMonth.WindowReset(at))
}

func TestWindowResetMidweek(t *testing.T) {
	wednesday := time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC), WindowWeek.WindowReset(wednesday))
}
