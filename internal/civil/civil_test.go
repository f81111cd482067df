package civil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateCrossesUTCMidnightBoundary(t *testing.T) {
	// 18:30 UTC is midnight in the fixed UTC+5:30 calendar.
	before := time.Date(2025, 3, 10, 18, 29, 59, 0, time.UTC)
	after := time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, "2025-03-10", Date(before))
	assert.Equal(t, "2025-03-11", Date(after))
}

func TestDateIgnoresDeviceTimezone(t *testing.T) {
	instant := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	ny := time.FixedZone("UTC-4", -4*3600)

	assert.Equal(t, Date(instant), Date(instant.In(ny)))
	assert.Equal(t, "2025-06-02", Date(instant))
}

func TestParseRoundTrip(t *testing.T) {
	got, err := Parse("2025-01-31")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", Date(got))

	_, err = Parse("not-a-date")
	assert.Error(t, err)
}

func TestYesterday(t *testing.T) {
	assert.Equal(t, "2025-02-28", Yesterday("2025-03-01"))
	assert.Equal(t, "2024-12-31", Yesterday("2025-01-01"))
	assert.Equal(t, "", Yesterday("bogus"))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 1, DaysBetween("2025-03-01", "2025-03-02"))
	assert.Equal(t, -3, DaysBetween("2025-03-04", "2025-03-01"))
	assert.Equal(t, 0, DaysBetween("2025-03-04", "2025-03-04"))
	assert.Equal(t, 0, DaysBetween("junk", "2025-03-04"))
}
