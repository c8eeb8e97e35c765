package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_Daily(t *testing.T) {
	now := time.Date(2025, 3, 15, 17, 42, 9, 0, time.UTC)
	start, end, err := Window(PeriodDaily, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 16, 0, 0, 0, 0, time.UTC), end)
}

func TestWindow_WeeklyStartsMonday(t *testing.T) {
	// 2025-03-15 is a Saturday; the week began Monday 2025-03-10.
	now := time.Date(2025, 3, 15, 17, 42, 9, 0, time.UTC)
	start, end, err := Window(PeriodWeekly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC), end)

	// A Monday belongs to its own week.
	monday := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	start, _, err = Window(PeriodWeekly, monday)
	require.NoError(t, err)
	assert.Equal(t, monday, start)

	// Sunday is the last day of the previous Monday's week.
	sunday := time.Date(2025, 3, 16, 23, 59, 59, 0, time.UTC)
	start, _, err = Window(PeriodWeekly, sunday)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), start)
}

func TestWindow_MonthlyRollsOverYear(t *testing.T) {
	now := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
	start, end, err := Window(PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestWindow_NormalizesToUTC(t *testing.T) {
	// 2025-03-15 01:00 +10 is still 2025-03-14 in UTC.
	loc := time.FixedZone("UTC+10", 10*3600)
	now := time.Date(2025, 3, 15, 1, 0, 0, 0, loc)
	start, _, err := Window(PeriodDaily, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), start)
}

func TestWindow_UnknownKind(t *testing.T) {
	_, _, err := Window(PeriodKind("hourly"), time.Now())
	assert.Error(t, err)
}
