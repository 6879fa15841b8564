package dateparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var ref = time.Date(2025, 1, 15, 11, 30, 0, 0, time.UTC)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveKeywords(t *testing.T) {
	got, err := Resolve("today", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 15), got)

	got, err = Resolve("Tomorrow", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 16), got)
}

func TestResolveISO(t *testing.T) {
	got, err := Resolve("2025-02-03", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 3), got)

	_, err = Resolve("2025-13-99", ref)
	assert.ErrorIs(t, err, ErrNotRecognized)
}

func TestResolveBareWeekday(t *testing.T) {
	// Ref is a Wednesday: same-day weekday resolves to the ref date.
	got, err := Resolve("wednesday", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 15), got)

	got, err = Resolve("friday", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 17), got)

	got, err = Resolve("monday", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 20), got)
}

func TestResolveNextWeekdayAlwaysSkipsCurrentWeek(t *testing.T) {
	for phrase, wd := range map[string]time.Weekday{
		"next monday":    time.Monday,
		"next wednesday": time.Wednesday,
		"next sunday":    time.Sunday,
	} {
		got, err := Resolve(phrase, ref)
		require.NoError(t, err, phrase)
		assert.Equal(t, wd, got.Weekday(), phrase)

		days := int(got.Sub(date(2025, time.January, 15)).Hours() / 24)
		assert.GreaterOrEqual(t, days, 7, phrase)
		assert.LessOrEqual(t, days, 13, phrase)
	}
}

func TestResolveRelativeOffsets(t *testing.T) {
	got, err := Resolve("in 2 days", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 17), got)

	got, err = Resolve("in 1 day", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 16), got)

	got, err = Resolve("in 2 weeks", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 29), got)
}

func TestResolveDayOfMonth(t *testing.T) {
	// Day still ahead in the reference month.
	got, err := Resolve("25th", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 25), got)

	got, err = Resolve("15", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.January, 15), got)

	// Day already passed: rolls to next month.
	got, err = Resolve("3rd", ref)
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 3), got)

	// Day the next month is too short for: rolls further.
	got, err = Resolve("31", ref.AddDate(0, 0, 17)) // Feb 1 reference
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.March, 31), got)
}

func TestResolveUnrecognized(t *testing.T) {
	for _, phrase := range []string{"", "whenever", "next blursday", "in some days", "32nd"} {
		_, err := Resolve(phrase, ref)
		assert.ErrorIs(t, err, ErrNotRecognized, phrase)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	a, err := Resolve("next monday", ref)
	require.NoError(t, err)
	b, err := Resolve("next monday", ref)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestResolveTime(t *testing.T) {
	cases := []struct {
		in           string
		hour, minute int
	}{
		{"14:30", 14, 30},
		{"2:30 pm", 14, 30},
		{"2 pm", 14, 0},
		{"2pm", 14, 0},
		{"12 am", 0, 0},
		{"12 pm", 12, 0},
		{"9:05", 9, 5},
	}
	for _, tc := range cases {
		h, m, err := ResolveTime(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.hour, h, tc.in)
		assert.Equal(t, tc.minute, m, tc.in)
	}

	for _, bad := range []string{"", "25:00", "13 pm", "noonish"} {
		_, _, err := ResolveTime(bad)
		assert.ErrorIs(t, err, ErrNotRecognized, bad)
	}
}
