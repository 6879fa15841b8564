// Package dateparse converts free-form date and time phrases from chat
// messages into concrete calendar values. Resolution is pure: the
// reference date is always a parameter and the package never reads the
// clock, so the same phrase resolves identically in replays and tests.
package dateparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrNotRecognized = errors.New("date phrase not recognized")
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	isoRe     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	inRe      = regexp.MustCompile(`^in (\d+) (day|days|week|weeks)$`)
	ordinalRe = regexp.MustCompile(`^(\d{1,2})(st|nd|rd|th)?$`)
)

// Resolve turns a date phrase into a calendar date relative to ref.
// Supported, in priority order: ISO dates, today/tomorrow, weekday
// names (bare or "next "-qualified), "in N days/weeks", and bare
// day-of-month numbers. Anything else returns ErrNotRecognized so the
// caller can re-prompt instead of failing.
func Resolve(phrase string, ref time.Time) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	p = strings.Join(strings.Fields(p), " ")
	if p == "" {
		return time.Time{}, ErrNotRecognized
	}

	refDate := truncateToDay(ref)

	if m := isoRe.FindStringSubmatch(p); m != nil {
		t, err := time.ParseInLocation("2006-01-02", p, ref.Location())
		if err != nil {
			return time.Time{}, ErrNotRecognized
		}
		return t, nil
	}

	switch p {
	case "today":
		return refDate, nil
	case "tomorrow":
		return refDate.AddDate(0, 0, 1), nil
	}

	if wd, ok := weekdays[p]; ok {
		return nextWeekday(refDate, wd, false), nil
	}
	if rest, ok := strings.CutPrefix(p, "next "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(refDate, wd, true), nil
		}
	}

	if m := inRe.FindStringSubmatch(p); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 0 {
			return time.Time{}, ErrNotRecognized
		}
		if strings.HasPrefix(m[2], "week") {
			return refDate.AddDate(0, 0, 7*n), nil
		}
		return refDate.AddDate(0, 0, n), nil
	}

	if m := ordinalRe.FindStringSubmatch(p); m != nil {
		day, err := strconv.Atoi(m[1])
		if err != nil || day < 1 || day > 31 {
			return time.Time{}, ErrNotRecognized
		}
		return dayOfMonth(refDate, day)
	}

	return time.Time{}, ErrNotRecognized
}

// nextWeekday returns the next occurrence of wd on or after ref. With
// skipCurrent the current week is skipped entirely, so the result is
// always 7 to 13 days out.
func nextWeekday(ref time.Time, wd time.Weekday, skipCurrent bool) time.Time {
	delta := (int(wd) - int(ref.Weekday()) + 7) % 7
	if skipCurrent {
		delta += 7
	}
	return ref.AddDate(0, 0, delta)
}

// dayOfMonth resolves a bare day number to that day in the reference
// month, rolling forward month by month while the day has passed or
// the month is too short (e.g. "31" asked in February).
func dayOfMonth(ref time.Time, day int) (time.Time, error) {
	year, month := ref.Year(), ref.Month()
	for i := 0; i < 12; i++ {
		if day <= daysIn(year, month) {
			candidate := time.Date(year, month, day, 0, 0, 0, 0, ref.Location())
			if !candidate.Before(ref) {
				return candidate, nil
			}
		}
		month++
		if month > time.December {
			month = time.January
			year++
		}
	}
	return time.Time{}, ErrNotRecognized
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

var timeRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)

// ResolveTime parses a clock phrase like "14:30", "2:30 pm" or "2pm"
// into an hour and minute. 12-hour values without am/pm are taken as
// given ("2:30" means 02:30).
func ResolveTime(phrase string) (hour, minute int, err error) {
	p := strings.ToLower(strings.TrimSpace(phrase))
	m := timeRe.FindStringSubmatch(p)
	if m == nil {
		return 0, 0, ErrNotRecognized
	}

	hour, err = strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, ErrNotRecognized
	}
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil {
			return 0, 0, ErrNotRecognized
		}
	}

	switch m[3] {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, ErrNotRecognized
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, ErrNotRecognized
		}
		if hour != 12 {
			hour += 12
		}
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, ErrNotRecognized
	}
	return hour, minute, nil
}
