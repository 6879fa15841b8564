package agent

import (
	"regexp"
	"strings"
	"time"

	"github.com/havenmind/therapy-booking/internal/dateparse"
)

// Slot extraction pulls date and time phrases out of free text and
// hands the candidates to dateparse for actual resolution. Extraction
// is deliberately conservative: a bare number in chat is more often a
// quantity than a date, so day-of-month only matches with an ordinal
// suffix or an "on the" lead-in.

var (
	isoDateRe  = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	relativeRe = regexp.MustCompile(`\b(?:today|tomorrow)\b`)
	weekdayRe  = regexp.MustCompile(`\b(?:next\s+)?(?:sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
	inOffsetRe = regexp.MustCompile(`\bin \d+ (?:day|days|week|weeks)\b`)
	ordinalRe  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)\b`)
	onTheRe    = regexp.MustCompile(`\bon the (\d{1,2})(?:st|nd|rd|th)?\b`)

	// Times need a colon or an am/pm marker, except with an explicit
	// "at" lead-in where a bare hour is unambiguous.
	clockRe    = regexp.MustCompile(`\b(\d{1,2}:\d{2}\s*(?:am|pm)?|\d{1,2}\s*(?:am|pm))\b`)
	atHourRe   = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
	noonRe     = regexp.MustCompile(`\b(?:noon|midday)\b`)
	midnightRe = regexp.MustCompile(`\bmidnight\b`)
)

// extractDate finds the first recognizable date phrase in body and
// resolves it relative to now. ok is false when nothing matched.
func extractDate(body string, now time.Time) (time.Time, bool) {
	text := strings.ToLower(body)

	for _, re := range []*regexp.Regexp{isoDateRe, relativeRe, weekdayRe, inOffsetRe} {
		if phrase := re.FindString(text); phrase != "" {
			if day, err := dateparse.Resolve(phrase, now); err == nil {
				return day, true
			}
		}
	}

	for _, re := range []*regexp.Regexp{onTheRe, ordinalRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if day, err := dateparse.Resolve(m[1], now); err == nil {
				return day, true
			}
		}
	}

	return time.Time{}, false
}

// extractTime finds the first recognizable clock phrase in body.
func extractTime(body string) (hour, minute int, ok bool) {
	text := strings.ToLower(body)

	if noonRe.MatchString(text) {
		return 12, 0, true
	}
	if midnightRe.MatchString(text) {
		return 0, 0, true
	}

	if m := clockRe.FindStringSubmatch(text); m != nil {
		if h, mi, err := dateparse.ResolveTime(m[1]); err == nil {
			return h, mi, true
		}
	}

	if m := atHourRe.FindStringSubmatch(text); m != nil {
		if h, mi, err := dateparse.ResolveTime(m[1]); err == nil {
			return h, mi, true
		}
	}

	return 0, 0, false
}
