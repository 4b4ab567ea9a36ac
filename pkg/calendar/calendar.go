// Package calendar holds the date and time-range helpers used by the
// reservation engine. Everything here is pure; "now" is always injected
// through a Clock.
package calendar

import "time"

// Clock returns the current time. Engines take a Clock so tests can pin it.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share any
// instant. Touching ranges (one ends exactly when the other starts) do not
// overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// TimeOfDay is an offset from midnight, e.g. 9*time.Hour + 30*time.Minute.
type TimeOfDay time.Duration

// ParseTimeOfDay parses "15:04".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return TimeOfDay(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute), nil
}

// At returns the instant whose wall clock reads tod on the calendar day of
// date, in date's location. The hour is kept across daylight-saving changes.
func At(date time.Time, tod TimeOfDay) time.Time {
	y, m, d := date.Date()
	hour := int(time.Duration(tod) / time.Hour)
	minute := int(time.Duration(tod) % time.Hour / time.Minute)
	return time.Date(y, m, d, hour, minute, 0, 0, date.Location())
}

// Weekdays enumerates the calendar days in [from, to] (inclusive, by date)
// whose weekday is in days. Returned values are midnight in from's location.
// An empty days list matches every day.
func Weekdays(from, to time.Time, days ...time.Weekday) []time.Time {
	want := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		want[d] = true
	}

	loc := from.Location()
	y, m, d := from.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, loc)
	ty, tm, td := to.In(loc).Date()
	last := time.Date(ty, tm, td, 0, 0, 0, 0, loc)

	var out []time.Time
	for !cur.After(last) {
		if len(want) == 0 || want[cur.Weekday()] {
			out = append(out, cur)
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return out
}
