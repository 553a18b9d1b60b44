// Package busday counts business days between calendar dates: Monday through
// Friday, minus a configured holiday set.
package busday

import "time"

// Set is a holiday lookup keyed by ISO date (YYYY-MM-DD).
type Set map[string]struct{}

// NewSet builds a holiday set from ISO date strings.
func NewSet(days ...string) Set {
	s := make(Set, len(days))
	for _, d := range days {
		s[d] = struct{}{}
	}
	return s
}

// Contains reports whether the date part of t is a holiday.
func (s Set) Contains(t time.Time) bool {
	if s == nil {
		return false
	}
	_, ok := s[t.Format("2006-01-02")]
	return ok
}

// Count returns the number of business days in the half-open interval
// [a, b), normalizing argument order first so the result is symmetric under
// swap. Time-of-day is ignored; only the date parts matter.
func Count(a, b time.Time, holidays Set) int {
	if b.Before(a) {
		a, b = b, a
	}
	cur := truncateDay(a)
	end := truncateDay(b)

	days := 0
	for cur.Before(end) {
		wd := cur.Weekday()
		if wd != time.Saturday && wd != time.Sunday && !holidays.Contains(cur) {
			days++
		}
		cur = cur.AddDate(0, 0, 1)
	}
	return days
}

// Between is Count with null propagation: when either date is absent it
// returns ok=false, which callers treat as "cannot evaluate", not an error.
func Between(a, b *time.Time, holidays Set) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return Count(*a, *b, holidays), true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
