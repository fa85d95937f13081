package cronexpr

import (
	"iter"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is an immutable parsed expression. It is safe for concurrent use.
type Schedule struct {
	text  string
	spec  *cron.SpecSchedule
	years yearSet
	loc   *time.Location
}

// String returns the source text.
func (s *Schedule) String() string { return s.text }

// Location returns the time zone the schedule is evaluated in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Next returns the first matching instant strictly after the given time, at
// second granularity and in the schedule's location. It returns the zero time
// when no further instant exists, e.g. "30 of February" or a year list that
// lies entirely in the past.
func (s *Schedule) Next(after time.Time) time.Time {
	t := after.In(s.loc)
	for {
		year, ok := s.years.atOrAfter(t.Year())
		if !ok {
			return time.Time{}
		}
		if year > t.Year() {
			// One second before New Year so that midnight itself can match.
			t = time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc).Add(-time.Second)
		}

		next := s.spec.Next(t)
		if next.IsZero() {
			return time.Time{}
		}
		if s.years.contains(next.Year()) {
			return next.In(s.loc)
		}
		t = next
	}
}

// Matches reports whether t, truncated to the second, is an instant of the schedule.
func (s *Schedule) Matches(t time.Time) bool {
	ts := t.Truncate(time.Second)
	return s.Next(ts.Add(-time.Second)).Equal(ts)
}

// Upcoming yields the matching instants strictly after the given time in
// increasing order. The sequence is computed lazily, one instant per step, and
// every range over it starts again from after.
func (s *Schedule) Upcoming(after time.Time) iter.Seq[time.Time] {
	return func(yield func(time.Time) bool) {
		cursor := after
		for {
			next := s.Next(cursor)
			if next.IsZero() || !yield(next) {
				return
			}
			cursor = next
		}
	}
}

// Upcoming is the function form of (*Schedule).Upcoming.
func Upcoming(s *Schedule, after time.Time) iter.Seq[time.Time] {
	return s.Upcoming(after)
}

// takeCapHint bounds the initial allocation of Take; larger results grow.
const takeCapHint = 64

// Take collects at most n instants from seq.
func Take(seq iter.Seq[time.Time], n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, min(n, takeCapHint))
	for t := range seq {
		out = append(out, t)
		if len(out) == n {
			break
		}
	}
	return out
}
