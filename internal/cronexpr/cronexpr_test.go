package cronexpr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_FieldCount(t *testing.T) {
	tests := []struct {
		name string
		expr string
		got  int
	}{
		{"five fields", "0 0 12 * *", 5},
		{"six fields without year", "0 0 12 * * *", 6},
		{"eight fields", "0 0 12 * * * * *", 8},
		{"empty text", "", 1},
		{"garbage in wrong count", "not a cron", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFieldCount))
			assert.False(t, errors.Is(err, ErrInvalidField), "count errors must not reach grammar parsing")

			var fce *FieldCountError
			require.True(t, errors.As(err, &fce))
			assert.Equal(t, tt.got, fce.Got)
			assert.Contains(t, err.Error(), Template)
			assert.False(t, Validate(tt.expr))
		})
	}
}

func TestCheck_Grammar(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		field string
	}{
		{"minute out of range", "0 70 * * * * *", "minute"},
		{"bad hour token", "0 0 noon * * * *", "hour"},
		{"inverted month range", "0 0 0 1 12-3 * *", "month"},
		{"zero step", "*/0 * * * * * *", "second"},
		{"year too early", "0 0 0 1 1 * 1969", "year"},
		{"year not a number", "0 0 0 1 1 * soon", "year"},
		{"inverted year range", "0 0 0 1 1 * 2030-2020", "year"},
		{"double space", "0  0 12 * * *", "minute"},
		{"weekday zero", "0 0 9 * * 0 *", "day-of-week"},
		{"weekday eight", "0 0 9 * * 8 *", "day-of-week"},
		{"weekday range past saturday", "0 0 9 * * 2-9 *", "day-of-week"},
		{"weekday name unknown", "0 0 9 * * FUNDAY *", "day-of-week"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.expr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidField))

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.field, fe.Field)
			assert.False(t, Validate(tt.expr))
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	valid := []string{
		"0 0 12 * * * *",
		"*/5 * * * * * *",
		"0 30 9 * * MON-FRI *",
		"0 0 0 1 1 * 2030",
		"0 0 0 1 1 * 2025-2031/2",
		"0 0 0 1 1 ? 2026,2028",
		"0 15,45 8-17 * JAN-JUN * *",
		// Never achievable, still syntactically fine.
		"0 0 12 31 2 * *",
	}
	for _, expr := range valid {
		t.Run(expr, func(t *testing.T) {
			assert.True(t, Validate(expr), "Check: %v", Check(expr))
		})
	}
}

func TestNext(t *testing.T) {
	utc := time.UTC
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "noon same day",
			expr:  "0 0 12 * * * *",
			after: time.Date(2024, 5, 10, 11, 59, 59, 0, utc),
			want:  time.Date(2024, 5, 10, 12, 0, 0, 0, utc),
		},
		{
			name:  "strictly after a match",
			expr:  "0 0 12 * * * *",
			after: time.Date(2024, 5, 10, 12, 0, 0, 0, utc),
			want:  time.Date(2024, 5, 11, 12, 0, 0, 0, utc),
		},
		{
			name:  "every five seconds",
			expr:  "*/5 * * * * * *",
			after: time.Date(2024, 5, 10, 8, 0, 3, 500, utc),
			want:  time.Date(2024, 5, 10, 8, 0, 5, 0, utc),
		},
		{
			name:  "jump to future year",
			expr:  "0 0 0 1 1 * 2030",
			after: time.Date(2025, 6, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2030, 1, 1, 0, 0, 0, 0, utc),
		},
		{
			name:  "skips disallowed years",
			expr:  "0 0 9 1 3 * 2026,2029",
			after: time.Date(2026, 3, 1, 9, 0, 0, 0, utc),
			want:  time.Date(2029, 3, 1, 9, 0, 0, 0, utc),
		},
		{
			name:  "day of month or day of week",
			expr:  "0 0 0 13 * FRI *",
			after: time.Date(2024, 9, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2024, 9, 6, 0, 0, 0, 0, utc),
		},
		{
			name:  "leap day",
			expr:  "0 0 0 29 2 * *",
			after: time.Date(2025, 1, 1, 0, 0, 0, 0, utc),
			want:  time.Date(2028, 2, 29, 0, 0, 0, 0, utc),
		},
		{
			name:  "impossible date never matches",
			expr:  "0 0 12 31 2 * *",
			after: time.Date(2024, 1, 1, 0, 0, 0, 0, utc),
			want:  time.Time{},
		},
		{
			name:  "year list exhausted",
			expr:  "0 0 0 1 1 * 2030",
			after: time.Date(2030, 1, 1, 0, 0, 0, 0, utc),
			want:  time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseInLocation(tt.expr, utc)
			require.NoError(t, err)
			got := s.Next(tt.after)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestNext_ConvertsToScheduleLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	s, err := ParseInLocation("0 0 12 * * * *", loc)
	require.NoError(t, err)

	// 09:30 UTC is 11:30 in the schedule's zone, so noon there is 10:00 UTC.
	got := s.Next(time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, loc, got.Location())
	assert.True(t, got.Equal(time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)))
}

func TestMatches(t *testing.T) {
	s, err := ParseInLocation("0 30 9 * * MON-FRI *", time.UTC)
	require.NoError(t, err)

	// 2024-09-02 is a Monday.
	assert.True(t, s.Matches(time.Date(2024, 9, 2, 9, 30, 0, 0, time.UTC)))
	assert.True(t, s.Matches(time.Date(2024, 9, 2, 9, 30, 0, 999, time.UTC)))
	assert.False(t, s.Matches(time.Date(2024, 9, 2, 9, 30, 1, 0, time.UTC)))
	assert.False(t, s.Matches(time.Date(2024, 9, 1, 9, 30, 0, 0, time.UTC)), "Sunday")
}

func TestUpcoming_StrictlyIncreasing(t *testing.T) {
	exprs := []string{
		"0 0 12 * * * *",
		"*/7 * * * * * *",
		"0 15,45 8-17 * * MON-FRI *",
		"0 0 0 1 * * 2024-2099/3",
		"30 59 23 L * * *",
	}
	starts := []time.Time{
		time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 6, 15, 8, 14, 59, 123, time.UTC),
	}

	for _, expr := range exprs {
		s, err := ParseInLocation(expr, time.UTC)
		if err != nil {
			// "L" is not part of the grammar; it must be rejected, not mis-parsed.
			assert.True(t, errors.Is(err, ErrInvalidField), expr)
			continue
		}
		for _, start := range starts {
			prev := start
			n := 0
			for got := range s.Upcoming(start) {
				assert.True(t, got.After(prev), "%s: %v not after %v", expr, got, prev)
				assert.True(t, s.Matches(got), "%s: %v does not match", expr, got)
				prev = got
				if n++; n == 50 {
					break
				}
			}
			assert.Positive(t, n, expr)
		}
	}
}

func TestUpcoming_Restartable(t *testing.T) {
	s, err := ParseInLocation("*/15 * * * * * *", time.UTC)
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seq := s.Upcoming(start)
	first := Take(seq, 4)
	second := Take(seq, 4)

	require.Len(t, first, 4)
	assert.Equal(t, first, second)
	assert.True(t, first[0].Equal(start.Add(15*time.Second)))
	assert.Equal(t, Take(Upcoming(s, start), 4), first)
}

func TestUpcoming_EndsWhenExhausted(t *testing.T) {
	s, err := ParseInLocation("0 0 0 1 1 * 2030,2031", time.UTC)
	require.NoError(t, err)

	got := Take(s.Upcoming(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), 5)
	require.Len(t, got, 2)
	assert.Equal(t, 2030, got[0].Year())
	assert.Equal(t, 2031, got[1].Year())
}

func TestParser_NextRun(t *testing.T) {
	p := NewParser(time.UTC)
	assert.Equal(t, time.UTC, p.Location())

	next, err := p.NextRun("0 0 12 * * * *", time.Date(2024, 5, 10, 13, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 5, 11, 12, 0, 0, 0, time.UTC)))

	_, err = p.NextRun("0 0 12 * *", time.Now())
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestSchedule_String(t *testing.T) {
	s, err := Parse("0 0 12 * * * *")
	require.NoError(t, err)
	assert.Equal(t, "0 0 12 * * * *", s.String())
	assert.Equal(t, time.Local, s.Location())
}

func TestNext_WeekdayNumbering(t *testing.T) {
	// Saturday noon; every case asks for the next 09:00 on the given days.
	after := time.Date(2024, 8, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		dow  string
		want time.Time
		day  time.Weekday
	}{
		{"1", time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC), time.Sunday},
		{"2", time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC), time.Monday},
		{"7", time.Date(2024, 9, 7, 9, 0, 0, 0, time.UTC), time.Saturday},
		{"SUN", time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC), time.Sunday},
		{"2-6", time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC), time.Monday},
		{"4-6", time.Date(2024, 9, 4, 9, 0, 0, 0, time.UTC), time.Wednesday},
		{"6,7", time.Date(2024, 9, 6, 9, 0, 0, 0, time.UTC), time.Friday},
		{"*/2", time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC), time.Sunday},
		{"3/2", time.Date(2024, 9, 3, 9, 0, 0, 0, time.UTC), time.Tuesday},
		{"?", time.Date(2024, 9, 1, 9, 0, 0, 0, time.UTC), time.Sunday},
	}

	for _, tt := range tests {
		t.Run(tt.dow, func(t *testing.T) {
			s, err := ParseInLocation("0 0 9 * * "+tt.dow+" *", time.UTC)
			require.NoError(t, err)
			got := s.Next(after)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			assert.Equal(t, tt.day, got.Weekday())
		})
	}
}

func TestParse_WeekdayErrorShowsWrittenValue(t *testing.T) {
	err := Check("0 0 9 * * 8 *")
	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "8", fe.Value)

	// robfig rejects the shifted text; the diagnostic still names what was written.
	err = Check("0 0 9 * * 3-2 *")
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "day-of-week", fe.Field)
	assert.Equal(t, "3-2", fe.Value)
}

func TestTake_LargeCountStaysLazy(t *testing.T) {
	s, err := ParseInLocation("0 0 0 1 1 * 2030,2031", time.UTC)
	require.NoError(t, err)

	got := Take(s.Upcoming(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)), 1<<40)
	assert.Len(t, got, 2)
	assert.LessOrEqual(t, cap(got), takeCapHint)
}
