package cronexpr

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Year bounds accepted by the year field.
const (
	MinYear = 1970
	MaxYear = 2099
)

// yearSet is the parsed year field. any means the field was a wildcard.
type yearSet struct {
	any   bool
	years []int // sorted, unique
}

func (y yearSet) contains(year int) bool {
	if y.any {
		return year >= MinYear && year <= MaxYear
	}
	_, ok := slices.BinarySearch(y.years, year)
	return ok
}

// atOrAfter returns the smallest permitted year >= year, or false when none is left.
func (y yearSet) atOrAfter(year int) (int, bool) {
	if y.any {
		switch {
		case year > MaxYear:
			return 0, false
		case year < MinYear:
			return MinYear, true
		}
		return year, true
	}
	i, _ := slices.BinarySearch(y.years, year)
	if i == len(y.years) {
		return 0, false
	}
	return y.years[i], true
}

// parseYears accepts "*", "?", N, N-M, lists and steps (*/S, N/S, N-M/S).
func parseYears(field string) (yearSet, error) {
	if field == "*" || field == "?" {
		return yearSet{any: true}, nil
	}

	seen := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		lo, hi, step, err := parseYearRange(part)
		if err != nil {
			return yearSet{}, err
		}
		for y := lo; y <= hi; y += step {
			seen[y] = struct{}{}
		}
	}

	years := make([]int, 0, len(seen))
	for y := range seen {
		years = append(years, y)
	}
	slices.Sort(years)
	return yearSet{years: years}, nil
}

func parseYearRange(part string) (lo, hi, step int, err error) {
	if part == "" {
		return 0, 0, 0, fmt.Errorf("empty list element")
	}

	base, stepText, hasStep := strings.Cut(part, "/")
	step = 1
	if hasStep {
		step, err = strconv.Atoi(stepText)
		if err != nil || step <= 0 {
			return 0, 0, 0, fmt.Errorf("invalid step %q", stepText)
		}
	}

	switch {
	case base == "*" || base == "?":
		lo, hi = MinYear, MaxYear
	case strings.Contains(base, "-"):
		from, to, _ := strings.Cut(base, "-")
		if lo, err = parseYear(from); err != nil {
			return 0, 0, 0, err
		}
		if hi, err = parseYear(to); err != nil {
			return 0, 0, 0, err
		}
		if lo > hi {
			return 0, 0, 0, fmt.Errorf("beginning of range (%d) beyond end of range (%d)", lo, hi)
		}
	default:
		if lo, err = parseYear(base); err != nil {
			return 0, 0, 0, err
		}
		hi = lo
		// "N/S" means from N to the end of the range, as robfig does for other fields.
		if hasStep {
			hi = MaxYear
		}
	}
	return lo, hi, step, nil
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse int from %s", s)
	}
	if y < MinYear || y > MaxYear {
		return 0, fmt.Errorf("year %d out of range [%d, %d]", y, MinYear, MaxYear)
	}
	return y, nil
}
