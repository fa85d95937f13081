package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Day-of-week numbers run 1-7 with Sunday = 1. robfig/cron numbers 0-6 from
// Sunday, so numeric values are shifted down by one before it sees them.
// Names, wildcards and step sizes pass through unchanged.
func shiftWeekdays(field string) (string, error) {
	parts := strings.Split(field, ",")
	for i, part := range parts {
		base, step, hasStep := strings.Cut(part, "/")

		from, to, isRange := strings.Cut(base, "-")
		from, err := shiftWeekday(from)
		if err != nil {
			return "", err
		}
		base = from
		if isRange {
			if to, err = shiftWeekday(to); err != nil {
				return "", err
			}
			base += "-" + to
		}

		if hasStep {
			base += "/" + step
		}
		parts[i] = base
	}
	return strings.Join(parts, ","), nil
}

func shiftWeekday(v string) (string, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		// Not a number; robfig judges names and wildcards itself.
		return v, nil
	}
	if n < 1 || n > 7 {
		return "", fmt.Errorf("day of week %d out of range [1, 7]", n)
	}
	return strconv.Itoa(n - 1), nil
}
