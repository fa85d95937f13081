// Package cronexpr parses and validates the seven-field cron expressions used
// by the notifier and answers time queries against them.
//
// An expression has exactly seven single-space separated fields:
//
//	second minute hour day-of-month month day-of-week year
//
// The first six fields are handled by robfig/cron with its seconds-enabled
// parser (wildcards, ranges, lists, steps, month and weekday names). Numeric
// days of the week run 1-7 with Sunday = 1 and are translated to robfig's
// numbering first. The year field uses the same grammar and is resolved by
// this package, since robfig/cron has no year position.
//
// Usage:
//
//	if err := cronexpr.Check(text); err != nil {
//		fmt.Println(err) // names the field and shows Template
//	}
//	sched, err := cronexpr.Parse("0 0 12 * * * *")
//	next := sched.Next(time.Now())
package cronexpr

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FieldCount is the number of fields every expression must have.
const FieldCount = 7

// Template describes the expected field order, shown in diagnostics.
const Template = "{sec} {min} {hour} {day of month} {month} {day of week} {year}"

// fieldNames index the seven positions for diagnostics.
var fieldNames = [FieldCount]string{
	"second", "minute", "hour", "day-of-month", "month", "day-of-week", "year",
}

var (
	// ErrFieldCount is matched by errors for text that does not split into
	// exactly seven fields. No grammar parsing happens in that case.
	ErrFieldCount = errors.New("wrong number of fields")

	// ErrInvalidField is matched by errors for a field that fails cron grammar.
	ErrInvalidField = errors.New("invalid field")
)

// FieldCountError reports a malformed field count.
type FieldCountError struct {
	Expr string
	Got  int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("cron %q is invalid: there need to be %d fields, got %d (e.g. %s)",
		e.Expr, FieldCount, e.Got, Template)
}

// Is reports ErrFieldCount.
func (e *FieldCountError) Is(target error) bool { return target == ErrFieldCount }

// FieldError reports a field that failed grammar parsing. Err carries the
// underlying parser diagnostic.
type FieldError struct {
	Expr  string
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("cron %q is invalid: %s field %q: %v", e.Expr, e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Is reports ErrInvalidField.
func (e *FieldError) Is(target error) bool { return target == ErrInvalidField }

// sixField parses the positions robfig/cron knows about.
var sixField = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Parser builds schedules evaluated in a fixed location.
type Parser struct {
	loc *time.Location
}

// NewParser returns a parser whose schedules are evaluated in loc.
// A nil loc means the host's local time zone.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.Local
	}
	return &Parser{loc: loc}
}

// Location returns the time zone schedules are evaluated in.
func (p *Parser) Location() *time.Location { return p.loc }

// Parse turns text into a Schedule, or returns a *FieldCountError or
// *FieldError describing why it cannot.
func (p *Parser) Parse(text string) (*Schedule, error) {
	fields, err := split(text)
	if err != nil {
		return nil, err
	}

	six := slices.Clone(fields[:6])
	if six[5], err = shiftWeekdays(six[5]); err != nil {
		return nil, &FieldError{Expr: text, Field: fieldNames[5], Value: fields[5], Err: err}
	}

	spec, err := sixField.Parse(strings.Join(six, " "))
	if err != nil {
		return nil, locate(text, fields, six, err)
	}
	specSchedule, ok := spec.(*cron.SpecSchedule)
	if !ok {
		// Descriptors are disabled, so robfig always returns a SpecSchedule.
		return nil, &FieldError{Expr: text, Field: "expression", Value: text, Err: errors.New("unsupported schedule form")}
	}
	specSchedule.Location = p.loc

	years, err := parseYears(fields[6])
	if err != nil {
		return nil, &FieldError{Expr: text, Field: fieldNames[6], Value: fields[6], Err: err}
	}

	return &Schedule{
		text:  text,
		spec:  specSchedule,
		years: years,
		loc:   p.loc,
	}, nil
}

// Check validates text without keeping the result.
func (p *Parser) Check(text string) error {
	_, err := p.Parse(text)
	return err
}

// NextRun is a convenience for one-off previews.
func (p *Parser) NextRun(text string, after time.Time) (time.Time, error) {
	s, err := p.Parse(text)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after), nil
}

var defaultParser = NewParser(nil)

// Parse parses text with schedules evaluated in time.Local.
func Parse(text string) (*Schedule, error) { return defaultParser.Parse(text) }

// ParseInLocation parses text with schedules evaluated in loc.
func ParseInLocation(text string, loc *time.Location) (*Schedule, error) {
	return NewParser(loc).Parse(text)
}

// Check returns nil for a valid expression or an error naming what is wrong.
// It never panics and has no side effects.
func Check(text string) error { return defaultParser.Check(text) }

// Validate reports whether text is a valid seven-field expression.
func Validate(text string) bool { return Check(text) == nil }

// split performs the structural check that precedes any grammar parsing.
func split(text string) ([]string, error) {
	fields := strings.Split(text, " ")
	if len(fields) != FieldCount {
		return nil, &FieldCountError{Expr: text, Got: len(fields)}
	}
	for i, f := range fields {
		if f == "" {
			return nil, &FieldError{Expr: text, Field: fieldNames[i], Value: f, Err: errors.New("empty field")}
		}
	}
	return fields, nil
}

// locate finds which of the first six fields robfig rejected by parsing each
// one against wildcards. six holds the fields as handed to robfig. The
// original error is kept if no single field fails on its own.
func locate(text string, fields, six []string, cause error) error {
	for i := 0; i < 6; i++ {
		trial := []string{"*", "*", "*", "*", "*", "*"}
		trial[i] = six[i]
		if _, err := sixField.Parse(strings.Join(trial, " ")); err != nil {
			return &FieldError{Expr: text, Field: fieldNames[i], Value: fields[i], Err: err}
		}
	}
	return &FieldError{Expr: text, Field: "expression", Value: strings.Join(fields[:6], " "), Err: cause}
}
