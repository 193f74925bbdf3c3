package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week (0 = Sunday).
//
// Each field accepts "*", a literal, a step "*/n", an inclusive range
// "a-b", or a comma list combining those. A time matches when all five
// fields match; the traditional cron OR between restricted day-of-month
// and day-of-week is deliberately not implemented.
type Schedule struct {
	raw    string
	fields [5]fieldMatcher
}

type fieldBounds struct {
	name     string
	min, max int
}

var bounds = [5]fieldBounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// fieldMatcher with a nil set matches any value.
type fieldMatcher struct {
	set map[int]struct{}
}

func (m fieldMatcher) matches(v int) bool {
	if m.set == nil {
		return true
	}
	_, ok := m.set[v]
	return ok
}

// ParseSchedule parses and validates a 5-field expression. Errors wrap
// ErrInvalidSchedule and name the offending field.
func ParseSchedule(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: want 5 fields, got %d in %q",
			ErrInvalidSchedule, len(parts), expr)
	}
	s := &Schedule{raw: expr}
	for i, part := range parts {
		m, err := parseField(part, bounds[i])
		if err != nil {
			return nil, err
		}
		s.fields[i] = m
	}
	return s, nil
}

func parseField(spec string, b fieldBounds) (fieldMatcher, error) {
	if spec == "*" {
		return fieldMatcher{}, nil
	}
	set := map[int]struct{}{}
	for _, item := range strings.Split(spec, ",") {
		if err := addFieldItem(set, item, b); err != nil {
			return fieldMatcher{}, err
		}
	}
	return fieldMatcher{set: set}, nil
}

func addFieldItem(set map[int]struct{}, item string, b fieldBounds) error {
	switch {
	case item == "*":
		for v := b.min; v <= b.max; v++ {
			set[v] = struct{}{}
		}
		return nil

	case strings.HasPrefix(item, "*/"):
		n, err := strconv.Atoi(item[2:])
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: %s: bad step %q", ErrInvalidSchedule, b.name, item)
		}
		// Steps match multiples of n within the field's range.
		for v := b.min; v <= b.max; v++ {
			if v%n == 0 {
				set[v] = struct{}{}
			}
		}
		return nil

	case strings.Contains(item, "-"):
		lo, hi, ok := strings.Cut(item, "-")
		if !ok {
			return fmt.Errorf("%w: %s: bad range %q", ErrInvalidSchedule, b.name, item)
		}
		a, err1 := strconv.Atoi(lo)
		z, err2 := strconv.Atoi(hi)
		if err1 != nil || err2 != nil {
			return fmt.Errorf("%w: %s: bad range %q", ErrInvalidSchedule, b.name, item)
		}
		if a > z {
			return fmt.Errorf("%w: %s: reversed range %q", ErrInvalidSchedule, b.name, item)
		}
		if a < b.min || z > b.max {
			return fmt.Errorf("%w: %s: range %q outside %d-%d",
				ErrInvalidSchedule, b.name, item, b.min, b.max)
		}
		for v := a; v <= z; v++ {
			set[v] = struct{}{}
		}
		return nil

	default:
		v, err := strconv.Atoi(item)
		if err != nil {
			return fmt.Errorf("%w: %s: bad value %q", ErrInvalidSchedule, b.name, item)
		}
		if v < b.min || v > b.max {
			return fmt.Errorf("%w: %s: value %d outside %d-%d",
				ErrInvalidSchedule, b.name, v, b.min, b.max)
		}
		set[v] = struct{}{}
		return nil
	}
}

// String returns the original expression.
func (s *Schedule) String() string { return s.raw }

// Matches reports whether the schedule is due at the given time
// (minute granularity; seconds are ignored).
func (s *Schedule) Matches(t time.Time) bool {
	return s.fields[0].matches(t.Minute()) &&
		s.fields[1].matches(t.Hour()) &&
		s.fields[2].matches(t.Day()) &&
		s.fields[3].matches(int(t.Month())) &&
		s.fields[4].matches(int(t.Weekday()))
}

// Next returns the first matching minute strictly after from. The scan
// is capped at roughly one year; expressions that never match inside the
// horizon (e.g. Feb 30) return ok=false.
func (s *Schedule) Next(from time.Time) (time.Time, bool) {
	t := from.Truncate(time.Minute).Add(time.Minute)
	limit := from.AddDate(1, 0, 1)
	for t.Before(limit) {
		if s.Matches(t) {
			return t, true
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, false
}
