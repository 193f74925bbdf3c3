package cron

import (
	"errors"
	"testing"
	"time"
)

// at builds a UTC time; weekday fixtures rely on 2026-08-24 being a Monday.
func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestScheduleMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		when time.Time
		want bool
	}{
		{"wildcard any minute", "* * * * *", at(2026, 8, 24, 13, 37), true},
		{"wildcard another minute", "* * * * *", at(2026, 8, 24, 13, 38), true},

		{"daily nine match", "0 9 * * *", at(2026, 8, 24, 9, 0), true},
		{"daily nine wrong minute", "0 9 * * *", at(2026, 8, 24, 9, 1), false},
		{"daily nine wrong hour", "0 9 * * *", at(2026, 8, 24, 10, 0), false},

		{"step zero", "*/5 * * * *", at(2026, 8, 24, 9, 0), true},
		{"step five", "*/5 * * * *", at(2026, 8, 24, 9, 5), true},
		{"step ten", "*/5 * * * *", at(2026, 8, 24, 9, 10), true},
		{"step off-grid", "*/5 * * * *", at(2026, 8, 24, 9, 7), false},

		{"weekday monday", "0 9 * * 1-5", at(2026, 8, 24, 9, 0), true},
		{"weekday friday", "0 9 * * 1-5", at(2026, 8, 28, 9, 0), true},
		{"weekday saturday", "0 9 * * 1-5", at(2026, 8, 29, 9, 0), false},
		{"weekday sunday", "0 9 * * 1-5", at(2026, 8, 30, 9, 0), false},

		{"list minutes hit", "0,30 * * * *", at(2026, 8, 24, 9, 30), true},
		{"list minutes miss", "0,30 * * * *", at(2026, 8, 24, 9, 15), false},
		{"list mixing range and step", "0-4,*/30 * * * *", at(2026, 8, 24, 9, 3), true},

		{"sunday is zero", "0 12 * * 0", at(2026, 8, 30, 12, 0), true},
		{"sunday is zero miss", "0 12 * * 0", at(2026, 8, 24, 12, 0), false},

		{"specific dom", "0 0 15 * *", at(2026, 8, 15, 0, 0), true},
		{"specific dom miss", "0 0 15 * *", at(2026, 8, 16, 0, 0), false},
		{"month restricted", "0 0 1 1 *", at(2026, 1, 1, 0, 0), true},
		{"month restricted miss", "0 0 1 1 *", at(2026, 2, 1, 0, 0), false},

		// AND semantics: both day-of-month and day-of-week must match
		// when both are restricted (no POSIX OR special-case).
		{"dom and dow both match", "0 9 24 * 1", at(2026, 8, 24, 9, 0), true},
		{"dom matches dow does not", "0 9 24 * 2", at(2026, 8, 24, 9, 0), false},
		{"dow matches dom does not", "0 9 25 * 1", at(2026, 8, 24, 9, 0), false},

		{"seconds ignored", "0 9 * * *", time.Date(2026, 8, 24, 9, 0, 59, 0, time.UTC), true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseSchedule(tt.expr)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.expr, err)
			}
			if got := s.Matches(tt.when); got != tt.want {
				t.Fatalf("Matches(%q, %v) = %v, want %v", tt.expr, tt.when, got, tt.want)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
	}{
		{"too few fields", "* * * *"},
		{"too many fields", "* * * * * *"},
		{"empty", ""},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "* 24 * * *"},
		{"dom zero", "* * 0 * *"},
		{"month thirteen", "* * * 13 *"},
		{"dow seven", "* * * * 7"},
		{"zero step", "*/0 * * * *"},
		{"negative step", "*/-5 * * * *"},
		{"reversed range", "30-10 * * * *"},
		{"range out of bounds", "0 0-25 * * *"},
		{"non numeric", "abc * * * *"},
		{"bad list member", "0,x * * * *"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSchedule(tt.expr)
			if err == nil {
				t.Fatalf("ParseSchedule(%q) succeeded, want error", tt.expr)
			}
			if !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("err = %v, want ErrInvalidSchedule", err)
			}
		})
	}
}

func TestScheduleNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{"every minute", "* * * * *", at(2026, 8, 24, 9, 0), at(2026, 8, 24, 9, 1)},
		{"daily nine same day", "0 9 * * *", at(2026, 8, 24, 8, 30), at(2026, 8, 24, 9, 0)},
		{"daily nine rolls over", "0 9 * * *", at(2026, 8, 24, 9, 0), at(2026, 8, 25, 9, 0)},
		{"step five", "*/5 * * * *", at(2026, 8, 24, 9, 2), at(2026, 8, 24, 9, 5)},
		{"weekday skips weekend", "0 9 * * 1-5", at(2026, 8, 28, 10, 0), at(2026, 8, 31, 9, 0)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := ParseSchedule(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			got, ok := s.Next(tt.from)
			if !ok {
				t.Fatalf("Next(%v) found nothing", tt.from)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Next(%v) = %v, want %v", tt.from, got, tt.want)
			}
		})
	}
}

func TestScheduleNextUnreachable(t *testing.T) {
	t.Parallel()
	s, err := ParseSchedule("0 0 30 2 *")
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := s.Next(at(2026, 1, 1, 0, 0)); ok {
		t.Fatalf("Next for Feb 30 = %v, want none", got)
	}
}
