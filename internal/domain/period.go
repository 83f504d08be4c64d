package domain

import (
	"fmt"
	"time"
)

// Granularity selects the time bucket size for the panel.
type Granularity string

const (
	Daily  Granularity = "day"
	Weekly Granularity = "week"
)

// ParseGranularity validates a granularity string from configuration.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Daily, Weekly:
		return Granularity(s), nil
	default:
		return "", fmt.Errorf("invalid granularity %q (want %q or %q)", s, Daily, Weekly)
	}
}

// Period is one bucket on the panel's time axis, identified by its UTC start:
// midnight for daily buckets, the ISO week's Monday for weekly buckets.
// Periods are comparable with == and usable as map keys as long as they are
// built through PeriodOf.
type Period struct {
	start time.Time
	gran  Granularity
}

// PeriodOf buckets an instant into the period containing it.
func PeriodOf(t time.Time, g Granularity) Period {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if g == Weekly {
		// Weekday is Sunday-based; shift so Monday is offset 0.
		offset := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -offset)
	}
	return Period{start: day, gran: g}
}

// Start returns the period's UTC start instant.
func (p Period) Start() time.Time { return p.start }

// Granularity returns the period's bucket size.
func (p Period) Granularity() Granularity { return p.gran }

// Next returns the immediately following period.
func (p Period) Next() Period {
	days := 1
	if p.gran == Weekly {
		days = 7
	}
	return Period{start: p.start.AddDate(0, 0, days), gran: p.gran}
}

// Before reports whether p starts before q.
func (p Period) Before(q Period) bool { return p.start.Before(q.start) }

// IsZero reports whether p is the zero Period.
func (p Period) IsZero() bool { return p.start.IsZero() }

// String renders "2021-W07" for weekly periods and "2021-02-15" for daily.
func (p Period) String() string {
	if p.gran == Weekly {
		year, week := p.start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return p.start.Format("2006-01-02")
}

// ParsePeriod parses the String form back into a Period.
func ParsePeriod(s string, g Granularity) (Period, error) {
	if g == Weekly {
		var year, week int
		if _, err := fmt.Sscanf(s, "%d-W%d", &year, &week); err != nil {
			return Period{}, fmt.Errorf("parse weekly period %q: %w", s, err)
		}
		if week < 1 || week > 53 {
			return Period{}, fmt.Errorf("parse weekly period %q: week out of range", s)
		}
		// January 4th is always inside ISO week 1.
		jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
		return PeriodOf(jan4.AddDate(0, 0, (week-1)*7), Weekly), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Period{}, fmt.Errorf("parse daily period %q: %w", s, err)
	}
	return PeriodOf(t, Daily), nil
}

// PeriodRange returns every period from the bucket containing from through
// the bucket containing to, inclusive. Returns nil when to precedes from.
func PeriodRange(from, to time.Time, g Granularity) []Period {
	first := PeriodOf(from, g)
	last := PeriodOf(to, g)
	if last.Before(first) {
		return nil
	}
	var periods []Period
	for p := first; !last.Before(p); p = p.Next() {
		periods = append(periods, p)
	}
	return periods
}
