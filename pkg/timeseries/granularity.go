package timeseries

import (
	"fmt"
	"time"
)

// Granularity is the requested bucket width for a time-series query.
type Granularity string

const (
	FiveMin    Granularity = "5min"
	FifteenMin Granularity = "15min"
	ThirtyMin  Granularity = "30min"
	Hourly     Granularity = "hourly"
	Daily      Granularity = "daily"
	Weekly     Granularity = "weekly"
	Monthly    Granularity = "monthly"
)

// fixedWidths maps the fixed-width granularities to their bucket size.
// Weekly, daily and monthly are calendar units and handled separately.
var fixedWidths = map[Granularity]time.Duration{
	FiveMin:    5 * time.Minute,
	FifteenMin: 15 * time.Minute,
	ThirtyMin:  30 * time.Minute,
	Hourly:     time.Hour,
}

// ParseGranularity validates a granularity token from the API
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case FiveMin, FifteenMin, ThirtyMin, Hourly, Daily, Weekly, Monthly:
		return g, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
}

func (g Granularity) valid() bool {
	_, err := ParseGranularity(string(g))
	return err == nil
}

// Truncate returns the start of the bucket containing t. Buckets align to
// natural UTC boundaries: sub-hourly to minute multiples within the hour,
// hourly to the top of the hour, daily to UTC midnight, weekly to Monday
// 00:00 UTC, monthly to the first of the calendar month.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	if d, ok := fixedWidths[g]; ok {
		return t.Truncate(d)
	}

	year, month, day := t.Date()
	switch g {
	case Daily:
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	case Weekly:
		midnight := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		// time.Weekday counts Sunday as 0; shift so Monday starts the week
		return midnight.AddDate(0, 0, -int((t.Weekday()+6)%7))
	case Monthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Next returns the start of the bucket following the one starting at t.
// t must already be a bucket start. Monthly buckets advance by calendar
// month, so widths vary between 28 and 31 days.
func (g Granularity) Next(t time.Time) time.Time {
	if d, ok := fixedWidths[g]; ok {
		return t.Add(d)
	}

	switch g {
	case Daily:
		return t.AddDate(0, 0, 1)
	case Weekly:
		return t.AddDate(0, 0, 7)
	case Monthly:
		return t.AddDate(0, 1, 0)
	}
	return t
}
