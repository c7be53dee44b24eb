package billing

import "time"

// =============================================================================
// PERIOD - Billing window and grace cutoff arithmetic
// =============================================================================

// Period is an inclusive time window [Start, End].
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format(time.RFC3339) + ", " + p.End.Format(time.RFC3339) + "]"
}

// MonthWindow returns the calendar month containing now, from its first
// instant to its last instant, in loc.
func MonthWindow(now time.Time, loc *time.Location) Period {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, 0).Add(-time.Nanosecond),
	}
}

// EndOfDay returns the last instant of t's day in loc.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// GraceCutoff returns the end of the day graceDays before now. Invoices
// created at or before the cutoff are past their grace period.
func GraceCutoff(now time.Time, graceDays int, loc *time.Location) time.Time {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return EndOfDay(day.AddDate(0, 0, -graceDays), loc)
}

// InvoiceTimestamp truncates now to whole seconds. Sub-second precision
// must not push an invoice outside a window check.
func InvoiceTimestamp(now time.Time) time.Time {
	return now.Truncate(time.Second)
}
