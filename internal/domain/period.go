package domain

import "time"

// BillingPeriod is an inclusive [Start, End] window within which the monthly
// pack quota applies. End is the last millisecond before the next period.
type BillingPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the period.
func (p BillingPeriod) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// CurrentPeriod returns the billing period containing now for the anchor day.
func CurrentPeriod(anchorDay int, now time.Time) BillingPeriod {
	start := PeriodStart(anchorDay, now)
	return BillingPeriod{Start: start, End: PeriodEnd(start, anchorDay)}
}

// PeriodStart returns the start of the billing period containing now.
//
// The period starts on the anchor day of the current month when today is on
// or after it, otherwise on the anchor day of the previous month. The anchor
// is clamped to the last day of the target month, so anchor 31 starts on
// Feb 28 (or 29) in February. All arithmetic is done in UTC.
func PeriodStart(anchorDay int, now time.Time) time.Time {
	anchorDay = normalizeAnchorDay(anchorDay)
	now = now.UTC()

	year, month := now.Year(), now.Month()
	day := clampDay(year, month, anchorDay)
	if now.Day() >= day {
		return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	}

	prev := time.Date(year, month-1, 1, 0, 0, 0, 0, time.UTC)
	day = clampDay(prev.Year(), prev.Month(), anchorDay)
	return time.Date(prev.Year(), prev.Month(), day, 0, 0, 0, 0, time.UTC)
}

// PeriodEnd returns the inclusive end of the period that begins at
// periodStart: one millisecond before the next period start, which is the
// anchor day of the following month (clamped the same way as PeriodStart).
func PeriodEnd(periodStart time.Time, anchorDay int) time.Time {
	return nextPeriodStart(periodStart, anchorDay).Add(-time.Millisecond)
}

func nextPeriodStart(periodStart time.Time, anchorDay int) time.Time {
	anchorDay = normalizeAnchorDay(anchorDay)
	periodStart = periodStart.UTC()

	next := time.Date(periodStart.Year(), periodStart.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	day := clampDay(next.Year(), next.Month(), anchorDay)
	return time.Date(next.Year(), next.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AddMonths adds n calendar months to t, clamping the day of month to the
// last valid day of the target month (Aug 31 + 6 months = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	day := clampDay(first.Year(), first.Month(), t.Day())
	return time.Date(first.Year(), first.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampDay(year int, month time.Month, day int) int {
	return min(day, DaysInMonth(year, month))
}

func normalizeAnchorDay(anchorDay int) int {
	if anchorDay < 1 {
		return 1
	}
	if anchorDay > 31 {
		return 31
	}
	return anchorDay
}
