// Package calendar implements the 30/360 day-count and period-boundary
// arithmetic shared by the credit and tranche engines. A month always
// contributes exactly 30 days to a day-count, while period boundaries still
// align with real month numbers (January, April, July and October open the
// quarters). The convention is deliberately not calendar-accurate: downstream
// yield and due computations depend on it bit for bit.
package calendar

import (
	"errors"
	"time"
)

var ErrStartDateLaterThanEndDate = errors.New("calendar: start date later than end date")

// DaysInMonth is the fixed month length under the 30/360 convention.
const DaysInMonth = 30

// DaysInYear is the fixed year length under the 30/360 convention.
const DaysInYear = 360

// PeriodDuration selects the pay-period granularity used by a pool.
type PeriodDuration uint8

const (
	Monthly PeriodDuration = iota
	Quarterly
	SemiAnnually
)

func (d PeriodDuration) String() string {
	switch d {
	case Monthly:
		return "monthly"
	case Quarterly:
		return "quarterly"
	case SemiAnnually:
		return "semi-annually"
	default:
		return "unknown"
	}
}

// MonthsPerPeriod returns the number of real months covered by one period.
func (d PeriodDuration) MonthsPerPeriod() int {
	switch d {
	case Quarterly:
		return 3
	case SemiAnnually:
		return 6
	default:
		return 1
	}
}

// TotalDaysInFullPeriod returns the 30/360 day count of one whole period.
func TotalDaysInFullPeriod(d PeriodDuration) int {
	return d.MonthsPerPeriod() * DaysInMonth
}

// Calendar performs period math against an injectable reference clock so that
// the scheduling engine stays deterministic under test.
type Calendar struct {
	now func() time.Time
}

// New constructs a calendar driven by the wall clock.
func New() Calendar {
	return Calendar{now: time.Now}
}

// NewWithClock constructs a calendar with an explicit reference clock.
func NewWithClock(now func() time.Time) Calendar {
	if now == nil {
		now = time.Now
	}
	return Calendar{now: now}
}

// Now exposes the calendar's reference time.
func (c Calendar) Now() time.Time {
	if c.now == nil {
		return time.Now().UTC()
	}
	return c.now().UTC()
}

// StartDateOfPeriod floors ts to the first day of its containing period.
func (c Calendar) StartDateOfPeriod(d PeriodDuration, ts time.Time) time.Time {
	ts = ts.UTC()
	months := d.MonthsPerPeriod()
	year, month, _ := ts.Date()
	startMonth := ((int(month)-1)/months)*months + 1
	return time.Date(year, time.Month(startMonth), 1, 0, 0, 0, 0, time.UTC)
}

// StartDateOfNextPeriod returns the first day of the period immediately after
// the period containing ts. The zero time designates the reference clock.
func (c Calendar) StartDateOfNextPeriod(d PeriodDuration, ts time.Time) time.Time {
	if ts.IsZero() {
		ts = c.Now()
	}
	start := c.StartDateOfPeriod(d, ts)
	return start.AddDate(0, d.MonthsPerPeriod(), 0)
}

// DaysRemainingInPeriod counts the 30/360 days from the reference time to
// endDate. It fails when the reference time has already passed endDate.
func (c Calendar) DaysRemainingInPeriod(endDate time.Time) (int, error) {
	return c.DaysDiff(c.Now(), endDate)
}

// DaysDiff computes the 30/360 day count between start and end. A zero start
// is substituted with the reference time. The 31st of a month is normalised to
// the 30th on both endpoints independently, so differences across a month
// boundary come out to exactly 30 regardless of the month's true length.
func (c Calendar) DaysDiff(start, end time.Time) (int, error) {
	if start.IsZero() {
		start = c.Now()
	}
	start = start.UTC()
	end = end.UTC()
	if start.After(end) {
		return 0, ErrStartDateLaterThanEndDate
	}
	return daysDiff30360(start, end), nil
}

// DaysDiffSincePreviousPeriodStart counts the 30/360 days from the start of
// the period periodsPassed periods before ts's period up to ts itself.
func (c Calendar) DaysDiffSincePreviousPeriodStart(d PeriodDuration, periodsPassed int, ts time.Time) (int, error) {
	ts = ts.UTC()
	start := c.StartDateOfPeriod(d, ts)
	if periodsPassed > 0 {
		start = start.AddDate(0, -periodsPassed*d.MonthsPerPeriod(), 0)
	}
	return c.DaysDiff(start, ts)
}

// NumPeriodsPassed counts the whole period boundaries crossed between start
// and end: zero when both fall inside the same period, otherwise the integer
// difference of their period indexes.
func (c Calendar) NumPeriodsPassed(d PeriodDuration, start, end time.Time) (int, error) {
	start = start.UTC()
	end = end.UTC()
	if start.After(end) {
		return 0, ErrStartDateLaterThanEndDate
	}
	return periodIndex(d, end) - periodIndex(d, start), nil
}

func periodIndex(d PeriodDuration, ts time.Time) int {
	year, month, _ := ts.Date()
	return (year*12 + int(month) - 1) / d.MonthsPerPeriod()
}

func daysDiff30360(start, end time.Time) int {
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	if sd == 31 {
		sd = 30
	}
	if ed == 31 {
		ed = 30
	}
	return (ey-sy)*DaysInYear + (int(em)-int(sm))*DaysInMonth + (ed - sd)
}
