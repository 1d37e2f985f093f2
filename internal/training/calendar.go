package training

import (
	"fmt"
	"time"

	"github.com/lox/harmoclimate/internal/models"
)

const (
	DaysPerNoLeapYear = 365
	HoursPerDay       = 24

	// LeapDaySentinel is the day index assigned to February 29.
	LeapDaySentinel = -1
)

// IsLeapYear applies the Gregorian leap-year rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// NoLeapDayIndex returns the UTC day of year on a 365-day calendar. In leap
// years February 29 maps to LeapDaySentinel and later days are shifted back by
// one, so December 31 is always 365.
func NoLeapDayIndex(t time.Time) int {
	t = t.UTC()
	doy := t.YearDay()
	if !IsLeapYear(t.Year()) {
		return doy
	}
	if t.Month() == time.February && t.Day() == 29 {
		return LeapDaySentinel
	}
	if t.Month() > time.February {
		return doy - 1
	}
	return doy
}

// RequireHourly fails with ErrNotHourly on the first timestamp that is not on a
// whole UTC hour.
func RequireHourly(times []time.Time) error {
	for i, ts := range times {
		u := ts.UTC()
		if u.Minute() != 0 || u.Second() != 0 || u.Nanosecond() != 0 {
			return fmt.Errorf("%w: row %d at %s", models.ErrNotHourly, i, u.Format(time.RFC3339Nano))
		}
	}
	return nil
}
