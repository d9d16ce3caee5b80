// Package window holds the time-window predicates every booking, cancellation
// and payout rule is built from. All functions are pure; "now" is always
// passed in, already expressed in the provider's operating timezone.
package window

import (
	"math"
	"time"
)

// Clock is the single source of "now". Production uses SystemClock; tests
// inject a controllable one.
type Clock interface {
	Now() time.Time
}

// SystemClock reports wall-clock time in the provider's operating timezone so
// day-of-month checks never slip a day at the UTC boundary.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Day truncates t to midnight of its calendar day in t's own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween counts calendar days from "from" to "to". It compares civil
// dates, so DST shifts never produce a 23- or 25-hour "day".
func DaysBetween(from, to time.Time) int {
	fy, fm, fd := from.Date()
	ty, tm, td := to.Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

// IsWithinBookingHorizon is true iff today <= date <= today+horizonDays, by
// calendar day. Past dates are always outside.
func IsWithinBookingHorizon(date, today time.Time, horizonDays int) bool {
	days := DaysBetween(today, date)
	return days >= 0 && days <= horizonDays
}

// IsWithinDailyWindow is an inclusive day-of-month range check.
func IsWithinDailyWindow(dayStart, dayEnd int, now time.Time) bool {
	d := now.Day()
	return dayStart <= d && d <= dayEnd
}

// MinutesUntil returns whole minutes from now to target, rounded down.
// Negative means the target has passed.
func MinutesUntil(target, now time.Time) int {
	return int(math.Floor(target.Sub(now).Minutes()))
}

// At combines a calendar date with an "HH:MM" wall-clock time in loc.
func At(date time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// FirstOfNextMonth returns midnight on the first day of the month after t.
func FirstOfNextMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, t.Location())
}
