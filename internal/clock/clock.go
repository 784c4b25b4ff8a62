// Package clock attributes wall-clock instants to business dates. A
// group may move its daily boundary away from midnight: with a reset
// time of 04:00, activity between midnight and 4 AM still counts
// towards the previous day.
package clock

import "time"

// Location is the single deployment timezone (UTC+8). The bot does not
// support per-group timezones.
var Location = time.FixedZone("UTC+8", 8*60*60)

// Now returns the current wall-clock time in the deployment timezone.
func Now() time.Time { return time.Now().In(Location) }

// Today returns the current calendar date (midnight in Location).
func Today() time.Time { return DateOnly(Now()) }

// DateOnly truncates t to its calendar date in its own location.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// BusinessDate maps now onto the business date defined by the daily
// reset time. Before the reset instant the previous calendar date is
// returned; at or after it, the current one. A reset time of 00:00
// makes the business date equal the calendar date.
func BusinessDate(now time.Time, resetHour, resetMinute int) time.Time {
	reset := time.Date(now.Year(), now.Month(), now.Day(), resetHour, resetMinute, 0, 0, now.Location())
	if now.Before(reset) {
		return DateOnly(now.AddDate(0, 0, -1))
	}
	return DateOnly(now)
}

// PeriodStart returns the instant the current business day began, the
// reset instant itself rather than midnight.
func PeriodStart(now time.Time, resetHour, resetMinute int) time.Time {
	reset := time.Date(now.Year(), now.Month(), now.Day(), resetHour, resetMinute, 0, 0, now.Location())
	if now.Before(reset) {
		return reset.AddDate(0, 0, -1)
	}
	return reset
}

// MonthStart truncates t to the first day of its calendar month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
