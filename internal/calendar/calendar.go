// Package calendar knows which days the NYSE is open. It replaces the
// noon-cutoff trading day of the crypto backend with the exchange calendar
// that composition rows are keyed by.
package calendar

import (
	"time"
	_ "time/tzdata"
)

// NewYork is the exchange's location.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// juneteenthFrom is the first year the NYSE closed for Juneteenth.
const juneteenthFrom = 2022

// Holidays returns the NYSE full-day closures of year, as UTC midnight dates
// in calendar order. New Year's Day falling on a Saturday is not observed
// on the prior Friday.
func Holidays(year int) []time.Time {
	d := func(m time.Month, day int) time.Time { return time.Date(year, m, day, 0, 0, 0, 0, time.UTC) }

	var out []time.Time
	if ny := d(time.January, 1); ny.Weekday() != time.Saturday {
		out = append(out, observed(ny))
	}
	out = append(out,
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		easter(year).AddDate(0, 0, -2),
		lastWeekday(year, time.May, time.Monday),
	)
	if year >= juneteenthFrom {
		out = append(out, observed(d(time.June, 19)))
	}
	out = append(out,
		observed(d(time.July, 4)),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(d(time.December, 25)),
	)
	return out
}

// IsHoliday reports whether the calendar day of t is an NYSE holiday.
func IsHoliday(t time.Time) bool {
	day := dateOf(t)
	for _, h := range Holidays(day.Year()) {
		if h.Equal(day) {
			return true
		}
	}
	return false
}

// IsTradingDay reports whether the calendar day of t is a weekday that is
// not an NYSE holiday.
func IsTradingDay(t time.Time) bool {
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !IsHoliday(t)
}

// LastTradingDay returns the most recent trading day strictly before the
// New York calendar day of now, as a UTC midnight date. This is the as-of
// date of published end-of-day holdings.
func LastTradingDay(now time.Time) time.Time {
	day := dateOf(now.In(NewYork)).AddDate(0, 0, -1)
	for !IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// observed moves a Saturday holiday to Friday and a Sunday holiday to Monday.
func observed(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, 1)
	}
	return t
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+7*(n-1))
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	offset := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -offset)
}

// easter computes Western Easter Sunday (anonymous Gregorian algorithm).
func easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
