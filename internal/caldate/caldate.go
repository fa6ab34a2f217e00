// Package caldate implements civil-date arithmetic for the calendar: dates
// without a time of day or timezone, month/week boundaries and month grids.
//
// Every function here is pure. Month and year arithmetic clamps the day of
// month to the length of the target month instead of overflowing into the
// next one (Jan 31 + 1 month is Feb 28 or 29, never Mar 3).
package caldate

import (
	"fmt"
	"time"
)

const layout = "2006-01-02"

// Date is a calendar date with no time-of-day component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New builds a Date, normalizing out-of-range values the way time.Date does.
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime takes the date part of t in t's own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current local date.
func Today() Date {
	return FromTime(time.Now())
}

// Parse reads a YYYY-MM-DD string.
func Parse(s string) (Date, error) {
	t, err := time.Parse(layout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return FromTime(t), nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Weekday returns the day of the week d falls on.
func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return cmpInt(d.Year, o.Year)
	case d.Month != o.Month:
		return cmpInt(int(d.Month), int(o.Month))
	default:
		return cmpInt(d.Day, o.Day)
	}
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }
func (d Date) Equal(o Date) bool  { return d.Compare(o) == 0 }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time(time.UTC).Sub(d.Time(time.UTC)).Hours() / 24)
}

// AddDays moves d by n days across month and year boundaries.
func (d Date) AddDays(n int) Date {
	return New(d.Year, d.Month, d.Day+n)
}

// AddMonths moves d by n months, clamping the day to the target month.
func (d Date) AddMonths(n int) Date {
	total := d.Year*12 + int(d.Month-1) + n
	year := floorDiv(total, 12)
	month := time.Month(total-year*12) + 1
	day := d.Day
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return Date{Year: year, Month: month, Day: day}
}

// AddYears moves d by n years; Feb 29 lands on Feb 28 in non-leap years.
func (d Date) AddYears(n int) Date {
	return d.AddMonths(12 * n)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// IsLeapYear applies the Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	switch month {
	case time.February:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case time.April, time.June, time.September, time.November:
		return 30
	default:
		return 31
	}
}

// MonthStart returns the first day of d's month.
func MonthStart(d Date) Date {
	return Date{Year: d.Year, Month: d.Month, Day: 1}
}

// MonthEnd returns the last day of d's month.
func MonthEnd(d Date) Date {
	return Date{Year: d.Year, Month: d.Month, Day: DaysInMonth(d.Year, d.Month)}
}

// WeekStart returns the Sunday that begins the week containing d.
func WeekStart(d Date) Date {
	return WeekStartOn(d, time.Sunday)
}

// WeekEnd returns the Saturday that ends the week containing d.
func WeekEnd(d Date) Date {
	return WeekStart(d).AddDays(6)
}

// WeekStartOn returns the first day of the 7-day window containing d whose
// first weekday is first.
func WeekStartOn(d Date, first time.Weekday) Date {
	offset := (int(d.Weekday()) - int(first) + 7) % 7
	return d.AddDays(-offset)
}

// WeekDates returns the 7 dates of the Sunday-start week containing d.
func WeekDates(d Date) []Date {
	start := WeekStart(d)
	out := make([]Date, 7)
	for i := range out {
		out[i] = start.AddDays(i)
	}
	return out
}

// MonthGrid lays d's month out as Sunday-start weeks. Each cell holds the
// day of month, or 0 for the blanks before the 1st and after the last day.
func MonthGrid(d Date) [][7]int {
	first := MonthStart(d)
	lead := int(first.Weekday())
	days := DaysInMonth(d.Year, d.Month)

	weeks := make([][7]int, 0, 6)
	var week [7]int
	col := lead
	for day := 1; day <= days; day++ {
		week[col] = day
		col++
		if col == 7 {
			weeks = append(weeks, week)
			week = [7]int{}
			col = 0
		}
	}
	if col > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}

// FormatMonth renders the month heading used by the calendar views.
func FormatMonth(d Date) string {
	return fmt.Sprintf("%d년 %d월", d.Year, int(d.Month))
}

// FormatWeek renders "YYYY년 M월 N주" for the week containing d, counting
// weeks by the Thursday of that week.
func FormatWeek(d Date) string {
	thursday := WeekStart(d).AddDays(4)
	week := (thursday.Day-1)/7 + 1
	return fmt.Sprintf("%d년 %d월 %d주", thursday.Year, int(thursday.Month), week)
}

func (d Date) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
