package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// isoLayout is the stored form; lexical order equals chronological order
const isoLayout = "2006-01-02"

// CalendarDate is a day without time of day or zone
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewCalendarDate builds a date and rejects impossible days (e.g. 31/02)
func NewCalendarDate(year int, month time.Month, day int) (CalendarDate, error) {
	d := CalendarDate{Year: year, Month: month, Day: day}
	if err := d.Validate(); err != nil {
		return CalendarDate{}, err
	}
	return d, nil
}

// DateOf returns the calendar date of t in t's location
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// ParseDate parses a dd/mm/yyyy string
func ParseDate(s string) (CalendarDate, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return CalendarDate{}, &ParseError{Input: s, Reason: "date must be dd/mm/yyyy"}
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return CalendarDate{}, &ParseError{Input: s, Reason: "date must be dd/mm/yyyy"}
		}
		nums[i] = n
	}

	d := CalendarDate{Year: nums[2], Month: time.Month(nums[1]), Day: nums[0]}
	if err := d.Validate(); err != nil {
		return CalendarDate{}, &ParseError{Input: s, Reason: err.Error()}
	}
	return d, nil
}

// ParseISODate parses the stored yyyy-mm-dd form
func ParseISODate(s string) (CalendarDate, error) {
	t, err := time.Parse(isoLayout, s)
	if err != nil {
		return CalendarDate{}, &ParseError{Input: s, Reason: "date must be yyyy-mm-dd"}
	}
	return DateOf(t), nil
}

// Validate checks ranges, including month length and leap years
func (d CalendarDate) Validate() error {
	if d.Year < 1 || d.Year > 9999 {
		return &ValidationError{Field: "date", Reason: "year out of range"}
	}
	if d.Month < time.January || d.Month > time.December {
		return &ValidationError{Field: "date", Reason: "month out of range"}
	}
	if d.Day < 1 || d.Day > daysIn(d.Year, d.Month) {
		return &ValidationError{Field: "date", Reason: "day out of range"}
	}
	return nil
}

// IsZero reports whether the date is unset
func (d CalendarDate) IsZero() bool {
	return d == CalendarDate{}
}

// Time returns midnight UTC of the date
func (d CalendarDate) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Compare returns -1, 0 or +1
func (d CalendarDate) Compare(other CalendarDate) int {
	return d.Time().Compare(other.Time())
}

// InMonth reports whether the date falls in the given month of year
func (d CalendarDate) InMonth(year int, month time.Month) bool {
	return d.Year == year && d.Month == month
}

// MonthBounds returns the first and last day of a month
func MonthBounds(year int, month time.Month) (CalendarDate, CalendarDate) {
	return CalendarDate{Year: year, Month: month, Day: 1},
		CalendarDate{Year: year, Month: month, Day: daysIn(year, month)}
}

// String formats as dd/mm/yyyy
func (d CalendarDate) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", d.Day, int(d.Month), d.Year)
}

// ISO formats as yyyy-mm-dd
func (d CalendarDate) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func daysIn(year int, month time.Month) int {
	// day 0 of the next month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DateInMonth reports whether a dd/mm/yyyy string falls in the given month.
// Malformed strings never match.
func DateInMonth(s string, year int, month time.Month) bool {
	d, err := ParseDate(s)
	if err != nil {
		return false
	}
	return d.InMonth(year, month)
}
