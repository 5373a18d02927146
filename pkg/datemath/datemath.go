// Package datemath provides calendar arithmetic on civil dates for instalment
// schedules.
package datemath

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

const (
	// UKLayout is the display and export format for dates.
	UKLayout = "02/01/2006"

	ukDashLayout = "02-01-2006"
	isoLayout    = "2006-01-02"
)

// IsLeapYear reports whether year is a leap year under the proleptic Gregorian rule.
func IsLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInMonth returns the number of days in the month containing d.
func DaysInMonth(d civil.Date) int {
	return daysIn(d.Year, d.Month)
}

func daysIn(year int, month time.Month) int {
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

// AddMonths moves d by n calendar months. When the target month is shorter
// than d's day, the result is clamped to the target month's last day, so
// 31 January plus one month is the last day of February.
func AddMonths(d civil.Date, n int) civil.Date {
	total := int(d.Month) - 1 + n
	years := total / 12
	months := total % 12
	if months < 0 {
		months += 12
		years--
	}
	year := d.Year + years
	month := time.Month(months + 1)

	day := d.Day
	if last := daysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

// DaysBetween returns the number of days from a up to but not including b.
// It is negative when b precedes a.
func DaysBetween(a, b civil.Date) int {
	return b.DaysSince(a)
}

// MonthsElapsed returns the number of whole months from anchor to asOf: the
// largest k for which AddMonths(anchor, k) is on or before asOf. It returns 0
// when asOf precedes anchor.
func MonthsElapsed(anchor, asOf civil.Date) int {
	if asOf.Before(anchor) {
		return 0
	}
	k := (asOf.Year-anchor.Year)*12 + int(asOf.Month) - int(anchor.Month)
	for k > 0 && AddMonths(anchor, k).After(asOf) {
		k--
	}
	return k
}

// MinDate returns the earlier of a and b.
func MinDate(a, b civil.Date) civil.Date {
	if b.Before(a) {
		return b
	}
	return a
}

// ParseDate parses YYYY-MM-DD, DD/MM/YYYY or DD-MM-YYYY. A full ISO timestamp
// is accepted and truncated to its date.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("empty date")
	}
	if i := strings.IndexByte(s, 'T'); i == len(isoLayout) {
		s = s[:i]
	}

	for _, layout := range []string{isoLayout, UKLayout, ukDashLayout} {
		t, err := time.Parse(layout, s)
		if err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD, DD/MM/YYYY or DD-MM-YYYY", s)
}

// FormatUK formats d as DD/MM/YYYY.
func FormatUK(d civil.Date) string {
	return d.In(time.UTC).Format(UKLayout)
}

// MonthName formats d as e.g. "January 2024".
func MonthName(d civil.Date) string {
	return d.In(time.UTC).Format("January 2006")
}
