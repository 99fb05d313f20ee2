package core

import (
	"fmt"
	"time"
)

// Months is the canonical month-name table. The month key of Months[i] is
// the two-digit form of i+1.
var Months = [12]string{
	"January",
	"February",
	"March",
	"April",
	"May",
	"June",
	"July",
	"August",
	"September",
	"October",
	"November",
	"December",
}

// ParseMonth maps a canonical English month name to its two-digit key.
// Matching is exact and case-sensitive.
func ParseMonth(name string) (string, error) {
	for i, m := range Months {
		if m == name {
			return monthKey(i + 1), nil
		}
	}
	return "", Wrap(ErrValidation, "parse month", fmt.Errorf("%w: %q", ErrInvalidMonth, name))
}

// ValidMonthKey reports whether key is one of "01".."12".
func ValidMonthKey(key string) bool {
	if len(key) != 2 {
		return false
	}
	for i := 1; i <= 12; i++ {
		if monthKey(i) == key {
			return true
		}
	}
	return false
}

// zonedLayouts are the timestamp shapes that carry a UTC offset. The
// fractional-second part is optional in each.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
}

// MonthKeyFromDate extracts the month key from an ISO-8601 date or
// timestamp. A timestamp with a Z or +HH:MM suffix is converted to UTC
// first, so "2022-01-01T02:00:00+05:30" belongs to December. Dates and
// timestamps without an offset are taken literally.
func MonthKeyFromDate(date string) (string, error) {
	if len(date) < len(time.DateOnly) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	if len(date) > len(time.DateOnly) {
		for _, layout := range zonedLayouts {
			if t, err := time.Parse(layout, date); err == nil {
				return t.UTC().Format("01"), nil
			}
		}
	}
	if _, err := time.Parse(time.DateOnly, date[:len(time.DateOnly)]); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return date[5:7], nil
}

func monthKey(n int) string {
	return fmt.Sprintf("%02d", n)
}
