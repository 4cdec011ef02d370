// Package period вычисляет даты продления подписки по частоте списаний.
package period

import (
	"fmt"
	"time"
)

// Days возвращает длину периода подписки в днях.
func Days(frequency string) (int, error) {
	switch frequency {
	case "daily":
		return 1, nil
	case "weekly":
		return 7, nil
	case "monthly":
		return 30, nil
	case "yearly":
		return 365, nil
	default:
		return 0, fmt.Errorf("period.Days: unknown frequency %q", frequency)
	}
}

// RenewalDate возвращает дату продления: начало подписки плюс один период.
func RenewalDate(start time.Time, frequency string) (time.Time, error) {
	days, err := Days(frequency)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 0, days), nil
}

// ParseDate принимает дату в RFC 3339 или в виде YYYY-MM-DD (полночь UTC).
func ParseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("period.ParseDate: %q is not a valid date", value)
	}
	return t, nil
}

// SameDay сообщает, приходятся ли два момента на один календарный день UTC.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
