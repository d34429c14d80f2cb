// Package recurrence computes due dates for periodic compliance reviews.
package recurrence

import (
	"errors"
	"time"
)

var (
	ErrInvalidFrequency = errors.New("recurrence: frequency must be a positive number of days")
	ErrInvalidCount     = errors.New("recurrence: count must not be negative")
	ErrInvalidStart     = errors.New("recurrence: start date is zero")
)

// Next returns the first review date that falls on or after today, given a
// series anchored at start and repeating every freq days. Both start and
// today are truncated to midnight UTC before the phase is computed, so the
// result is always a midnight UTC instant on the series.
func Next(start, today time.Time, freq int) (time.Time, error) {
	if freq <= 0 {
		return time.Time{}, ErrInvalidFrequency
	}
	if start.IsZero() {
		return time.Time{}, ErrInvalidStart
	}
	s := midnight(start)
	t := midnight(today)
	if t.Before(s) {
		return s, nil
	}
	elapsed := int(t.Sub(s).Hours() / 24)
	phase := elapsed % freq
	if phase == 0 {
		return t, nil
	}
	return t.AddDate(0, 0, freq-phase), nil
}

// Upcoming returns the next count review dates on or after today, in
// ascending order. count of zero yields an empty slice.
func Upcoming(start, today time.Time, freq, count int) ([]time.Time, error) {
	if count < 0 {
		return nil, ErrInvalidCount
	}
	first, err := Next(start, today, freq)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, first.AddDate(0, 0, i*freq))
	}
	return out, nil
}

// Overdue reports whether a review scheduled at start has come due: its
// date is on or before today. A sweep that missed the scheduled day still
// picks the review up on its next run instead of waiting out a full cycle.
// A schedule anchored in the future is never due.
func Overdue(start, today time.Time, freq int) (bool, error) {
	scheduled, err := Next(start, start, freq)
	if err != nil {
		return false, err
	}
	return !scheduled.After(midnight(today)), nil
}

func midnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
