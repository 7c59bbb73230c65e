// Package calendar normalizes timestamps to calendar days. A day is
// represented as a time.Time at midnight UTC so that values read back from a
// Postgres DATE column compare equal to values produced here.
package calendar

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const Layout = "2006-01-02"

// Day returns the calendar date of t in t's own location, as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts a day by n calendar days.
func AddDays(day time.Time, n int) time.Time {
	return Day(day).AddDate(0, 0, n)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Parse accepts "YYYY-MM-DD" or an RFC3339 timestamp. For timestamps the date
// is taken in the timestamp's own offset, i.e. the caller's wall-clock day.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(Layout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC3339", s)
	}
	return Day(t), nil
}

// Clock reads "today" in the school's timezone. Services take a Clock so
// tests can pin the current day.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(loc *time.Location, now func() time.Time) Clock {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Clock{loc: loc, now: now}
}

// Fixed returns a Clock whose today is always the given day.
func Fixed(day time.Time) Clock {
	return NewClock(time.UTC, func() time.Time { return day })
}

// Today returns the current calendar day in the clock's location.
func (c Clock) Today() time.Time {
	if c.now == nil {
		return Day(time.Now().UTC())
	}
	loc := c.loc
	if loc == nil {
		loc = time.UTC
	}
	return Day(c.now().In(loc))
}

// Date is a JSON-decodable calendar day.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date { return Date{Time: Day(t)} }

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := Parse(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(Layout))
}

// Ptr returns nil for a nil or zero Date, otherwise the normalized day.
func (d *Date) Ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := Day(d.Time)
	return &t
}
