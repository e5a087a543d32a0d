// Package timeutil holds the calendar arithmetic used by booking: business-local dates,
// wall-clock times of day and "has this started yet" checks. Nothing here reads the system
// clock; callers pass now explicitly.
package timeutil

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// ParseError reports a missing or malformed date/time input. It is never recovered by
// substituting the current time.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Date is a calendar day with no time-of-day and no location.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseLocalDate parses YYYY-MM-DD. Out-of-range days such as 2026-02-30 are rejected.
func ParseLocalDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, &ParseError{Field: "date"}
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ParseError{Field: "date", Value: s, Err: err}
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

// DateOf returns the calendar day t falls on in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	t = t.In(orUTC(loc))
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Noon anchors the date at 12:00 in loc. Converting the result to UTC and back can never
// land on a neighbouring day, which midnight anchoring does for zones west of UTC.
func (d Date) Noon(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 12, 0, 0, 0, orUTC(loc))
}

// At combines the date with a time of day in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, int(c), 0, 0, orUTC(loc))
}

func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

func (d Date) Weekday() time.Weekday {
	return d.Noon(time.UTC).Weekday()
}

func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Clock is a time of day in minutes after midnight.
type Clock int

// ParseClock parses HH:MM (24h). "24:00" is accepted as end-of-day for closing hours.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, &ParseError{Field: "time"}
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, &ParseError{Field: "time", Value: s}
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, &ParseError{Field: "time", Value: s, Err: err}
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, &ParseError{Field: "time", Value: s, Err: err}
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, &ParseError{Field: "time", Value: s}
	}
	return Clock(h*60 + m), nil
}

// ClockOf returns the time of day of t in loc, truncated to the minute.
func ClockOf(t time.Time, loc *time.Location) Clock {
	t = t.In(orUTC(loc))
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// HasStarted reports whether date+clock in loc is at or before now.
func HasStarted(d Date, c Clock, loc *time.Location, now time.Time) bool {
	return !d.At(c, loc).After(now)
}

// MinutesUntil returns whole minutes from now to date+clock; negative once it has passed.
func MinutesUntil(d Date, c Clock, loc *time.Location, now time.Time) int {
	return int(d.At(c, loc).Sub(now) / time.Minute)
}

// HasStartedAt is HasStarted over raw YYYY-MM-DD / HH:MM strings.
func HasStartedAt(date, clock string, loc *time.Location, now time.Time) (bool, error) {
	d, c, err := parsePair(date, clock)
	if err != nil {
		return false, err
	}
	return HasStarted(d, c, loc, now), nil
}

// MinutesUntilAt is MinutesUntil over raw YYYY-MM-DD / HH:MM strings.
func MinutesUntilAt(date, clock string, loc *time.Location, now time.Time) (int, error) {
	d, c, err := parsePair(date, clock)
	if err != nil {
		return 0, err
	}
	return MinutesUntil(d, c, loc, now), nil
}

// MonthBounds returns [first day of t's month, first day of next month) at midnight in loc.
func MonthBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	loc = orUTC(loc)
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}

// LoadLocation resolves an IANA zone name; an empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &ParseError{Field: "timezone", Value: name, Err: err}
	}
	return loc, nil
}

func parsePair(date, clock string) (Date, Clock, error) {
	d, err := ParseLocalDate(date)
	if err != nil {
		return Date{}, 0, err
	}
	c, err := ParseClock(clock)
	if err != nil {
		return Date{}, 0, err
	}
	return d, c, nil
}

func orUTC(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
