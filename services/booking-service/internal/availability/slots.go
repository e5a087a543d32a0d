// Package availability lays out service windows and detects time conflicts per employee.
package availability

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoAssignments   = errors.New("at least one service is required")
	ErrInvalidDuration = errors.New("service duration must be positive")
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Overlaps reports whether [a.Start,a.End) and [b.Start,b.End) share any instant.
// Intervals that merely touch do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Assignment pairs a selected service with the employee chosen to perform it.
type Assignment struct {
	ServiceID  string
	EmployeeID string
	Duration   time.Duration
	PriceCents int64
}

// Window is an assignment placed on the timeline.
type Window struct {
	Assignment
	Interval
}

// SequentialWindows places assignments back to back from start, in the given order.
func SequentialWindows(start time.Time, assignments []Assignment) ([]Window, error) {
	if len(assignments) == 0 {
		return nil, ErrNoAssignments
	}
	out := make([]Window, 0, len(assignments))
	cursor := start
	for _, a := range assignments {
		if a.Duration <= 0 {
			return nil, fmt.Errorf("service %s: %w", a.ServiceID, ErrInvalidDuration)
		}
		end := cursor.Add(a.Duration)
		out = append(out, Window{Assignment: a, Interval: Interval{Start: cursor, End: end}})
		cursor = end
	}
	return out, nil
}

// Span covers all windows. Windows must be non-empty and ordered.
func Span(windows []Window) Interval {
	return Interval{Start: windows[0].Start, End: windows[len(windows)-1].End}
}

// Busy is time already taken by a non-cancelled appointment.
type Busy struct {
	AppointmentID string
	EmployeeID    string
	Interval
}

type SlotResult struct {
	Accepted                 bool
	ConflictingAppointmentID string
}

// Check tests candidate windows against busy time. A window always conflicts with busy time of
// its own employee. With allowOverlap false the business serves one appointment at a time, so
// any overlapping busy interval conflicts regardless of employee.
func Check(windows []Window, busy []Busy, allowOverlap bool) SlotResult {
	for _, w := range windows {
		for _, b := range busy {
			if allowOverlap && b.EmployeeID != w.EmployeeID {
				continue
			}
			if Overlaps(w.Interval, b.Interval) {
				return SlotResult{ConflictingAppointmentID: b.AppointmentID}
			}
		}
	}
	return SlotResult{Accepted: true}
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a booking of
// length duration would not overlap any of the busy intervals.
//
// All times are expected to be in the same location (timezone).
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}
	if windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		if !overlapsAny(Interval{Start: t, End: t.Add(duration)}, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

// AvailableStarts is AvailableSlots for a multi-service sequence: a start qualifies when every
// window fits inside [open, closeAt) and passes Check.
func AvailableStarts(open, closeAt time.Time, assignments []Assignment, busy []Busy, step time.Duration, allowOverlap bool, now time.Time) []time.Time {
	if step <= 0 || !closeAt.After(open) {
		return nil
	}
	var total time.Duration
	for _, a := range assignments {
		if a.Duration <= 0 {
			return nil
		}
		total += a.Duration
	}
	if total == 0 {
		return nil
	}

	var starts []time.Time
	for t := open; !t.Add(total).After(closeAt); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		windows, err := SequentialWindows(t, assignments)
		if err != nil {
			return nil
		}
		if Check(windows, busy, allowOverlap).Accepted {
			starts = append(starts, t)
		}
	}
	return starts
}

func overlapsAny(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return true
		}
	}
	return false
}
