package timeutil

import (
	"errors"
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone data unavailable for %s: %v", name, err)
	}
	return loc
}

func TestParseLocalDateNoonAnchorKeepsDay(t *testing.T) {
	d, err := ParseLocalDate("2026-03-08")
	if err != nil {
		t.Fatalf("ParseLocalDate failed: %v", err)
	}
	for _, name := range []string{"America/Los_Angeles", "Pacific/Kiritimati", "Asia/Kolkata", "UTC"} {
		loc := mustLoc(t, name)
		noon := d.Noon(loc)
		if got := DateOf(noon.UTC(), loc); got != d {
			t.Fatalf("%s: round trip through UTC shifted day to %s", name, got)
		}
		if noon.UTC().Format(DateLayout) != "2026-03-08" && name != "Pacific/Kiritimati" {
			t.Fatalf("%s: expected UTC date to stay 2026-03-08, got %s", name, noon.UTC().Format(DateLayout))
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		date, clock string
	}{
		{"", "09:00"},
		{"2026-02-30", "09:00"},
		{"03/08/2026", "09:00"},
		{"2026-03-08", ""},
		{"2026-03-08", "9:00"},
		{"2026-03-08", "25:00"},
		{"2026-03-08", "10:60"},
	}
	for _, tc := range cases {
		_, err := HasStartedAt(tc.date, tc.clock, time.UTC, time.Now())
		var pe *ParseError
		if !errors.As(err, &pe) {
			t.Fatalf("%q %q: expected ParseError, got %v", tc.date, tc.clock, err)
		}
	}
}

func TestHasStartedBoundary(t *testing.T) {
	d := Date{Year: 2026, Month: time.May, Day: 4}
	start := d.At(Clock(10*60), time.UTC)

	if HasStarted(d, Clock(10*60), time.UTC, start.Add(-time.Second)) {
		t.Fatal("should not have started one second before")
	}
	if !HasStarted(d, Clock(10*60), time.UTC, start) {
		t.Fatal("start equal to now counts as started")
	}
}

func TestHasStartedMonotonic(t *testing.T) {
	loc := mustLoc(t, "Europe/Madrid")
	d := Date{Year: 2026, Month: time.October, Day: 25} // DST change day in Europe
	c := Clock(2*60 + 30)
	base := d.At(c, loc).Add(-3 * time.Hour)

	started := false
	for i := 0; i < 6*60; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		got := HasStarted(d, c, loc, now)
		if started && !got {
			t.Fatalf("HasStarted flipped back to false at %s", now)
		}
		started = started || got
	}
	if !started {
		t.Fatal("expected HasStarted to become true inside the sweep")
	}
}

func TestMinutesUntilSigned(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	if got, err := MinutesUntilAt("2026-05-04", "09:45", time.UTC, now); err != nil || got != 45 {
		t.Fatalf("expected 45, got %d (%v)", got, err)
	}
	if got, err := MinutesUntilAt("2026-05-04", "08:30", time.UTC, now); err != nil || got != -30 {
		t.Fatalf("expected -30, got %d (%v)", got, err)
	}
}

func TestMonthBoundsInBusinessZone(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	// 2026-04-01 02:00 UTC is still March 31 in New York.
	start, end := MonthBounds(time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC), loc)
	if start.Month() != time.March || end.Month() != time.April || end.Day() != 1 {
		t.Fatalf("unexpected bounds %s - %s", start, end)
	}
}

func TestDateHelpers(t *testing.T) {
	d := Date{Year: 2026, Month: time.December, Day: 31}
	if next := d.AddDays(1); next.String() != "2027-01-01" {
		t.Fatalf("unexpected next day %s", next)
	}
	if !d.Before(d.AddDays(1)) || d.AddDays(1).Before(d) {
		t.Fatal("Before ordering is wrong")
	}
	if c, err := ParseClock("24:00"); err != nil || c != Clock(1440) {
		t.Fatalf("expected end-of-day clock, got %d (%v)", c, err)
	}
	if Clock(9*60+5).String() != "09:05" {
		t.Fatalf("unexpected clock format %s", Clock(9*60+5))
	}
}
