// Package timeutil provides the clock and calendar helpers used to decide a
// learner's "today". All calendar math happens in one configured location;
// the results are returned as UTC midnights so they can be stored and
// compared without timezone drift.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DefaultLocation is used when no timezone is configured (Almaty, UTC+5, no DST).
var DefaultLocation = time.FixedZone("Asia/Almaty", 5*60*60)

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLOCK
// ══════════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so handlers can be tested deterministically.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time

	// Today returns the current calendar date in the clock's location,
	// as UTC midnight.
	Today() time.Time

	// Location returns the location calendar dates are computed in.
	Location() *time.Location
}

// SystemClock reads the wall clock.
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a clock for the given location (nil → DefaultLocation).
func NewSystemClock(loc *time.Location) *SystemClock {
	if loc == nil {
		loc = DefaultLocation
	}
	return &SystemClock{loc: loc}
}

// Now implements Clock.
func (c *SystemClock) Now() time.Time { return time.Now().UTC() }

// Today implements Clock.
func (c *SystemClock) Today() time.Time { return DateIn(c.Now(), c.loc) }

// Location implements Clock.
func (c *SystemClock) Location() *time.Location { return c.loc }

// FixedClock is a manually driven clock for tests.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
	loc *time.Location
}

// NewFixedClock creates a clock frozen at now, using now's location for dates.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now, loc: now.Location()}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.UTC()
}

// Today implements Clock.
func (c *FixedClock) Today() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return DateIn(c.now, c.loc)
}

// Location implements Clock.
func (c *FixedClock) Location() *time.Location { return c.loc }

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ══════════════════════════════════════════════════════════════════════════════
// CALENDAR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// LoadLocation resolves an IANA name; empty → DefaultLocation.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return DefaultLocation, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DateIn returns the calendar date of t in loc, as UTC midnight.
func DateIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = DefaultLocation
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfWeek returns the Monday of the week containing date (UTC midnight).
func StartOfWeek(date time.Time) time.Time {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	weekday := int(d.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return d.AddDate(0, 0, -(weekday - 1))
}

// IsSameDay checks if two times fall on the same calendar day in loc.
func IsSameDay(t1, t2 time.Time, loc *time.Location) bool {
	return DateIn(t1, loc).Equal(DateIn(t2, loc))
}

// ParseDate parses a YYYY-MM-DD string into UTC midnight.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(FormatDate, value, time.UTC)
}

// FormatDateStr formats a calendar date as YYYY-MM-DD.
func FormatDateStr(t time.Time) string {
	return t.Format(FormatDate)
}
