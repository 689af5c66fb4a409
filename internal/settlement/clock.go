package settlement

import "time"

// Clock supplies "now" and calendar-day arithmetic in the settlement timezone.
type Clock struct {
	now func() time.Time
	loc *time.Location
}

// NewClock builds a clock. A nil now defaults to time.Now and a nil location to UTC.
func NewClock(now func() time.Time, loc *time.Location) Clock {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return Clock{now: now, loc: loc}
}

// Now returns the current instant in the settlement timezone.
func (c Clock) Now() time.Time {
	if c.now == nil {
		return time.Now().In(c.location())
	}
	return c.now().In(c.location())
}

// Today returns midnight of the current day.
func (c Clock) Today() time.Time {
	return c.Day(c.Now())
}

// Day truncates t to midnight of its calendar day in the settlement timezone.
func (c Clock) Day(t time.Time) time.Time {
	y, m, d := t.In(c.location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.location())
}

func (c Clock) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

func beforeDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).Before(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

func minTime(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
