// Package calendar answers session-boundary questions for a single named
// exchange. The core never reasons about wall-clock arithmetic or holidays
// directly; it delegates here.
package calendar

import (
	"time"
)

// Clock supplies the current instant. Production code uses RealClock;
// tests substitute a fake that advances on command.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Calendar answers session timing questions for one exchange.
type Calendar interface {
	Now() time.Time
	NextSessionOpen(after time.Time) time.Time
	PreMarketOpen(sessionDay time.Time) time.Time
	PostSessionClose(sessionDay time.Time) time.Time
}

// FixedOffsetCalendar implements Calendar using a named IANA zone and
// fixed local-time offsets for pre-market open and post-session close.
// It does not model exchange holidays or half-days; the session day is
// assumed to be every calendar day. Regular session open/close are fixed
// local times (09:30 / 16:00) consistent with the pre/post offsets.
type FixedOffsetCalendar struct {
	Location            *time.Location
	PreMarketOpenHour   int // default 4 (04:00 local)
	PostSessionCloseHr  int // default 20 (20:00 local)
	RegularOpenHour     int
	RegularOpenMinute   int
	clock               Clock
}

// NewFixedOffsetCalendar builds a calendar for the given IANA zone name
// (e.g. "America/New_York"). Falls back to UTC if the zone cannot be
// loaded.
func NewFixedOffsetCalendar(zoneName string, clock Clock) *FixedOffsetCalendar {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &FixedOffsetCalendar{
		Location:           loc,
		PreMarketOpenHour:  4,
		PostSessionCloseHr: 20,
		RegularOpenHour:    9,
		RegularOpenMinute:  30,
		clock:              clock,
	}
}

func (c *FixedOffsetCalendar) Now() time.Time {
	return c.clock.Now().In(c.Location)
}

// NextSessionOpen returns the next regular session open at or after
// `after`. If `after` falls within an ongoing session (after today's
// open, before today's close), that session's open is returned.
func (c *FixedOffsetCalendar) NextSessionOpen(after time.Time) time.Time {
	local := after.In(c.Location)
	todayOpen := c.regularOpen(local)
	todayClose := c.regularClose(local)

	if !local.Before(todayOpen) && local.Before(todayClose) {
		return todayOpen
	}
	if local.Before(todayOpen) {
		return todayOpen
	}
	nextDay := local.AddDate(0, 0, 1)
	return c.regularOpen(nextDay)
}

// PreMarketOpen returns the pre-market open instant (default 04:00 local)
// for the given session day.
func (c *FixedOffsetCalendar) PreMarketOpen(sessionDay time.Time) time.Time {
	d := sessionDay.In(c.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), c.PreMarketOpenHour, 0, 0, 0, c.Location)
}

// PostSessionClose returns the post-market close instant (default 20:00
// local) for the given session day.
func (c *FixedOffsetCalendar) PostSessionClose(sessionDay time.Time) time.Time {
	d := sessionDay.In(c.Location)
	return time.Date(d.Year(), d.Month(), d.Day(), c.PostSessionCloseHr, 0, 0, 0, c.Location)
}

func (c *FixedOffsetCalendar) regularOpen(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), c.RegularOpenHour, c.RegularOpenMinute, 0, 0, c.Location)
}

func (c *FixedOffsetCalendar) regularClose(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 16, 0, 0, 0, c.Location)
}
