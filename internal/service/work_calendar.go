package service

import (
	"time"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

// calendarScanDays bounds the forward search for a working instant.
const calendarScanDays = 14

// dayScanAnchor is the time-of-day the search jumps to when moving to the
// next calendar day.
var dayScanAnchor = clockTime{hour: 9, minute: 0}

type clockTime struct {
	hour   int
	minute int
}

func parseClockTime(raw string, fallback clockTime) clockTime {
	parsed, err := time.Parse("15:04", raw)
	if err != nil {
		return fallback
	}
	return clockTime{hour: parsed.Hour(), minute: parsed.Minute()}
}

func (ct clockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), ct.hour, ct.minute, 0, 0, day.Location())
}

// WorkCalendar answers availability questions for agents. It is a pure
// projection over a CalendarSnapshot; callers wanting cross-call consistency
// load the snapshot once.
type WorkCalendar struct {
	loc          *time.Location
	defaultStart clockTime
	defaultEnd   clockTime
}

// NewWorkCalendar builds a calendar for the business timezone with fallback
// window bounds for agents lacking an explicit weekday schedule.
func NewWorkCalendar(loc *time.Location, defaultStart, defaultEnd string) *WorkCalendar {
	if loc == nil {
		loc = time.UTC
	}
	return &WorkCalendar{
		loc:          loc,
		defaultStart: parseClockTime(defaultStart, clockTime{hour: 9}),
		defaultEnd:   parseClockTime(defaultEnd, clockTime{hour: 18}),
	}
}

// window resolves the working window for the weekday of day. The second
// return is false when the weekday is inactive.
func (c *WorkCalendar) window(snap *models.CalendarSnapshot, day time.Time) (start, end time.Time, active bool) {
	if s, ok := snap.Schedules[int(day.Weekday())]; ok {
		if !s.Active {
			return time.Time{}, time.Time{}, false
		}
		st := parseClockTime(s.StartTime, c.defaultStart)
		en := parseClockTime(s.EndTime, c.defaultEnd)
		return st.on(day), en.on(day), true
	}

	st := parseClockTime(snap.Profile.WorkStart, c.defaultStart)
	en := parseClockTime(snap.Profile.WorkEnd, c.defaultEnd)
	return st.on(day), en.on(day), true
}

func onLeave(snap *models.CalendarSnapshot, day time.Time) bool {
	for i := range snap.Leaves {
		if snap.Leaves[i].Status != models.LeaveApproved {
			continue
		}
		if snap.Leaves[i].Covers(day) {
			return true
		}
	}
	return false
}

// IsWorking reports whether t falls inside the agent's working window.
// An approved leave overrides the schedule; an inactive weekday overrides
// the time of day.
func (c *WorkCalendar) IsWorking(snap *models.CalendarSnapshot, t time.Time) bool {
	t = t.In(c.loc)
	if onLeave(snap, t) {
		return false
	}
	start, end, active := c.window(snap, t)
	if !active {
		return false
	}
	return !t.Before(start) && t.Before(end)
}

// NextWorkingInstant returns the smallest working instant >= t, searching at
// most calendarScanDays forward. When no working instant exists in that
// horizon, t comes back unchanged and the caller must tolerate it.
func (c *WorkCalendar) NextWorkingInstant(snap *models.CalendarSnapshot, t time.Time) time.Time {
	t = t.In(c.loc)
	limit := t.AddDate(0, 0, calendarScanDays)

	cursor := t
	for !cursor.After(limit) {
		if !onLeave(snap, cursor) {
			start, end, active := c.window(snap, cursor)
			if active {
				if cursor.Before(start) {
					return start
				}
				if cursor.Before(end) {
					return cursor
				}
			}
		}
		cursor = dayScanAnchor.on(cursor.AddDate(0, 0, 1))
	}
	return t
}
