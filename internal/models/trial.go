package models

import "time"

// TrialResult enumerates the outcome of a trial lesson.
type TrialResult string

const (
	TrialAttended    TrialResult = "attended"
	TrialNotAttended TrialResult = "not_attended"
	TrialAccepted    TrialResult = "accepted"
	TrialRejected    TrialResult = "rejected"
)

// ValidTrialResult reports whether r is a recognised outcome.
func ValidTrialResult(r TrialResult) bool {
	switch r {
	case TrialAttended, TrialNotAttended, TrialAccepted, TrialRejected:
		return true
	}
	return false
}

// TrialLesson is a scheduled trial visit for a lead. The two reminder flags
// cover the long (ca. 10h ahead) and short (2h ahead) horizons.
type TrialLesson struct {
	ID               string       `db:"id" json:"id"`
	LeadID           string       `db:"lead_id" json:"lead_id"`
	GroupID          string       `db:"group_id" json:"group_id"`
	RoomID           string       `db:"room_id" json:"room_id"`
	Date             time.Time    `db:"date" json:"date"`
	StartTime        *string      `db:"start_time" json:"start_time,omitempty"`
	Result           *TrialResult `db:"result" json:"result,omitempty"`
	LongReminderSent bool         `db:"long_reminder_sent" json:"long_reminder_sent"`
	NearReminderSent bool         `db:"near_reminder_sent" json:"near_reminder_sent"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// ReminderSent reports whether the given horizon's reminder went out.
func (t *TrialLesson) ReminderSent(near bool) bool {
	if near {
		return t.NearReminderSent
	}
	return t.LongReminderSent
}

// StartInstant combines date and start time in the given location. A trial
// without an explicit start time defaults to the top of the date.
func (t *TrialLesson) StartInstant(loc *time.Location) time.Time {
	day := t.Date.In(loc)
	base := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	if t.StartTime == nil {
		return base
	}
	parsed, err := time.Parse("15:04", *t.StartTime)
	if err != nil {
		return base
	}
	return base.Add(time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute)
}
