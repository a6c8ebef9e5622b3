package models

import "time"

// AgentProfile is a sales agent eligible to receive leads.
type AgentProfile struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	BranchID     *string   `db:"branch_id" json:"branch_id,omitempty"`
	Active       bool      `db:"active" json:"active"`
	OnLeave      bool      `db:"on_leave" json:"on_leave"`
	Absent       bool      `db:"absent" json:"absent"`
	WorkStart    string    `db:"work_start" json:"work_start"`
	WorkEnd      string    `db:"work_end" json:"work_end"`
	DailyCap     int       `db:"daily_cap" json:"daily_cap"`
	NotifyTarget *string   `db:"notify_target" json:"notify_target,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RoutingTarget is where sink notifications for this agent go. Escalations
// fall back to the user id when no explicit routing tag is set.
func (a *AgentProfile) RoutingTarget() string {
	if a.NotifyTarget != nil && *a.NotifyTarget != "" {
		return *a.NotifyTarget
	}
	return a.UserID
}

// WorkSchedule is the per-weekday working window for an agent. Weekday
// follows time.Weekday numbering (Sunday = 0).
type WorkSchedule struct {
	ID        string `db:"id" json:"id"`
	AgentID   string `db:"agent_id" json:"agent_id"`
	Weekday   int    `db:"weekday" json:"weekday"`
	StartTime string `db:"start_time" json:"start_time"`
	EndTime   string `db:"end_time" json:"end_time"`
	Active    bool   `db:"active" json:"active"`
}

// LeaveStatus enumerates leave request states.
type LeaveStatus string

const (
	LeavePending  LeaveStatus = "pending"
	LeaveApproved LeaveStatus = "approved"
	LeaveRejected LeaveStatus = "rejected"
)

// Leave is a requested absence window. Only approved leaves affect
// availability.
type Leave struct {
	ID         string      `db:"id" json:"id"`
	AgentID    string      `db:"agent_id" json:"agent_id"`
	StartDate  time.Time   `db:"start_date" json:"start_date"`
	EndDate    time.Time   `db:"end_date" json:"end_date"`
	Status     LeaveStatus `db:"status" json:"status"`
	Reason     string      `db:"reason" json:"reason"`
	ApproverID *string     `db:"approver_id" json:"approver_id,omitempty"`
	ApprovedAt *time.Time  `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Covers reports whether the leave includes the calendar day of t.
func (l *Leave) Covers(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	start := time.Date(l.StartDate.Year(), l.StartDate.Month(), l.StartDate.Day(), 0, 0, 0, 0, t.Location())
	end := time.Date(l.EndDate.Year(), l.EndDate.Month(), l.EndDate.Day(), 0, 0, 0, 0, t.Location())
	return !day.Before(start) && !day.After(end)
}

// CalendarSnapshot bundles everything the work calendar needs for one agent,
// read in a single transaction.
type CalendarSnapshot struct {
	Profile   AgentProfile
	Schedules map[int]WorkSchedule
	Leaves    []Leave
}
