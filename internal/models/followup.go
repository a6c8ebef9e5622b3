package models

import "time"

// ReactivationSeq is the fixed sequence number stamped on follow-ups created
// by the lost-lead re-engagement scan, keeping them outside the contacted
// chain numbering.
const ReactivationSeq = 99

// FollowUp is a time-bound task attached to a lead, owned by an agent.
type FollowUp struct {
	ID           string     `db:"id" json:"id"`
	LeadID       string     `db:"lead_id" json:"lead_id"`
	AgentID      string     `db:"agent_id" json:"agent_id"`
	Seq          int        `db:"seq" json:"seq"`
	DueAt        time.Time  `db:"due_at" json:"due_at"`
	Completed    bool       `db:"completed" json:"completed"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	Overdue      bool       `db:"overdue" json:"overdue"`
	Escalated    bool       `db:"escalated" json:"escalated"`
	ReminderSent bool       `db:"reminder_sent" json:"reminder_sent"`
	Note         string     `db:"note" json:"note"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}
