package models

import "time"

// DailyKPI is the per-agent end-of-day aggregate. One row per (agent, date);
// recomputation overwrites.
type DailyKPI struct {
	ID                 string    `db:"id" json:"id"`
	AgentID            string    `db:"agent_id" json:"agent_id"`
	Date               time.Time `db:"date" json:"date"`
	Contacts           int       `db:"contacts" json:"contacts"`
	ScheduledFollowUps int       `db:"scheduled_followups" json:"scheduled_followups"`
	CompletedFollowUps int       `db:"completed_followups" json:"completed_followups"`
	TrialsRegistered   int       `db:"trials_registered" json:"trials_registered"`
	TrialsToEnrollment int       `db:"trials_to_enrollment" json:"trials_to_enrollment"`
	OverdueCount       int       `db:"overdue_count" json:"overdue_count"`
	CompletionRate     float64   `db:"completion_rate" json:"completion_rate"`
	ConversionRate     float64   `db:"conversion_rate" json:"conversion_rate"`
	ComputedAt         time.Time `db:"computed_at" json:"computed_at"`
}

// MonthlyKPI is the per-agent monthly aggregate with the weighted score.
// One row per (agent, year, month); recomputation overwrites.
type MonthlyKPI struct {
	ID                 string    `db:"id" json:"id"`
	AgentID            string    `db:"agent_id" json:"agent_id"`
	Year               int       `db:"year" json:"year"`
	Month              int       `db:"month" json:"month"`
	Contacts           int       `db:"contacts" json:"contacts"`
	ScheduledFollowUps int       `db:"scheduled_followups" json:"scheduled_followups"`
	CompletedFollowUps int       `db:"completed_followups" json:"completed_followups"`
	TrialsRegistered   int       `db:"trials_registered" json:"trials_registered"`
	Enrolled           int       `db:"enrolled" json:"enrolled"`
	OverdueCount       int       `db:"overdue_count" json:"overdue_count"`
	AvgResponseMinutes float64   `db:"avg_response_minutes" json:"avg_response_minutes"`
	Score              float64   `db:"score" json:"score"`
	ComputedAt         time.Time `db:"computed_at" json:"computed_at"`
}

// Pagination describes list paging metadata on the ops surface.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}
