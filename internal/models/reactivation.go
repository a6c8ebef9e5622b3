package models

import "time"

// ReactivationMarker records that the re-engagement scan fired for a lost
// lead at a given day offset. At most one marker exists per (lead, days).
type ReactivationMarker struct {
	ID      string    `db:"id" json:"id"`
	LeadID  string    `db:"lead_id" json:"lead_id"`
	Days    int       `db:"days" json:"days"`
	SentAt  time.Time `db:"sent_at" json:"sent_at"`
	Outcome *string   `db:"outcome" json:"outcome,omitempty"`
}
