package models

import "time"

// LeadState enumerates the lifecycle states of a sales lead.
type LeadState string

const (
	StateNew              LeadState = "new"
	StateContacted        LeadState = "contacted"
	StateInterested       LeadState = "interested"
	StateTrialRegistered  LeadState = "trial_registered"
	StateTrialAttended    LeadState = "trial_attended"
	StateTrialNotAttended LeadState = "trial_not_attended"
	StateOfferSent        LeadState = "offer_sent"
	StateEnrolled         LeadState = "enrolled"
	StateLost             LeadState = "lost"
	StateReactivation     LeadState = "reactivation"
)

// LeadSource enumerates where a lead came from.
type LeadSource string

const (
	SourceInstagram   LeadSource = "instagram"
	SourceTelegram    LeadSource = "telegram"
	SourceYouTube     LeadSource = "youtube"
	SourceOrganic     LeadSource = "organic"
	SourceWebForm     LeadSource = "web-form"
	SourceSheetImport LeadSource = "sheet-import"
	SourceReferral    LeadSource = "referral"
	SourcePhone       LeadSource = "phone"
	SourceWalkIn      LeadSource = "walk-in"
	SourceOther       LeadSource = "other"
)

// KnownSources lists every accepted source tag.
var KnownSources = []LeadSource{
	SourceInstagram, SourceTelegram, SourceYouTube, SourceOrganic,
	SourceWebForm, SourceSheetImport, SourceReferral, SourcePhone,
	SourceWalkIn, SourceOther,
}

// ValidSource reports whether tag is one of the accepted source values.
func ValidSource(tag LeadSource) bool {
	for _, s := range KnownSources {
		if s == tag {
			return true
		}
	}
	return false
}

// Lead is a prospective student tracked through the sales pipeline.
type Lead struct {
	ID             string     `db:"id" json:"id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Phone          string     `db:"phone" json:"phone"`
	SecondaryPhone *string    `db:"secondary_phone" json:"secondary_phone,omitempty"`
	Source         LeadSource `db:"source" json:"source"`
	CourseID       *string    `db:"course_id" json:"course_id,omitempty"`
	BranchID       *string    `db:"branch_id" json:"branch_id,omitempty"`
	State          LeadState  `db:"state" json:"state"`
	AgentID        *string    `db:"agent_id" json:"agent_id,omitempty"`
	AssignedAt     *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	LostAt         *time.Time `db:"lost_at" json:"lost_at,omitempty"`
	EnrolledAt     *time.Time `db:"enrolled_at" json:"enrolled_at,omitempty"`

	// Denormalised trial lookup fields, copied on trial registration.
	TrialGroupID *string    `db:"trial_group_id" json:"trial_group_id,omitempty"`
	TrialRoomID  *string    `db:"trial_room_id" json:"trial_room_id,omitempty"`
	TrialDate    *time.Time `db:"trial_date" json:"trial_date,omitempty"`
	TrialStart   *string    `db:"trial_start" json:"trial_start,omitempty"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Assigned reports whether the lead has an owner agent.
func (l *Lead) Assigned() bool {
	return l.AgentID != nil && *l.AgentID != ""
}

// LeadHistory is an append-only record of a state change. Rows are never
// mutated after creation.
type LeadHistory struct {
	ID        string     `db:"id" json:"id"`
	LeadID    string     `db:"lead_id" json:"lead_id"`
	FromState *LeadState `db:"from_state" json:"from_state,omitempty"`
	ToState   LeadState  `db:"to_state" json:"to_state"`
	ActorID   *string    `db:"actor_id" json:"actor_id,omitempty"`
	Note      string     `db:"note" json:"note"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

// LeadFilter captures listing options for the ops surface.
type LeadFilter struct {
	State    LeadState
	Source   LeadSource
	AgentID  string
	Search   string
	Page     int
	PageSize int
}
