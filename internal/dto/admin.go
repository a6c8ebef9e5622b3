package dto

// TriggerResult reports an on-demand run of a periodic job kind.
type TriggerResult struct {
	Kind    string `json:"kind"`
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// CreateLeaveRequest opens a leave request for an agent.
type CreateLeaveRequest struct {
	AgentID   string `json:"agent_id" validate:"required"`
	StartDate string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    string `json:"reason" validate:"max=500"`
}

// ResolveLeaveRequest approves or rejects a pending leave.
type ResolveLeaveRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
}

// CompleteFollowUpRequest closes a follow-up, optionally advancing the lead.
type CompleteFollowUpRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Note    string `json:"note,omitempty"`
}

// TransitionRequest moves a lead to a target state from the ops surface.
type TransitionRequest struct {
	Target  string `json:"target" validate:"required"`
	ActorID string `json:"actor_id,omitempty"`
	Note    string `json:"note,omitempty"`
}

// CreateTrialRequest books a trial lesson for a lead.
type CreateTrialRequest struct {
	LeadID    string `json:"lead_id" validate:"required"`
	GroupID   string `json:"group_id" validate:"required"`
	RoomID    string `json:"room_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
}

// TrialResultRequest records a trial outcome.
type TrialResultRequest struct {
	Result  string `json:"result" validate:"required,oneof=attended not_attended accepted rejected"`
	ActorID string `json:"actor_id,omitempty"`
}
