package service

import (
	"fmt"
	"time"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

// allowedTransitions is the lead lifecycle graph. enrolled is terminal;
// lost re-enters only through reactivation.
var allowedTransitions = map[models.LeadState][]models.LeadState{
	models.StateNew:              {models.StateContacted, models.StateLost},
	models.StateContacted:        {models.StateInterested, models.StateTrialRegistered, models.StateLost},
	models.StateInterested:       {models.StateTrialRegistered, models.StateOfferSent, models.StateLost},
	models.StateTrialRegistered:  {models.StateTrialAttended, models.StateTrialNotAttended, models.StateLost},
	models.StateTrialAttended:    {models.StateOfferSent, models.StateEnrolled, models.StateLost},
	models.StateTrialNotAttended: {models.StateTrialRegistered, models.StateLost},
	models.StateOfferSent:        {models.StateEnrolled, models.StateLost},
	models.StateEnrolled:         {},
	models.StateLost:             {models.StateReactivation},
	models.StateReactivation:     {models.StateContacted, models.StateLost},
}

// followUpOffsets maps a target state to the base offset of its first
// follow-up. States absent here create none on entry; trial_registered is
// anchored to the trial lesson instead.
var followUpOffsets = map[models.LeadState]time.Duration{
	models.StateContacted:        24 * time.Hour,
	models.StateInterested:       24 * time.Hour,
	models.StateTrialAttended:    90 * time.Minute,
	models.StateTrialNotAttended: 24 * time.Hour,
	models.StateOfferSent:        48 * time.Hour,
	models.StateReactivation:     1 * time.Hour,
}

// AssignmentFollowUpOffset is the base offset of the first follow-up created
// when a new lead is assigned to an agent.
const AssignmentFollowUpOffset = 5 * time.Minute

// TransitionAllowed reports whether the edge from one state to another exists in the graph.
func TransitionAllowed(from, to models.LeadState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionEffect is everything an accepted transition emits. The Store
// applies the history row and follow-up request in the same transaction as
// the state write; the notification goes out after commit.
type TransitionEffect struct {
	History        models.LeadHistory
	FollowUpOffset *time.Duration
	NotifyTemplate string
}

// Transition applies target to lead, mutating its state and lifecycle
// timestamps, and returns the effects to persist. It is pure over its
// inputs; no I/O happens here.
func Transition(lead *models.Lead, target models.LeadState, actorID *string, note string, now time.Time) (*TransitionEffect, error) {
	if !TransitionAllowed(lead.State, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("transition %s -> %s not allowed for lead %s", lead.State, target, lead.ID))
	}

	prior := lead.State
	lead.State = target

	switch target {
	case models.StateLost:
		at := now.UTC()
		lead.LostAt = &at
	case models.StateEnrolled:
		at := now.UTC()
		lead.EnrolledAt = &at
	}

	effect := &TransitionEffect{
		History: models.LeadHistory{
			LeadID:    lead.ID,
			FromState: &prior,
			ToState:   target,
			ActorID:   actorID,
			Note:      note,
			CreatedAt: now.UTC(),
		},
		NotifyTemplate: NotifyTemplateForState(target),
	}

	if offset, ok := followUpOffsets[target]; ok {
		d := offset
		effect.FollowUpOffset = &d
	}

	return effect, nil
}

// NotifyTemplateForState names the sink template announcing entry into a
// state.
func NotifyTemplateForState(state models.LeadState) string {
	return "lead_" + string(state)
}
