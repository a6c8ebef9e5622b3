package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
)

// trialResultStates maps a trial outcome to the lead transition it drives.
var trialResultStates = map[models.TrialResult]models.LeadState{
	models.TrialAttended:    models.StateTrialAttended,
	models.TrialNotAttended: models.StateTrialNotAttended,
	models.TrialAccepted:    models.StateEnrolled,
	models.TrialRejected:    models.StateLost,
}

type trialStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, t *models.TrialLesson) error
	FindByID(ctx context.Context, id string) (*models.TrialLesson, error)
	SetResult(ctx context.Context, tx *sqlx.Tx, id string, result models.TrialResult) error
	ListUnresolvedUntil(ctx context.Context, until time.Time) ([]models.TrialLesson, error)
	MarkReminderSent(ctx context.Context, id string, near bool) error
}

type trialLeadStore interface {
	FindByID(ctx context.Context, id string) (*models.Lead, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error)
	UpdateTrialDenorm(ctx context.Context, tx *sqlx.Tx, leadID, groupID, roomID string, date time.Time, start *string) error
}

// transitionApplier is the slice of LeadService the trial engine drives.
type transitionApplier interface {
	ApplyTransitionTx(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, target models.LeadState, actorID *string, note string, now time.Time) (*TransitionEffect, error)
	NotifyTransition(ctx context.Context, lead *models.Lead, effect *TransitionEffect)
}

// TrialService schedules trial reminders and processes trial results into
// lead transitions.
type TrialService struct {
	txer      txRunner
	trials    trialStore
	leads     trialLeadStore
	agents    calendarLoader
	lifecycle transitionApplier
	calendar  *WorkCalendar
	sink      notify.Sink
	clock     Clock
	horizons  []time.Duration
	loc       *time.Location
	logger    *zap.Logger
}

// NewTrialService builds a TrialService. horizonsHours lists the reminder
// lead times, longest first (default 10h and 2h before the trial).
func NewTrialService(
	txer txRunner,
	trials trialStore,
	leads trialLeadStore,
	agents calendarLoader,
	lifecycle transitionApplier,
	calendar *WorkCalendar,
	sink notify.Sink,
	clock Clock,
	horizonsHours []int,
	loc *time.Location,
	logger *zap.Logger,
) *TrialService {
	horizons := make([]time.Duration, 0, len(horizonsHours))
	for _, h := range horizonsHours {
		horizons = append(horizons, time.Duration(h)*time.Hour)
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrialService{
		txer:      txer,
		trials:    trials,
		leads:     leads,
		agents:    agents,
		lifecycle: lifecycle,
		calendar:  calendar,
		sink:      sink,
		clock:     clock,
		horizons:  horizons,
		loc:       loc,
		logger:    logger,
	}
}

// Create books a trial lesson, forcing the lead into trial_registered when
// the transition is allowed. A lead that cannot move there keeps its state;
// the trial row is still written (log-and-skip).
func (s *TrialService) Create(ctx context.Context, trial *models.TrialLesson, actorID *string) error {
	now := s.clock.Now()

	var lead *models.Lead
	var effect *TransitionEffect
	err := s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		lead, err = s.leads.FindForUpdate(ctx, tx, trial.LeadID)
		if err != nil {
			return err
		}
		if err := s.trials.Create(ctx, tx, trial); err != nil {
			return err
		}
		if err := s.leads.UpdateTrialDenorm(ctx, tx, lead.ID, trial.GroupID, trial.RoomID, trial.Date, trial.StartTime); err != nil {
			return err
		}

		if lead.State == models.StateTrialRegistered {
			// Re-booking after a no-show already sits in the right state.
			return nil
		}
		if !TransitionAllowed(lead.State, models.StateTrialRegistered) {
			s.logger.Sugar().Infow("trial booked without transition",
				"lead_id", lead.ID, "state", lead.State)
			return nil
		}
		effect, err = s.lifecycle.ApplyTransitionTx(ctx, tx, lead, models.StateTrialRegistered, actorID, "trial booked", now)
		return err
	})
	if err != nil {
		return err
	}

	s.lifecycle.NotifyTransition(ctx, lead, effect)
	return nil
}

// SetResult records a trial outcome and drives the mapped lead transition.
// attended and not_attended produce a follow-up through the usual offsets.
func (s *TrialService) SetResult(ctx context.Context, trialID string, result models.TrialResult, actorID *string) error {
	target, ok := trialResultStates[result]
	if !ok {
		return appErrors.Clone(appErrors.ErrValidation, "unknown trial result")
	}
	now := s.clock.Now()

	trial, err := s.trials.FindByID(ctx, trialID)
	if err != nil {
		return err
	}
	if trial.Result != nil {
		return appErrors.Clone(appErrors.ErrConflict, "trial result already recorded")
	}

	var lead *models.Lead
	var effect *TransitionEffect
	err = s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		lead, err = s.leads.FindForUpdate(ctx, tx, trial.LeadID)
		if err != nil {
			return err
		}
		if err := s.trials.SetResult(ctx, tx, trial.ID, result); err != nil {
			return err
		}
		effect, err = s.lifecycle.ApplyTransitionTx(ctx, tx, lead, target, actorID, "trial "+string(result), now)
		return err
	})
	if err != nil {
		return err
	}

	s.lifecycle.NotifyTransition(ctx, lead, effect)
	return nil
}

// ReminderPass emits reminders for unresolved trials starting within 12
// hours. Each horizon fires when its mark falls inside the tick's grace
// window and the agent is working right now; a horizon missed off-hours is
// skipped, not slid.
func (s *TrialService) ReminderPass(ctx context.Context, grace time.Duration) error {
	now := s.clock.Now().In(s.loc)

	trials, err := s.trials.ListUnresolvedUntil(ctx, now.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	for _, trial := range trials {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := trial.StartInstant(s.loc)
		if start.Before(now) || start.Sub(now) > 12*time.Hour {
			continue
		}
		for i, horizon := range s.horizons {
			near := i > 0
			if trial.ReminderSent(near) {
				continue
			}
			mark := start.Add(-horizon)
			if mark.After(now) || now.Sub(mark) > grace {
				continue
			}
			s.remind(ctx, trial, start, near)
		}
	}
	return nil
}

func (s *TrialService) remind(ctx context.Context, trial models.TrialLesson, start time.Time, near bool) {
	lead, err := s.loadAssignedLead(ctx, trial.LeadID)
	if err != nil || lead == nil {
		return
	}
	snap, err := s.agents.Calendar(ctx, *lead.AgentID)
	if err != nil {
		s.logger.Sugar().Warnw("trial reminder calendar load failed", "lead_id", trial.LeadID, "error", err)
		return
	}
	if !s.calendar.IsWorking(snap, s.clock.Now()) {
		// Off-hours horizon: skip without sliding.
		return
	}

	kind := "trial_reminder_long"
	if near {
		kind = "trial_reminder_near"
	}
	payload := map[string]string{
		"lead_id":  trial.LeadID,
		"trial_id": trial.ID,
		"group_id": trial.GroupID,
		"room_id":  trial.RoomID,
		"start":    start.Format(time.RFC3339),
	}
	if err := s.sink.Emit(ctx, snap.Profile.RoutingTarget(), kind, kind+":"+trial.ID, payload); err != nil {
		s.logger.Sugar().Warnw("trial reminder emit failed", "trial_id", trial.ID, "error", err)
		return
	}
	if err := s.trials.MarkReminderSent(ctx, trial.ID, near); err != nil {
		s.logger.Sugar().Warnw("trial reminder flag write failed", "trial_id", trial.ID, "error", err)
	}
}

// loadAssignedLead reads the trial's lead with a plain select. The reminder
// scan must not contend with transition transactions for the row lock.
func (s *TrialService) loadAssignedLead(ctx context.Context, leadID string) (*models.Lead, error) {
	lead, err := s.leads.FindByID(ctx, leadID)
	if err != nil {
		s.logger.Sugar().Warnw("trial reminder lead load failed", "lead_id", leadID, "error", err)
		return nil, err
	}
	if !lead.Assigned() {
		return nil, nil
	}
	return lead, nil
}
