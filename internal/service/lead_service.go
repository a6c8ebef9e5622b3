package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
)

type leadStore interface {
	FindByID(ctx context.Context, id string) (*models.Lead, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error)
	UpdateState(ctx context.Context, tx *sqlx.Tx, lead *models.Lead) error
	List(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error)
}

type historyAppender interface {
	Append(ctx context.Context, tx *sqlx.Tx, h *models.LeadHistory) error
	ListForLead(ctx context.Context, leadID string) ([]models.LeadHistory, error)
}

type followUpScheduler interface {
	Schedule(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, base time.Time, offset time.Duration, note string) (*models.FollowUp, error)
}

// markerResolver closes a lead's re-engagement markers once the outcome is
// known.
type markerResolver interface {
	SetOutcome(ctx context.Context, leadID, outcome string) error
}

// LeadService drives lead lifecycle transitions. The state write, the
// history row, and any requested follow-up commit in one transaction under
// the lead's row lock; the sink hears about it after commit.
type LeadService struct {
	txer      txRunner
	leads     leadStore
	history   historyAppender
	scheduler followUpScheduler
	markers   markerResolver
	sink      notify.Sink
	clock     Clock
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewLeadService builds a LeadService. markers and metrics may be nil.
func NewLeadService(
	txer txRunner,
	leads leadStore,
	history historyAppender,
	scheduler followUpScheduler,
	markers markerResolver,
	sink notify.Sink,
	clock Clock,
	metrics *MetricsService,
	logger *zap.Logger,
) *LeadService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeadService{
		txer:      txer,
		leads:     leads,
		history:   history,
		scheduler: scheduler,
		markers:   markers,
		sink:      sink,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// Transition moves the lead to target, locking its row for the duration of
// the write set.
func (s *LeadService) Transition(ctx context.Context, leadID string, target models.LeadState, actorID *string, note string) error {
	now := s.clock.Now()

	var effect *TransitionEffect
	var lead *models.Lead
	err := s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		lead, err = s.leads.FindForUpdate(ctx, tx, leadID)
		if err != nil {
			return err
		}
		effect, err = s.ApplyTransitionTx(ctx, tx, lead, target, actorID, note, now)
		return err
	})
	if err != nil {
		return err
	}

	if target == models.StateReactivation && s.markers != nil {
		// The lead came back: resolve its open re-engagement markers.
		if err := s.markers.SetOutcome(ctx, leadID, "reactivated"); err != nil {
			s.logger.Sugar().Warnw("reactivation outcome write failed", "lead_id", leadID, "error", err)
		}
	}

	s.notifyTransition(ctx, lead, effect)
	return nil
}

// ApplyTransitionTx runs the state machine against an already locked lead and
// persists the effects inside tx. Callers owning a wider transaction (trial
// engine, ops surface) reuse this and emit the notification after their own
// commit via NotifyTransition.
func (s *LeadService) ApplyTransitionTx(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, target models.LeadState, actorID *string, note string, now time.Time) (*TransitionEffect, error) {
	effect, err := Transition(lead, target, actorID, note, now)
	if err != nil {
		return nil, err
	}

	if err := s.leads.UpdateState(ctx, tx, lead); err != nil {
		return nil, err
	}
	if err := s.history.Append(ctx, tx, &effect.History); err != nil {
		return nil, err
	}
	if effect.FollowUpOffset != nil {
		if _, err := s.scheduler.Schedule(ctx, tx, lead, now, *effect.FollowUpOffset, "on "+string(target)); err != nil {
			return nil, err
		}
	}
	return effect, nil
}

// NotifyTransition announces an already committed transition on the sink.
func (s *LeadService) NotifyTransition(ctx context.Context, lead *models.Lead, effect *TransitionEffect) {
	s.notifyTransition(ctx, lead, effect)
}

func (s *LeadService) notifyTransition(ctx context.Context, lead *models.Lead, effect *TransitionEffect) {
	if effect == nil || lead == nil {
		return
	}
	target := lead.ID
	if lead.Assigned() {
		target = *lead.AgentID
	}
	eventKey := string(effect.History.ToState) + ":" + lead.ID + ":" + effect.History.CreatedAt.Format(time.RFC3339)
	payload := map[string]string{
		"lead_id": lead.ID,
		"state":   string(effect.History.ToState),
		"name":    lead.FullName,
		"phone":   lead.Phone,
	}
	s.metrics.CountTransition(string(effect.History.ToState))
	if err := s.sink.Emit(ctx, target, effect.NotifyTemplate, eventKey, payload); err != nil {
		// The sink owns retries; a failed emit after commit is logged and
		// dropped here.
		s.logger.Sugar().Warnw("transition notification failed",
			"lead_id", lead.ID, "state", lead.State, "error", err)
	}
	s.logger.Sugar().Infow("lead transitioned",
		"lead_id", lead.ID, "from", effect.History.FromState, "to", effect.History.ToState)
}

// Get returns a lead with its transition log for the ops surface.
func (s *LeadService) Get(ctx context.Context, leadID string) (*models.Lead, []models.LeadHistory, error) {
	lead, err := s.leads.FindByID(ctx, leadID)
	if err != nil {
		return nil, nil, err
	}
	history, err := s.history.ListForLead(ctx, leadID)
	if err != nil {
		return nil, nil, err
	}
	return lead, history, nil
}

// List returns leads matching the filter.
func (s *LeadService) List(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error) {
	return s.leads.List(ctx, filter)
}
