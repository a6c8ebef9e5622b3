package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
)

// escalationAfter is how long past due an open follow-up may sit before the
// routing target is alerted.
const escalationAfter = 24 * time.Hour

type followUpLeadStore interface {
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error)
}

type followUpStore interface {
	Create(ctx context.Context, tx *sqlx.Tx, f *models.FollowUp) error
	FindByID(ctx context.Context, id string) (*models.FollowUp, error)
	Complete(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
	MaxSeq(ctx context.Context, tx *sqlx.Tx, leadID string) (int, error)
	HasOpenAtSeq(ctx context.Context, tx *sqlx.Tx, leadID string, seq int) (bool, error)
	DueForReminder(ctx context.Context, from, to time.Time) ([]models.FollowUp, error)
	MarkReminderSent(ctx context.Context, id string) error
	MarkOverdueBefore(ctx context.Context, now time.Time) (int64, error)
	EscalationCandidates(ctx context.Context, cutoff time.Time) ([]models.FollowUp, error)
	MarkEscalated(ctx context.Context, id string) error
	ChainSuccessorCandidates(ctx context.Context) ([]string, error)
	LatestCompleted(ctx context.Context, tx *sqlx.Tx, leadID string) (*models.FollowUp, error)
}

type calendarLoader interface {
	Calendar(ctx context.Context, agentID string) (*models.CalendarSnapshot, error)
	FindByID(ctx context.Context, id string) (*models.AgentProfile, error)
}

type txRunner interface {
	WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// FollowUpService creates, advances, expires, escalates, and reminds
// follow-ups.
type FollowUpService struct {
	txer         txRunner
	leads        followUpLeadStore
	followUps    followUpStore
	agents       calendarLoader
	calendar     *WorkCalendar
	sink         notify.Sink
	clock        Clock
	chainOffsets []time.Duration
	logger       *zap.Logger
}

// NewFollowUpService builds a FollowUpService. chainOffsetsHours drives the
// contacted sequence (offset i schedules follow-up i+2 after a completion).
func NewFollowUpService(
	txer txRunner,
	leads followUpLeadStore,
	followUps followUpStore,
	agents calendarLoader,
	calendar *WorkCalendar,
	sink notify.Sink,
	clock Clock,
	chainOffsetsHours []int,
	logger *zap.Logger,
) *FollowUpService {
	offsets := make([]time.Duration, 0, len(chainOffsetsHours))
	for _, h := range chainOffsetsHours {
		offsets = append(offsets, time.Duration(h)*time.Hour)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FollowUpService{
		txer:         txer,
		leads:        leads,
		followUps:    followUps,
		agents:       agents,
		calendar:     calendar,
		sink:         sink,
		clock:        clock,
		chainOffsets: offsets,
		logger:       logger,
	}
}

// Schedule creates the next follow-up for the lead inside tx, landing the
// raw base offset inside the agent's working window. No-op when the lead has
// no agent or an open follow-up already exists at the next sequence.
func (s *FollowUpService) Schedule(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, base time.Time, offset time.Duration, note string) (*models.FollowUp, error) {
	if !lead.Assigned() {
		return nil, nil
	}

	seq, err := s.followUps.MaxSeq(ctx, tx, lead.ID)
	if err != nil {
		return nil, err
	}
	seq++

	return s.scheduleAt(ctx, tx, lead, *lead.AgentID, seq, base.Add(offset), note)
}

// ScheduleReactivation creates a re-engagement follow-up at the fixed
// out-of-chain sequence.
func (s *FollowUpService) ScheduleReactivation(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, base time.Time, offset time.Duration, note string) (*models.FollowUp, error) {
	if !lead.Assigned() {
		return nil, nil
	}
	return s.scheduleAt(ctx, tx, lead, *lead.AgentID, models.ReactivationSeq, base.Add(offset), note)
}

func (s *FollowUpService) scheduleAt(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, agentID string, seq int, rawDue time.Time, note string) (*models.FollowUp, error) {
	open, err := s.followUps.HasOpenAtSeq(ctx, tx, lead.ID, seq)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, nil
	}

	snap, err := s.agents.Calendar(ctx, agentID)
	if err != nil {
		return nil, err
	}
	due := s.calendar.NextWorkingInstant(snap, rawDue)

	f := &models.FollowUp{
		LeadID:  lead.ID,
		AgentID: agentID,
		Seq:     seq,
		DueAt:   due.UTC(),
		Note:    note,
	}
	if err := s.followUps.Create(ctx, tx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Complete marks a follow-up done. When the lead still sits in contacted,
// the next chain entry is created off the completion instant; a lead that
// moved on since gets no successor for the obsolete branch.
func (s *FollowUpService) Complete(ctx context.Context, followUpID string, actorID, note string) error {
	now := s.clock.Now()

	f, err := s.followUps.FindByID(ctx, followUpID)
	if err != nil {
		return err
	}
	if f.Completed {
		return appErrors.Clone(appErrors.ErrConflict, "follow-up already completed")
	}

	err = s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		lead, err := s.leads.FindForUpdate(ctx, tx, f.LeadID)
		if err != nil {
			return err
		}
		if err := s.followUps.Complete(ctx, tx, f.ID, now); err != nil {
			return err
		}
		if lead.State == models.StateContacted && f.Seq != models.ReactivationSeq {
			if _, err := s.scheduleChainSuccessor(ctx, tx, lead, f.Seq, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Sugar().Infow("follow-up completed",
		"lead_id", f.LeadID, "followup_id", f.ID, "seq", f.Seq, "actor", actorID, "note", note)
	return nil
}

// scheduleChainSuccessor creates follow-up completedSeq+1 for a contacted
// lead. Offsets are indexed such that sequence 2 uses the first entry. The
// chain stops once the configured offsets are exhausted.
func (s *FollowUpService) scheduleChainSuccessor(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, completedSeq int, completedAt time.Time) (*models.FollowUp, error) {
	next := completedSeq + 1
	idx := next - 2
	if idx < 0 || idx >= len(s.chainOffsets) {
		return nil, nil
	}
	if !lead.Assigned() {
		return nil, nil
	}
	note := fmt.Sprintf("contacted chain %d", next)
	return s.scheduleAt(ctx, tx, lead, *lead.AgentID, next, completedAt.Add(s.chainOffsets[idx]), note)
}

// OverduePass flags open follow-ups past due and escalates the ones sitting
// past due for more than escalationAfter. Escalations fire once per
// follow-up.
func (s *FollowUpService) OverduePass(ctx context.Context) error {
	now := s.clock.Now()

	marked, err := s.followUps.MarkOverdueBefore(ctx, now)
	if err != nil {
		return err
	}
	if marked > 0 {
		s.logger.Sugar().Infow("follow-ups marked overdue", "count", marked)
	}

	candidates, err := s.followUps.EscalationCandidates(ctx, now.Add(-escalationAfter))
	if err != nil {
		return err
	}
	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.escalate(ctx, f); err != nil {
			s.logger.Sugar().Warnw("escalation failed",
				"lead_id", f.LeadID, "followup_id", f.ID, "error", err)
		}
	}
	return nil
}

func (s *FollowUpService) escalate(ctx context.Context, f models.FollowUp) error {
	agent, err := s.agents.FindByID(ctx, f.AgentID)
	if err != nil {
		return err
	}
	payload := map[string]string{
		"lead_id":     f.LeadID,
		"followup_id": f.ID,
		"due_at":      f.DueAt.Format(time.RFC3339),
	}
	if err := s.sink.Emit(ctx, agent.RoutingTarget(), "followup_escalation", "followup_escalation:"+f.ID, payload); err != nil {
		return err
	}
	return s.followUps.MarkEscalated(ctx, f.ID)
}

// ReminderPass emits reminders for follow-ups due inside the next window.
// The Emit happens before the flag write: a crash in between replays the
// reminder next tick and the sink's dedup absorbs it.
func (s *FollowUpService) ReminderPass(ctx context.Context, window time.Duration) error {
	now := s.clock.Now()

	due, err := s.followUps.DueForReminder(ctx, now, now.Add(window))
	if err != nil {
		return err
	}
	for _, f := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		agent, err := s.agents.FindByID(ctx, f.AgentID)
		if err != nil {
			s.logger.Sugar().Warnw("reminder skipped, agent lookup failed",
				"lead_id", f.LeadID, "followup_id", f.ID, "error", err)
			continue
		}
		payload := map[string]string{
			"lead_id":     f.LeadID,
			"followup_id": f.ID,
			"seq":         fmt.Sprintf("%d", f.Seq),
			"due_at":      f.DueAt.Format(time.RFC3339),
		}
		if err := s.sink.Emit(ctx, agent.RoutingTarget(), "followup_reminder", "followup:"+f.ID, payload); err != nil {
			s.logger.Sugar().Warnw("reminder emit failed",
				"lead_id", f.LeadID, "followup_id", f.ID, "error", err)
			continue
		}
		if err := s.followUps.MarkReminderSent(ctx, f.ID); err != nil {
			s.logger.Sugar().Warnw("reminder flag write failed",
				"lead_id", f.LeadID, "followup_id", f.ID, "error", err)
		}
	}
	return nil
}

// ChainTopUpPass recovers contacted leads whose chain successor went missing,
// typically after a crash between a completion and its chained create.
func (s *FollowUpService) ChainTopUpPass(ctx context.Context) error {
	leadIDs, err := s.followUps.ChainSuccessorCandidates(ctx)
	if err != nil {
		return err
	}
	for _, leadID := range leadIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
			lead, err := s.leads.FindForUpdate(ctx, tx, leadID)
			if err != nil {
				return err
			}
			if lead.State != models.StateContacted {
				return nil
			}
			latest, err := s.followUps.LatestCompleted(ctx, tx, leadID)
			if err != nil {
				if appErrors.IsKind(err, appErrors.ErrNotFound) {
					return nil
				}
				return err
			}
			completedAt := latest.DueAt
			if latest.CompletedAt != nil {
				completedAt = *latest.CompletedAt
			}
			_, err = s.scheduleChainSuccessor(ctx, tx, lead, latest.Seq, completedAt)
			return err
		})
		if err != nil {
			s.logger.Sugar().Warnw("chain top-up failed", "lead_id", leadID, "error", err)
		}
	}
	return nil
}
