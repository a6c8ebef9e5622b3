package service

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
)

type dispatchLeadStore interface {
	ListUnassigned(ctx context.Context, limit int) ([]models.Lead, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error)
	Assign(ctx context.Context, tx *sqlx.Tx, leadID, agentID string, at time.Time) error
	CountAssignedBetween(ctx context.Context, from, to time.Time) (map[string]int, error)
}

type dispatchAgentStore interface {
	ListActive(ctx context.Context) ([]models.AgentProfile, error)
	Calendar(ctx context.Context, agentID string) (*models.CalendarSnapshot, error)
}

// candidate is one agent in the running assignment pass.
type candidate struct {
	agent    models.AgentProfile
	assigned int
	cap      int
}

// DispatchService drains the unassigned pool into eligible agents under
// capacity, least-loaded first.
type DispatchService struct {
	txer       txRunner
	leads      dispatchLeadStore
	history    historyAppender
	scheduler  followUpScheduler
	agents     dispatchAgentStore
	calendar   *WorkCalendar
	sink       notify.Sink
	clock      Clock
	defaultCap int
	loc        *time.Location
	logger     *zap.Logger
}

// NewDispatchService builds a DispatchService.
func NewDispatchService(
	txer txRunner,
	leads dispatchLeadStore,
	history historyAppender,
	scheduler followUpScheduler,
	agents dispatchAgentStore,
	calendar *WorkCalendar,
	sink notify.Sink,
	clock Clock,
	defaultCap int,
	loc *time.Location,
	logger *zap.Logger,
) *DispatchService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchService{
		txer:       txer,
		leads:      leads,
		history:    history,
		scheduler:  scheduler,
		agents:     agents,
		calendar:   calendar,
		sink:       sink,
		clock:      clock,
		defaultCap: defaultCap,
		loc:        loc,
		logger:     logger,
	}
}

// Pass assigns as many unassigned leads as eligible capacity allows. An
// empty eligible set leaves the pool untouched until the next tick. Leads
// are never unassigned automatically.
func (s *DispatchService) Pass(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)

	pool, err := s.leads.ListUnassigned(ctx, 0)
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return nil
	}

	candidates, err := s.eligibleCandidates(ctx, now)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		s.logger.Sugar().Infow("no eligible agents, leads stay unassigned", "pool", len(pool))
		return nil
	}

	assigned := 0
	for i := range pool {
		if err := ctx.Err(); err != nil {
			return err
		}
		agent := pickLeastLoaded(candidates)
		if agent == nil {
			break
		}
		if err := s.assign(ctx, &pool[i], agent.agent, now); err != nil {
			s.logger.Sugar().Warnw("lead assignment failed",
				"lead_id", pool[i].ID, "agent_id", agent.agent.ID, "error", err)
			continue
		}
		agent.assigned++
		assigned++
	}

	if assigned > 0 {
		s.logger.Sugar().Infow("dispatch pass done", "assigned", assigned, "pool", len(pool))
	}
	return nil
}

// eligibleCandidates filters active agents down to those working right now
// with remaining daily capacity.
func (s *DispatchService) eligibleCandidates(ctx context.Context, now time.Time) ([]*candidate, error) {
	agents, err := s.agents.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	counts, err := s.leads.CountAssignedBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	var out []*candidate
	for _, agent := range agents {
		snap, err := s.agents.Calendar(ctx, agent.ID)
		if err != nil {
			s.logger.Sugar().Warnw("calendar load failed, agent skipped", "agent_id", agent.ID, "error", err)
			continue
		}
		if !s.calendar.IsWorking(snap, now) {
			continue
		}
		limit := agent.DailyCap
		if limit <= 0 {
			limit = s.defaultCap
		}
		if counts[agent.ID] >= limit {
			continue
		}
		out = append(out, &candidate{agent: agent, assigned: counts[agent.ID], cap: limit})
	}

	// Deterministic tie-break on agent id.
	sort.Slice(out, func(i, j int) bool { return out[i].agent.ID < out[j].agent.ID })
	return out, nil
}

// pickLeastLoaded returns the candidate with the smallest running count, or
// nil when everyone is at cap. Candidates are pre-sorted by id, so the first
// minimum wins ties.
func pickLeastLoaded(candidates []*candidate) *candidate {
	var best *candidate
	for _, c := range candidates {
		if c.assigned >= c.cap {
			continue
		}
		if best == nil || c.assigned < best.assigned {
			best = c
		}
	}
	return best
}

// assign writes the assignment, its history row, and the initial follow-up
// in one transaction.
func (s *DispatchService) assign(ctx context.Context, lead *models.Lead, agent models.AgentProfile, now time.Time) error {
	err := s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.leads.FindForUpdate(ctx, tx, lead.ID)
		if err != nil {
			return err
		}
		if locked.Assigned() {
			// Raced with another pass.
			return nil
		}
		if err := s.leads.Assign(ctx, tx, locked.ID, agent.ID, now); err != nil {
			return err
		}
		agentID := agent.ID
		locked.AgentID = &agentID
		assignedAt := now
		locked.AssignedAt = &assignedAt

		if err := s.history.Append(ctx, tx, &models.LeadHistory{
			LeadID:    locked.ID,
			ToState:   models.StateNew,
			Note:      "assigned to " + agent.ID,
			CreatedAt: now.UTC(),
		}); err != nil {
			return err
		}

		_, err = s.scheduler.Schedule(ctx, tx, locked, now, AssignmentFollowUpOffset, "first touch")
		return err
	})
	if err != nil {
		return err
	}

	payload := map[string]string{
		"lead_id": lead.ID,
		"name":    lead.FullName,
		"phone":   lead.Phone,
		"source":  string(lead.Source),
	}
	if err := s.sink.Emit(ctx, agent.RoutingTarget(), "lead_assigned", "assigned:"+lead.ID, payload); err != nil {
		s.logger.Sugar().Warnw("assignment notification failed", "lead_id", lead.ID, "error", err)
	}
	return nil
}
