package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/pkg/config"
	"github.com/edupoint-crm/lead-engine/pkg/export"
	"github.com/edupoint-crm/lead-engine/pkg/notify"
)

type kpiStore interface {
	UpsertDaily(ctx context.Context, k *models.DailyKPI) error
	UpsertMonthly(ctx context.Context, k *models.MonthlyKPI) error
	ListMonthly(ctx context.Context, year, month int) ([]models.MonthlyKPI, error)
}

type kpiHistoryStore interface {
	CountEnteredState(ctx context.Context, agentID string, state models.LeadState, from, to time.Time) (int, error)
	CountEnrolledAfterTrial(ctx context.Context, agentID string, from, to time.Time) (int, error)
}

type kpiFollowUpStore interface {
	DailyCounts(ctx context.Context, agentID string, from, to time.Time) (scheduled, completed int, err error)
	CountOpenOverdue(ctx context.Context, agentID string) (int, error)
	CountDueBetween(ctx context.Context, agentID string, from, to time.Time) (int, error)
	MonthResponseStats(ctx context.Context, agentID string, from, to time.Time) (completed int, avgMinutes float64, err error)
}

type kpiAgentStore interface {
	ListAll(ctx context.Context) ([]models.AgentProfile, error)
}

type reportWriter interface {
	Save(filename string, data []byte) (string, error)
}

// KPIService computes the daily and monthly per-agent aggregates and the
// morning workload digest.
type KPIService struct {
	kpis      kpiStore
	history   kpiHistoryStore
	followUps kpiFollowUpStore
	agents    kpiAgentStore
	sink      notify.Sink
	clock     Clock
	weights   config.KPIConfig
	loc       *time.Location
	reports   reportWriter
	logger    *zap.Logger
}

// NewKPIService builds a KPIService. reports may be nil to skip artifact
// generation.
func NewKPIService(
	kpis kpiStore,
	history kpiHistoryStore,
	followUps kpiFollowUpStore,
	agents kpiAgentStore,
	sink notify.Sink,
	clock Clock,
	weights config.KPIConfig,
	loc *time.Location,
	reports reportWriter,
	logger *zap.Logger,
) *KPIService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KPIService{
		kpis:      kpis,
		history:   history,
		followUps: followUps,
		agents:    agents,
		sink:      sink,
		clock:     clock,
		weights:   weights,
		loc:       loc,
		reports:   reports,
		logger:    logger,
	}
}

// DailyPass computes and upserts today's row for every agent. One failing
// agent does not stop the rest.
func (s *KPIService) DailyPass(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)

	agents, err := s.agents.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.computeDaily(ctx, agent.ID, from, to); err != nil {
			s.logger.Sugar().Warnw("daily kpi compute failed", "agent_id", agent.ID, "error", err)
		}
	}
	return nil
}

func (s *KPIService) computeDaily(ctx context.Context, agentID string, from, to time.Time) error {
	contacts, err := s.history.CountEnteredState(ctx, agentID, models.StateContacted, from, to)
	if err != nil {
		return err
	}
	scheduled, completed, err := s.followUps.DailyCounts(ctx, agentID, from, to)
	if err != nil {
		return err
	}
	trials, err := s.history.CountEnteredState(ctx, agentID, models.StateTrialRegistered, from, to)
	if err != nil {
		return err
	}
	toEnrollment, err := s.history.CountEnrolledAfterTrial(ctx, agentID, from, to)
	if err != nil {
		return err
	}
	overdue, err := s.followUps.CountOpenOverdue(ctx, agentID)
	if err != nil {
		return err
	}

	return s.kpis.UpsertDaily(ctx, &models.DailyKPI{
		AgentID:            agentID,
		Date:               from.UTC(),
		Contacts:           contacts,
		ScheduledFollowUps: scheduled,
		CompletedFollowUps: completed,
		TrialsRegistered:   trials,
		TrialsToEnrollment: toEnrollment,
		OverdueCount:       overdue,
		CompletionRate:     ratio(completed, scheduled),
		ConversionRate:     ratio(toEnrollment, trials),
		ComputedAt:         s.clock.Now().UTC(),
	})
}

// MonthlyPass computes the previous month's row for every agent and writes
// the CSV and PDF report artifacts when a report store is configured.
func (s *KPIService) MonthlyPass(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, -1, 0)
	to := from.AddDate(0, 1, 0)

	agents, err := s.agents.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.computeMonthly(ctx, agent.ID, from, to); err != nil {
			s.logger.Sugar().Warnw("monthly kpi compute failed", "agent_id", agent.ID, "error", err)
		}
	}

	if s.reports != nil {
		if err := s.writeReports(ctx, from.Year(), int(from.Month())); err != nil {
			s.logger.Sugar().Warnw("monthly report write failed", "error", err)
		}
	}
	return nil
}

func (s *KPIService) computeMonthly(ctx context.Context, agentID string, from, to time.Time) error {
	contacts, err := s.history.CountEnteredState(ctx, agentID, models.StateContacted, from, to)
	if err != nil {
		return err
	}
	scheduled, _, err := s.followUps.DailyCounts(ctx, agentID, from, to)
	if err != nil {
		return err
	}
	trials, err := s.history.CountEnteredState(ctx, agentID, models.StateTrialRegistered, from, to)
	if err != nil {
		return err
	}
	toEnrollment, err := s.history.CountEnrolledAfterTrial(ctx, agentID, from, to)
	if err != nil {
		return err
	}
	enrolled, err := s.history.CountEnteredState(ctx, agentID, models.StateEnrolled, from, to)
	if err != nil {
		return err
	}
	overdue, err := s.followUps.CountOpenOverdue(ctx, agentID)
	if err != nil {
		return err
	}
	completed, avgMinutes, err := s.followUps.MonthResponseStats(ctx, agentID, from, to)
	if err != nil {
		return err
	}

	k := &models.MonthlyKPI{
		AgentID:            agentID,
		Year:               from.Year(),
		Month:              int(from.Month()),
		Contacts:           contacts,
		ScheduledFollowUps: scheduled,
		CompletedFollowUps: completed,
		TrialsRegistered:   trials,
		Enrolled:           enrolled,
		OverdueCount:       overdue,
		AvgResponseMinutes: avgMinutes,
		ComputedAt:         s.clock.Now().UTC(),
	}
	k.Score = s.score(k, toEnrollment)
	return s.kpis.UpsertMonthly(ctx, k)
}

// score applies the weighted formula. Every ratio is a percentage in
// [0, 100]; zero denominators contribute 0.
func (s *KPIService) score(k *models.MonthlyKPI, toEnrollment int) float64 {
	completionPct := 100 * ratio(k.CompletedFollowUps, k.ScheduledFollowUps)
	conversionPct := 100 * ratio(toEnrollment, k.TrialsRegistered)
	response := 100 - k.AvgResponseMinutes/60
	if response < 0 {
		response = 0
	}
	overduePct := 100 * ratio(k.OverdueCount, k.Contacts)
	enrolledPct := 100 * ratio(k.Enrolled, k.Contacts)

	return s.weights.WeightCompletion*completionPct +
		s.weights.WeightConversion*conversionPct +
		s.weights.WeightResponse*response +
		s.weights.WeightOverdue*(100-overduePct) +
		s.weights.WeightEnrolled*enrolledPct
}

// writeReports renders the month's table to CSV and PDF under
// kpi/<year>-<month>/.
func (s *KPIService) writeReports(ctx context.Context, year, month int) error {
	rows, err := s.kpis.ListMonthly(ctx, year, month)
	if err != nil {
		return err
	}
	data := export.Dataset{
		Headers: []string{"agent", "contacts", "scheduled", "completed", "trials", "enrolled", "overdue", "avg_response_min", "score"},
	}
	for _, r := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"agent":            r.AgentID,
			"contacts":         strconv.Itoa(r.Contacts),
			"scheduled":        strconv.Itoa(r.ScheduledFollowUps),
			"completed":        strconv.Itoa(r.CompletedFollowUps),
			"trials":           strconv.Itoa(r.TrialsRegistered),
			"enrolled":         strconv.Itoa(r.Enrolled),
			"overdue":          strconv.Itoa(r.OverdueCount),
			"avg_response_min": fmt.Sprintf("%.1f", r.AvgResponseMinutes),
			"score":            fmt.Sprintf("%.2f", r.Score),
		})
	}

	prefix := fmt.Sprintf("kpi/%04d-%02d/agents", year, month)
	csvBytes, err := export.NewCSVExporter().Render(data)
	if err != nil {
		return err
	}
	if _, err := s.reports.Save(prefix+".csv", csvBytes); err != nil {
		return err
	}
	title := fmt.Sprintf("agent kpi %04d-%02d", year, month)
	pdfBytes, err := export.NewPDFExporter().Render(data, title)
	if err != nil {
		return err
	}
	_, err = s.reports.Save(prefix+".pdf", pdfBytes)
	return err
}

// DigestPass sends each agent a morning summary of today's due and overdue
// follow-ups. Agents with nothing pending are skipped.
func (s *KPIService) DigestPass(ctx context.Context) error {
	now := s.clock.Now().In(s.loc)
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 0, 1)

	agents, err := s.agents.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !agent.Active {
			continue
		}
		due, err := s.followUps.CountDueBetween(ctx, agent.ID, from, to)
		if err != nil {
			s.logger.Sugar().Warnw("digest due count failed", "agent_id", agent.ID, "error", err)
			continue
		}
		overdue, err := s.followUps.CountOpenOverdue(ctx, agent.ID)
		if err != nil {
			s.logger.Sugar().Warnw("digest overdue count failed", "agent_id", agent.ID, "error", err)
			continue
		}
		if due == 0 && overdue == 0 {
			continue
		}
		eventKey := "digest:" + agent.ID + ":" + from.Format("2006-01-02")
		payload := map[string]string{
			"date":        from.Format("2006-01-02"),
			"due_today":   strconv.Itoa(due),
			"overdue_now": strconv.Itoa(overdue),
		}
		if err := s.sink.Emit(ctx, agent.RoutingTarget(), "daily_digest", eventKey, payload); err != nil {
			s.logger.Sugar().Warnw("digest emit failed", "agent_id", agent.ID, "error", err)
		}
	}
	return nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
