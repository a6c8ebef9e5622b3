package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/pkg/config"
)

type stubKPIStore struct {
	daily   []models.DailyKPI
	monthly []models.MonthlyKPI
}

func (s *stubKPIStore) UpsertDaily(ctx context.Context, k *models.DailyKPI) error {
	s.daily = append(s.daily, *k)
	return nil
}

func (s *stubKPIStore) UpsertMonthly(ctx context.Context, k *models.MonthlyKPI) error {
	s.monthly = append(s.monthly, *k)
	return nil
}

func (s *stubKPIStore) ListMonthly(ctx context.Context, year, month int) ([]models.MonthlyKPI, error) {
	return s.monthly, nil
}

type stubKPIHistory struct {
	entered  map[models.LeadState]int
	enrolled int
}

func (s *stubKPIHistory) CountEnteredState(ctx context.Context, agentID string, state models.LeadState, from, to time.Time) (int, error) {
	return s.entered[state], nil
}

func (s *stubKPIHistory) CountEnrolledAfterTrial(ctx context.Context, agentID string, from, to time.Time) (int, error) {
	return s.enrolled, nil
}

type stubKPIFollowUps struct {
	scheduled  int
	completed  int
	overdue    int
	due        int
	avgMinutes float64
}

func (s *stubKPIFollowUps) DailyCounts(ctx context.Context, agentID string, from, to time.Time) (int, int, error) {
	return s.scheduled, s.completed, nil
}

func (s *stubKPIFollowUps) CountOpenOverdue(ctx context.Context, agentID string) (int, error) {
	return s.overdue, nil
}

func (s *stubKPIFollowUps) CountDueBetween(ctx context.Context, agentID string, from, to time.Time) (int, error) {
	return s.due, nil
}

func (s *stubKPIFollowUps) MonthResponseStats(ctx context.Context, agentID string, from, to time.Time) (int, float64, error) {
	return s.completed, s.avgMinutes, nil
}

type stubKPIAgents struct {
	agents []models.AgentProfile
}

func (s *stubKPIAgents) ListAll(ctx context.Context) ([]models.AgentProfile, error) {
	return s.agents, nil
}

type stubReports struct {
	saved map[string][]byte
}

func (s *stubReports) Save(filename string, data []byte) (string, error) {
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}
	s.saved[filename] = data
	return filename, nil
}

func defaultWeights() config.KPIConfig {
	return config.KPIConfig{
		WeightCompletion: 0.30,
		WeightConversion: 0.30,
		WeightResponse:   0.20,
		WeightOverdue:    0.10,
		WeightEnrolled:   0.10,
	}
}

func newKPIFixture(kpis *stubKPIStore, history *stubKPIHistory, followUps *stubKPIFollowUps, agents *stubKPIAgents, sink *recordingSink, reports reportWriter, now time.Time) *KPIService {
	return NewKPIService(kpis, history, followUps, agents, sink, fixedClock{t: now}, defaultWeights(), time.UTC, reports, nil)
}

func TestDailyPassComputesRates(t *testing.T) {
	now := monday(23, 0)
	kpis := &stubKPIStore{}
	history := &stubKPIHistory{entered: map[models.LeadState]int{
		models.StateContacted:       8,
		models.StateTrialRegistered: 4,
	}, enrolled: 2}
	followUps := &stubKPIFollowUps{scheduled: 10, completed: 7, overdue: 3}
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1", Active: true}}}
	svc := newKPIFixture(kpis, history, followUps, agents, &recordingSink{}, nil, now)

	require.NoError(t, svc.DailyPass(context.Background()))

	require.Len(t, kpis.daily, 1)
	row := kpis.daily[0]
	assert.Equal(t, "agent-1", row.AgentID)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), row.Date)
	assert.Equal(t, 8, row.Contacts)
	assert.Equal(t, 10, row.ScheduledFollowUps)
	assert.Equal(t, 7, row.CompletedFollowUps)
	assert.Equal(t, 4, row.TrialsRegistered)
	assert.Equal(t, 2, row.TrialsToEnrollment)
	assert.Equal(t, 3, row.OverdueCount)
	assert.InDelta(t, 0.7, row.CompletionRate, 1e-9)
	assert.InDelta(t, 0.5, row.ConversionRate, 1e-9)
}

func TestDailyPassZeroDenominators(t *testing.T) {
	now := monday(23, 0)
	kpis := &stubKPIStore{}
	history := &stubKPIHistory{entered: map[models.LeadState]int{}}
	followUps := &stubKPIFollowUps{}
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1"}}}
	svc := newKPIFixture(kpis, history, followUps, agents, &recordingSink{}, nil, now)

	require.NoError(t, svc.DailyPass(context.Background()))

	require.Len(t, kpis.daily, 1)
	assert.Zero(t, kpis.daily[0].CompletionRate)
	assert.Zero(t, kpis.daily[0].ConversionRate)
}

func TestMonthlyPassScoresPreviousMonth(t *testing.T) {
	// Run on April 1st; the row covers March.
	now := time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)
	kpis := &stubKPIStore{}
	history := &stubKPIHistory{entered: map[models.LeadState]int{
		models.StateContacted:       100,
		models.StateTrialRegistered: 20,
		models.StateEnrolled:        10,
	}, enrolled: 10}
	followUps := &stubKPIFollowUps{scheduled: 50, completed: 40, overdue: 5, avgMinutes: 600}
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1"}}}
	svc := newKPIFixture(kpis, history, followUps, agents, &recordingSink{}, nil, now)

	require.NoError(t, svc.MonthlyPass(context.Background()))

	require.Len(t, kpis.monthly, 1)
	row := kpis.monthly[0]
	assert.Equal(t, 2025, row.Year)
	assert.Equal(t, 3, row.Month)
	assert.Equal(t, 100, row.Contacts)
	assert.InDelta(t, 600, row.AvgResponseMinutes, 1e-9)

	// completion 80% * 0.30 + conversion 50% * 0.30 + response (100-10) * 0.20
	// + (100 - overdue 5%) * 0.10 + enrolled 10% * 0.10
	want := 0.30*80 + 0.30*50 + 0.20*90 + 0.10*95 + 0.10*10
	assert.InDelta(t, want, row.Score, 1e-9)
}

func TestMonthlyScoreClampsNegativeResponse(t *testing.T) {
	now := time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)
	kpis := &stubKPIStore{}
	history := &stubKPIHistory{entered: map[models.LeadState]int{}}
	followUps := &stubKPIFollowUps{avgMinutes: 9000}
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1"}}}
	svc := newKPIFixture(kpis, history, followUps, agents, &recordingSink{}, nil, now)

	require.NoError(t, svc.MonthlyPass(context.Background()))

	require.Len(t, kpis.monthly, 1)
	// Only the overdue term survives: 0 overdue over 0 contacts reads as 0%.
	assert.InDelta(t, 0.10*100, kpis.monthly[0].Score, 1e-9)
}

func TestMonthlyPassWritesReports(t *testing.T) {
	now := time.Date(2025, 4, 1, 2, 0, 0, 0, time.UTC)
	kpis := &stubKPIStore{}
	history := &stubKPIHistory{entered: map[models.LeadState]int{models.StateContacted: 1}}
	followUps := &stubKPIFollowUps{scheduled: 1, completed: 1}
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1"}}}
	reports := &stubReports{}
	svc := newKPIFixture(kpis, history, followUps, agents, &recordingSink{}, reports, now)

	require.NoError(t, svc.MonthlyPass(context.Background()))

	assert.Contains(t, reports.saved, "kpi/2025-03/agents.csv")
	assert.Contains(t, reports.saved, "kpi/2025-03/agents.pdf")
	assert.NotEmpty(t, reports.saved["kpi/2025-03/agents.csv"])
	assert.NotEmpty(t, reports.saved["kpi/2025-03/agents.pdf"])
}

func TestDigestPassEmitsOncePerAgent(t *testing.T) {
	now := monday(9, 0)
	followUps := &stubKPIFollowUps{due: 4, overdue: 2}
	agents := &stubKPIAgents{agents: []models.AgentProfile{
		{ID: "agent-1", UserID: "user-1", Active: true},
		{ID: "agent-2", UserID: "user-2", Active: false},
	}}
	sink := &recordingSink{}
	svc := newKPIFixture(&stubKPIStore{}, &stubKPIHistory{}, followUps, agents, sink, nil, now)

	require.NoError(t, svc.DigestPass(context.Background()))

	require.Len(t, sink.emits, 1, "inactive agents get no digest")
	emit := sink.emits[0]
	assert.Equal(t, "daily_digest", emit.Template)
	assert.Equal(t, "digest:agent-1:2025-03-10", emit.EventKey)
	assert.Equal(t, "4", emit.Payload["due_today"])
	assert.Equal(t, "2", emit.Payload["overdue_now"])
}

func TestDigestPassSkipsEmptyWorkload(t *testing.T) {
	now := monday(9, 0)
	agents := &stubKPIAgents{agents: []models.AgentProfile{{ID: "agent-1", Active: true}}}
	sink := &recordingSink{}
	svc := newKPIFixture(&stubKPIStore{}, &stubKPIHistory{}, &stubKPIFollowUps{}, agents, sink, nil, now)

	require.NoError(t, svc.DigestPass(context.Background()))
	assert.Empty(t, sink.emits)
}
