package service

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

type stubLeadLifecycleStore struct {
	leads   map[string]*models.Lead
	updated []models.Lead
}

func (s *stubLeadLifecycleStore) FindByID(ctx context.Context, id string) (*models.Lead, error) {
	return s.find(id)
}

func (s *stubLeadLifecycleStore) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error) {
	return s.find(id)
}

func (s *stubLeadLifecycleStore) find(id string) (*models.Lead, error) {
	lead, ok := s.leads[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
	}
	return lead, nil
}

func (s *stubLeadLifecycleStore) UpdateState(ctx context.Context, tx *sqlx.Tx, lead *models.Lead) error {
	s.updated = append(s.updated, *lead)
	return nil
}

func (s *stubLeadLifecycleStore) List(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error) {
	var out []models.Lead
	for _, lead := range s.leads {
		out = append(out, *lead)
	}
	return out, len(out), nil
}

type stubMarkerResolver struct {
	resolved map[string]string
	err      error
}

func (s *stubMarkerResolver) SetOutcome(ctx context.Context, leadID, outcome string) error {
	if s.err != nil {
		return s.err
	}
	if s.resolved == nil {
		s.resolved = map[string]string{}
	}
	s.resolved[leadID] = outcome
	return nil
}

func newLeadFixture(store *stubLeadLifecycleStore, history *stubHistory, sched *stubScheduler, sink *recordingSink, now time.Time) *LeadService {
	return NewLeadService(stubTxer{}, store, history, sched, nil, sink, fixedClock{t: now}, nil, nil)
}

func TestTransitionCommitsThenEmits(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateNew),
	}}
	history := &stubHistory{}
	sched := &stubScheduler{}
	sink := &recordingSink{}
	svc := newLeadFixture(store, history, sched, sink, now)

	actor := "manager-1"
	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateContacted, &actor, "called back"))

	require.Len(t, store.updated, 1)
	assert.Equal(t, models.StateContacted, store.updated[0].State)

	require.Len(t, history.rows, 1)
	row := history.rows[0]
	assert.Equal(t, models.StateContacted, row.ToState)
	require.NotNil(t, row.FromState)
	assert.Equal(t, models.StateNew, *row.FromState)
	require.NotNil(t, row.ActorID)
	assert.Equal(t, "manager-1", *row.ActorID)

	assert.Equal(t, []string{"lead-1"}, sched.scheduled, "contacted arms the first chain follow-up")

	require.Len(t, sink.emits, 1)
	emit := sink.emits[0]
	assert.Equal(t, "agent-1", emit.Target)
	assert.Equal(t, "contacted:lead-1:"+row.CreatedAt.Format(time.RFC3339), emit.EventKey)
	assert.Equal(t, "lead-1", emit.Payload["lead_id"])
}

func TestTransitionDisallowedLeavesStateUntouched(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateEnrolled),
	}}
	history := &stubHistory{}
	sink := &recordingSink{}
	svc := newLeadFixture(store, history, &stubScheduler{}, sink, now)

	err := svc.Transition(context.Background(), "lead-1", models.StateContacted, nil, "")
	require.Error(t, err)
	assert.True(t, appErrors.IsKind(err, appErrors.ErrInvalidTransition))
	assert.Empty(t, store.updated)
	assert.Empty(t, history.rows)
	assert.Empty(t, sink.emits)
}

func TestTransitionEmitFailureDoesNotFail(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateNew),
	}}
	sink := &recordingSink{fail: true}
	svc := newLeadFixture(store, &stubHistory{}, &stubScheduler{}, sink, now)

	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateContacted, nil, ""),
		"a committed transition survives a dead sink")
	require.Len(t, store.updated, 1)
}

func TestTransitionUnassignedLeadTargetsLeadID(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": {ID: "lead-1", State: models.StateContacted},
	}}
	sink := &recordingSink{}
	svc := newLeadFixture(store, &stubHistory{}, &stubScheduler{}, sink, now)

	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateLost, nil, "gave up"))
	require.Len(t, sink.emits, 1)
	assert.Equal(t, "lead-1", sink.emits[0].Target)
}

func TestTransitionToReactivationResolvesMarkers(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateLost),
	}}
	markers := &stubMarkerResolver{}
	svc := NewLeadService(stubTxer{}, store, &stubHistory{}, &stubScheduler{}, markers,
		&recordingSink{}, fixedClock{t: now}, nil, nil)

	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateReactivation, nil, "came back"))
	assert.Equal(t, map[string]string{"lead-1": "reactivated"}, markers.resolved)
}

func TestTransitionElsewhereLeavesMarkersAlone(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateNew),
	}}
	markers := &stubMarkerResolver{}
	svc := NewLeadService(stubTxer{}, store, &stubHistory{}, &stubScheduler{}, markers,
		&recordingSink{}, fixedClock{t: now}, nil, nil)

	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateContacted, nil, ""))
	assert.Empty(t, markers.resolved)
}

func TestTransitionCountsByTargetState(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateNew),
	}}
	metrics := NewMetricsService()
	svc := NewLeadService(stubTxer{}, store, &stubHistory{}, &stubScheduler{}, nil,
		&recordingSink{}, fixedClock{t: now}, metrics, nil)

	require.NoError(t, svc.Transition(context.Background(), "lead-1", models.StateContacted, nil, ""))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("contacted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.transitions.WithLabelValues("lost")))
}

func TestGetReturnsLeadWithHistory(t *testing.T) {
	now := monday(10, 0)
	store := &stubLeadLifecycleStore{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateContacted),
	}}
	history := &stubHistory{rows: []models.LeadHistory{
		{LeadID: "lead-1", ToState: models.StateNew},
		{LeadID: "lead-1", ToState: models.StateContacted},
		{LeadID: "other", ToState: models.StateNew},
	}}
	svc := newLeadFixture(store, history, &stubScheduler{}, &recordingSink{}, now)

	lead, log, err := svc.Get(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "lead-1", lead.ID)
	assert.Len(t, log, 2)
}
