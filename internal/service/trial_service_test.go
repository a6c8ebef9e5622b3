package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

type stubTrialStore struct {
	trials   map[string]*models.TrialLesson
	created  []models.TrialLesson
	results  map[string]models.TrialResult
	flagged  []string
	flagErr  error
}

func (s *stubTrialStore) Create(ctx context.Context, tx *sqlx.Tx, t *models.TrialLesson) error {
	s.created = append(s.created, *t)
	return nil
}

func (s *stubTrialStore) FindByID(ctx context.Context, id string) (*models.TrialLesson, error) {
	tr, ok := s.trials[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "trial not found")
	}
	return tr, nil
}

func (s *stubTrialStore) SetResult(ctx context.Context, tx *sqlx.Tx, id string, result models.TrialResult) error {
	if s.results == nil {
		s.results = map[string]models.TrialResult{}
	}
	s.results[id] = result
	return nil
}

func (s *stubTrialStore) ListUnresolvedUntil(ctx context.Context, until time.Time) ([]models.TrialLesson, error) {
	var out []models.TrialLesson
	for _, tr := range s.trials {
		if tr.Result == nil {
			out = append(out, *tr)
		}
	}
	return out, nil
}

func (s *stubTrialStore) MarkReminderSent(ctx context.Context, id string, near bool) error {
	if s.flagErr != nil {
		return s.flagErr
	}
	s.flagged = append(s.flagged, fmt.Sprintf("%s/near=%t", id, near))
	if tr, ok := s.trials[id]; ok {
		if near {
			tr.NearReminderSent = true
		} else {
			tr.LongReminderSent = true
		}
	}
	return nil
}

type recordedTransition struct {
	LeadID string
	Target models.LeadState
	Note   string
}

type stubLifecycle struct {
	applied  []recordedTransition
	notified int
	applyErr error
}

func (s *stubLifecycle) ApplyTransitionTx(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, target models.LeadState, actorID *string, note string, now time.Time) (*TransitionEffect, error) {
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	effect, err := Transition(lead, target, actorID, note, now)
	if err != nil {
		return nil, err
	}
	s.applied = append(s.applied, recordedTransition{LeadID: lead.ID, Target: target, Note: note})
	return effect, nil
}

func (s *stubLifecycle) NotifyTransition(ctx context.Context, lead *models.Lead, effect *TransitionEffect) {
	if effect != nil {
		s.notified++
	}
}

type stubTrialLeads struct {
	leads  map[string]*models.Lead
	denorm int
}

func (s *stubTrialLeads) FindByID(ctx context.Context, id string) (*models.Lead, error) {
	return s.find(id)
}

func (s *stubTrialLeads) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error) {
	return s.find(id)
}

func (s *stubTrialLeads) find(id string) (*models.Lead, error) {
	lead, ok := s.leads[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lead not found")
	}
	return lead, nil
}

func (s *stubTrialLeads) UpdateTrialDenorm(ctx context.Context, tx *sqlx.Tx, leadID, groupID, roomID string, date time.Time, start *string) error {
	s.denorm++
	return nil
}

func trialAt(id, leadID string, start time.Time) *models.TrialLesson {
	startHM := start.Format("15:04")
	return &models.TrialLesson{
		ID:        id,
		LeadID:    leadID,
		GroupID:   "group-1",
		RoomID:    "room-1",
		Date:      time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime: &startHM,
	}
}

func newTrialFixture(trials *stubTrialStore, leads *stubTrialLeads, lifecycle *stubLifecycle, sink *recordingSink, now time.Time) *TrialService {
	cal := NewWorkCalendar(time.UTC, "09:00", "18:00")
	agents := &stubAgentLoader{snap: weekdaySnapshot()}
	return NewTrialService(stubTxer{}, trials, leads, agents, lifecycle, cal, sink, fixedClock{t: now}, []int{10, 2}, time.UTC, nil)
}

func TestTrialCreateMovesLeadToRegistered(t *testing.T) {
	now := monday(10, 0)
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateContacted),
	}}
	trials := &stubTrialStore{}
	lifecycle := &stubLifecycle{}
	svc := newTrialFixture(trials, leads, lifecycle, &recordingSink{}, now)

	trial := trialAt("trial-1", "lead-1", monday(15, 0).AddDate(0, 0, 1))
	require.NoError(t, svc.Create(context.Background(), trial, nil))

	require.Len(t, trials.created, 1)
	assert.Equal(t, 1, leads.denorm)
	require.Len(t, lifecycle.applied, 1)
	assert.Equal(t, models.StateTrialRegistered, lifecycle.applied[0].Target)
	assert.Equal(t, 1, lifecycle.notified)
}

func TestTrialCreateRebookingKeepsState(t *testing.T) {
	now := monday(10, 0)
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	trials := &stubTrialStore{}
	lifecycle := &stubLifecycle{}
	svc := newTrialFixture(trials, leads, lifecycle, &recordingSink{}, now)

	trial := trialAt("trial-2", "lead-1", monday(15, 0).AddDate(0, 0, 1))
	require.NoError(t, svc.Create(context.Background(), trial, nil))

	require.Len(t, trials.created, 1, "re-booking still writes the trial row")
	assert.Empty(t, lifecycle.applied)
	assert.Zero(t, lifecycle.notified)
}

func TestTrialCreateDisallowedTransitionLogsAndSkips(t *testing.T) {
	now := monday(10, 0)
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateEnrolled),
	}}
	trials := &stubTrialStore{}
	lifecycle := &stubLifecycle{}
	svc := newTrialFixture(trials, leads, lifecycle, &recordingSink{}, now)

	trial := trialAt("trial-3", "lead-1", monday(15, 0).AddDate(0, 0, 1))
	require.NoError(t, svc.Create(context.Background(), trial, nil))

	require.Len(t, trials.created, 1)
	assert.Empty(t, lifecycle.applied)
}

func TestTrialSetResultDrivesTransition(t *testing.T) {
	cases := []struct {
		result models.TrialResult
		target models.LeadState
	}{
		{models.TrialAttended, models.StateTrialAttended},
		{models.TrialNotAttended, models.StateTrialNotAttended},
		{models.TrialAccepted, models.StateEnrolled},
		{models.TrialRejected, models.StateLost},
	}
	for _, tc := range cases {
		t.Run(string(tc.result), func(t *testing.T) {
			now := monday(16, 0)
			state := models.StateTrialRegistered
			if tc.result == models.TrialAccepted || tc.result == models.TrialRejected {
				state = models.StateTrialAttended
			}
			leads := &stubTrialLeads{leads: map[string]*models.Lead{
				"lead-1": assignedLead("lead-1", "agent-1", state),
			}}
			trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
				"trial-1": trialAt("trial-1", "lead-1", monday(15, 0)),
			}}
			lifecycle := &stubLifecycle{}
			svc := newTrialFixture(trials, leads, lifecycle, &recordingSink{}, now)

			require.NoError(t, svc.SetResult(context.Background(), "trial-1", tc.result, nil))

			assert.Equal(t, tc.result, trials.results["trial-1"])
			require.Len(t, lifecycle.applied, 1)
			assert.Equal(t, tc.target, lifecycle.applied[0].Target)
		})
	}
}

func TestTrialSetResultTwiceConflicts(t *testing.T) {
	now := monday(16, 0)
	attended := models.TrialAttended
	trial := trialAt("trial-1", "lead-1", monday(15, 0))
	trial.Result = &attended
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{"trial-1": trial}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialAttended),
	}}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, &recordingSink{}, now)

	err := svc.SetResult(context.Background(), "trial-1", models.TrialNotAttended, nil)
	require.Error(t, err)
	assert.True(t, appErrors.IsKind(err, appErrors.ErrConflict))
}

func TestTrialReminderLongHorizon(t *testing.T) {
	// Trial at 20:00, pass at 10:05: the 10h mark (10:00) sits inside a
	// 15-minute grace window.
	now := monday(10, 5)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(20, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))

	require.Len(t, sink.emits, 1)
	assert.Equal(t, "trial_reminder_long", sink.emits[0].Template)
	assert.Equal(t, "trial_reminder_long:trial-1", sink.emits[0].EventKey)
	assert.Equal(t, []string{"trial-1/near=false"}, trials.flagged)
	assert.True(t, trials.trials["trial-1"].LongReminderSent)
}

func TestTrialReminderNearHorizon(t *testing.T) {
	now := monday(13, 5)
	trial := trialAt("trial-1", "lead-1", monday(15, 0))
	trial.LongReminderSent = true
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{"trial-1": trial}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))

	require.Len(t, sink.emits, 1)
	assert.Equal(t, "trial_reminder_near", sink.emits[0].Template)
	assert.True(t, trials.trials["trial-1"].NearReminderSent)
}

func TestTrialReminderAlreadySentSkips(t *testing.T) {
	now := monday(10, 5)
	trial := trialAt("trial-1", "lead-1", monday(20, 0))
	trial.LongReminderSent = true
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{"trial-1": trial}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))
	assert.Empty(t, sink.emits)
}

func TestTrialReminderMarkOutsideGraceSkips(t *testing.T) {
	// The 10h mark passed 40 minutes ago; a 15-minute grace window has
	// closed, so the horizon stays unsent.
	now := monday(10, 40)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(20, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))
	assert.Empty(t, sink.emits)
	assert.Empty(t, trials.flagged)
}

func TestTrialReminderOffHoursSkipsWithoutMarking(t *testing.T) {
	// Pass at 08:05, before the 09:00 window opens: the reminder is
	// suppressed and not re-armed.
	now := monday(8, 5)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(18, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))
	assert.Empty(t, sink.emits)
	assert.Empty(t, trials.flagged)
}

func TestTrialReminderUnassignedLeadSkips(t *testing.T) {
	now := monday(10, 5)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(20, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": {ID: "lead-1", State: models.StateTrialRegistered},
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))
	assert.Empty(t, sink.emits)
}

type countingTxer struct {
	calls int
}

func (c *countingTxer) WithinTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	c.calls++
	return fn(nil)
}

func TestTrialReminderPassTakesNoRowLocks(t *testing.T) {
	now := monday(10, 5)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(20, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	txer := &countingTxer{}
	cal := NewWorkCalendar(time.UTC, "09:00", "18:00")
	sink := &recordingSink{}
	svc := NewTrialService(txer, trials, leads, &stubAgentLoader{snap: weekdaySnapshot()},
		&stubLifecycle{}, cal, sink, fixedClock{t: now}, []int{10, 2}, time.UTC, nil)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))

	require.Len(t, sink.emits, 1)
	assert.Zero(t, txer.calls, "the reminder scan reads without a transaction")
}

func TestTrialReminderStartBeyondTwelveHoursSkips(t *testing.T) {
	now := monday(7, 0)
	trials := &stubTrialStore{trials: map[string]*models.TrialLesson{
		"trial-1": trialAt("trial-1", "lead-1", monday(20, 0)),
	}}
	leads := &stubTrialLeads{leads: map[string]*models.Lead{
		"lead-1": assignedLead("lead-1", "agent-1", models.StateTrialRegistered),
	}}
	sink := &recordingSink{}
	svc := newTrialFixture(trials, leads, &stubLifecycle{}, sink, now)

	require.NoError(t, svc.ReminderPass(context.Background(), 15*time.Minute))
	assert.Empty(t, sink.emits)
}
