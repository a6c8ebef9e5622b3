package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

func followUpRows(fus ...models.FollowUp) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "lead_id", "agent_id", "seq", "due_at", "completed", "completed_at",
		"overdue", "escalated", "reminder_sent", "note", "created_at", "updated_at",
	})
	for _, f := range fus {
		rows.AddRow(f.ID, f.LeadID, f.AgentID, f.Seq, f.DueAt, f.Completed, timeVal(f.CompletedAt),
			f.Overdue, f.Escalated, f.ReminderSent, f.Note, f.CreatedAt, f.UpdatedAt)
	}
	return rows
}

func TestFollowUpRepositoryCreateInsideTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO follow_ups")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	f := &models.FollowUp{
		LeadID:  "lead-1",
		AgentID: "agent-1",
		Seq:     1,
		DueAt:   time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC),
		Note:    "first touch",
	}
	require.NoError(t, repo.Create(context.Background(), tx, f))
	require.NotEmpty(t, f.ID)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryCompleteTwiceFails(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	at := time.Date(2025, 3, 11, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_ups SET completed = TRUE")).
		WithArgs("fu-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_ups SET completed = TRUE")).
		WithArgs("fu-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	require.NoError(t, err)

	require.NoError(t, repo.Complete(context.Background(), tx, "fu-1", at))

	err = repo.Complete(context.Background(), tx, "fu-1", at)
	require.Error(t, err)
	require.True(t, appErrors.IsKind(err, appErrors.ErrNotFound))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryMaxSeqExcludesReactivation(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(seq), 0) FROM follow_ups")).
		WithArgs("lead-1", models.ReactivationSeq).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	require.NoError(t, err)

	max, err := repo.MaxSeq(context.Background(), tx, "lead-1")
	require.NoError(t, err)
	require.Equal(t, 3, max)
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryDueForReminder(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	from := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)
	to := from.Add(30 * time.Minute)

	due := models.FollowUp{ID: "fu-1", LeadID: "lead-1", AgentID: "agent-1", Seq: 1, DueAt: from.Add(10 * time.Minute)}
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, lead_id, agent_id, seq, due_at")).
		WithArgs(from, to).
		WillReturnRows(followUpRows(due))

	rows, err := repo.DueForReminder(context.Background(), from, to)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "fu-1", rows[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryMarkOverdueBefore(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	now := time.Date(2025, 3, 11, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE follow_ups SET overdue = TRUE")).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.MarkOverdueBefore(context.Background(), now)
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryDailyCounts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	from := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS scheduled")).
		WithArgs("agent-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"scheduled", "completed"}).AddRow(10, 7))

	scheduled, completed, err := repo.DailyCounts(context.Background(), "agent-1", from, to)
	require.NoError(t, err)
	require.Equal(t, 10, scheduled)
	require.Equal(t, 7, completed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryMonthResponseStats(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*),")).
		WithArgs("agent-1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count", "coalesce"}).AddRow(12, 42.5))

	completed, avg, err := repo.MonthResponseStats(context.Background(), "agent-1", from, to)
	require.NoError(t, err)
	require.Equal(t, 12, completed)
	require.InDelta(t, 42.5, avg, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowUpRepositoryChainSuccessorCandidates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewFollowUpRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT l.id FROM leads l")).
		WithArgs(models.StateContacted, models.ReactivationSeq).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("lead-1").AddRow("lead-2"))

	ids, err := repo.ChainSuccessorCandidates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"lead-1", "lead-2"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
