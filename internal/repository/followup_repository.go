package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

const followUpColumns = `id, lead_id, agent_id, seq, due_at, completed, completed_at,
	overdue, escalated, reminder_sent, note, created_at, updated_at`

// FollowUpRepository manages persistence for follow-up tasks.
type FollowUpRepository struct {
	db *sqlx.DB
}

// NewFollowUpRepository constructs a FollowUpRepository.
func NewFollowUpRepository(db *sqlx.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Create inserts a follow-up inside tx, committing atomically with the
// transition that requested it.
func (r *FollowUpRepository) Create(ctx context.Context, tx *sqlx.Tx, f *models.FollowUp) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now

	const query = `INSERT INTO follow_ups (id, lead_id, agent_id, seq, due_at, completed, completed_at,
			overdue, escalated, reminder_sent, note, created_at, updated_at)
		VALUES (:id, :lead_id, :agent_id, :seq, :due_at, :completed, :completed_at,
			:overdue, :escalated, :reminder_sent, :note, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, f); err != nil {
		return MapDBError(err, "create follow-up")
	}
	return nil
}

// FindByID fetches a follow-up.
func (r *FollowUpRepository) FindByID(ctx context.Context, id string) (*models.FollowUp, error) {
	var f models.FollowUp
	if err := r.db.GetContext(ctx, &f, `SELECT `+followUpColumns+` FROM follow_ups WHERE id = $1`, id); err != nil {
		return nil, MapDBError(err, "find follow-up")
	}
	return &f, nil
}

// Complete marks the follow-up done inside tx.
func (r *FollowUpRepository) Complete(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	const query = `UPDATE follow_ups SET completed = TRUE, completed_at = $2, updated_at = $2
		WHERE id = $1 AND completed = FALSE`
	res, err := tx.ExecContext(ctx, query, id, at.UTC())
	if err != nil {
		return MapDBError(err, "complete follow-up")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return MapDBError(sql.ErrNoRows, "follow-up already completed")
	}
	return nil
}

// MaxSeq returns the highest sequence number for a lead, 0 when none exist.
// Reactivation follow-ups sit outside the chain and are excluded.
func (r *FollowUpRepository) MaxSeq(ctx context.Context, tx *sqlx.Tx, leadID string) (int, error) {
	const query = `SELECT COALESCE(MAX(seq), 0) FROM follow_ups WHERE lead_id = $1 AND seq < $2`
	var max int
	if err := tx.GetContext(ctx, &max, query, leadID, models.ReactivationSeq); err != nil {
		return 0, MapDBError(err, "max follow-up seq")
	}
	return max, nil
}

// HasOpenAtSeq reports whether a non-completed follow-up already exists at
// (lead, seq).
func (r *FollowUpRepository) HasOpenAtSeq(ctx context.Context, tx *sqlx.Tx, leadID string, seq int) (bool, error) {
	const query = `SELECT 1 FROM follow_ups WHERE lead_id = $1 AND seq = $2 AND completed = FALSE LIMIT 1`
	var one int
	if err := tx.GetContext(ctx, &one, query, leadID, seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, MapDBError(err, "check open follow-up")
	}
	return true, nil
}

// DueForReminder returns non-completed follow-ups due inside [from, to) that
// have not had a reminder yet.
func (r *FollowUpRepository) DueForReminder(ctx context.Context, from, to time.Time) ([]models.FollowUp, error) {
	const query = `SELECT ` + followUpColumns + ` FROM follow_ups
		WHERE completed = FALSE AND reminder_sent = FALSE AND due_at >= $1 AND due_at < $2
		ORDER BY due_at ASC`
	var rows []models.FollowUp
	if err := r.db.SelectContext(ctx, &rows, query, from.UTC(), to.UTC()); err != nil {
		return nil, MapDBError(err, "scan reminder candidates")
	}
	return rows, nil
}

// MarkReminderSent flags the follow-up after the sink accepted the reminder.
func (r *FollowUpRepository) MarkReminderSent(ctx context.Context, id string) error {
	const query = `UPDATE follow_ups SET reminder_sent = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return MapDBError(err, "mark reminder sent")
	}
	return nil
}

// MarkOverdueBefore flags every open follow-up past due and returns how many
// rows changed.
func (r *FollowUpRepository) MarkOverdueBefore(ctx context.Context, now time.Time) (int64, error) {
	const query = `UPDATE follow_ups SET overdue = TRUE, updated_at = $1
		WHERE completed = FALSE AND overdue = FALSE AND due_at < $1`
	res, err := r.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, MapDBError(err, "mark overdue")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// EscalationCandidates returns overdue follow-ups past the escalation cutoff
// that have not been escalated yet.
func (r *FollowUpRepository) EscalationCandidates(ctx context.Context, cutoff time.Time) ([]models.FollowUp, error) {
	const query = `SELECT ` + followUpColumns + ` FROM follow_ups
		WHERE completed = FALSE AND overdue = TRUE AND escalated = FALSE AND due_at < $1
		ORDER BY due_at ASC`
	var rows []models.FollowUp
	if err := r.db.SelectContext(ctx, &rows, query, cutoff.UTC()); err != nil {
		return nil, MapDBError(err, "scan escalation candidates")
	}
	return rows, nil
}

// MarkEscalated flags the follow-up so the escalation fires only once.
func (r *FollowUpRepository) MarkEscalated(ctx context.Context, id string) error {
	const query = `UPDATE follow_ups SET escalated = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return MapDBError(err, "mark escalated")
	}
	return nil
}

// ChainSuccessorCandidates returns lead ids in the contacted state whose
// newest chain follow-up is completed, meaning the successor is missing.
func (r *FollowUpRepository) ChainSuccessorCandidates(ctx context.Context) ([]string, error) {
	const query = `SELECT l.id FROM leads l
		WHERE l.state = $1 AND l.deleted_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM follow_ups f
			WHERE f.lead_id = l.id AND f.completed = FALSE AND f.seq < $2
		)
		AND EXISTS (
			SELECT 1 FROM follow_ups f
			WHERE f.lead_id = l.id AND f.completed = TRUE AND f.seq < $2
		)`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, models.StateContacted, models.ReactivationSeq); err != nil {
		return nil, MapDBError(err, "scan chain successor candidates")
	}
	return ids, nil
}

// LatestCompleted returns the newest completed chain follow-up for a lead.
func (r *FollowUpRepository) LatestCompleted(ctx context.Context, tx *sqlx.Tx, leadID string) (*models.FollowUp, error) {
	const query = `SELECT ` + followUpColumns + ` FROM follow_ups
		WHERE lead_id = $1 AND completed = TRUE AND seq < $2
		ORDER BY seq DESC LIMIT 1`
	var f models.FollowUp
	if err := tx.GetContext(ctx, &f, query, leadID, models.ReactivationSeq); err != nil {
		return nil, MapDBError(err, "latest completed follow-up")
	}
	return &f, nil
}

// DailyCounts returns the scheduled and completed follow-up counts for an
// agent with due dates inside [from, to).
func (r *FollowUpRepository) DailyCounts(ctx context.Context, agentID string, from, to time.Time) (scheduled, completed int, err error) {
	const query = `SELECT COUNT(*) AS scheduled,
			COUNT(*) FILTER (WHERE completed = TRUE) AS completed
		FROM follow_ups
		WHERE agent_id = $1 AND due_at >= $2 AND due_at < $3`
	row := r.db.QueryRowxContext(ctx, query, agentID, from.UTC(), to.UTC())
	if err := row.Scan(&scheduled, &completed); err != nil {
		return 0, 0, MapDBError(err, "daily follow-up counts")
	}
	return scheduled, completed, nil
}

// CountOpenOverdue returns the live overdue count for an agent.
func (r *FollowUpRepository) CountOpenOverdue(ctx context.Context, agentID string) (int, error) {
	const query = `SELECT COUNT(*) FROM follow_ups
		WHERE agent_id = $1 AND completed = FALSE AND overdue = TRUE`
	var n int
	if err := r.db.GetContext(ctx, &n, query, agentID); err != nil {
		return 0, MapDBError(err, "count open overdue")
	}
	return n, nil
}

// CountDueBetween returns how many open follow-ups an agent has due in the
// window. Feeds the morning digest.
func (r *FollowUpRepository) CountDueBetween(ctx context.Context, agentID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM follow_ups
		WHERE agent_id = $1 AND completed = FALSE AND due_at >= $2 AND due_at < $3`
	var n int
	if err := r.db.GetContext(ctx, &n, query, agentID, from.UTC(), to.UTC()); err != nil {
		return 0, MapDBError(err, "count due follow-ups")
	}
	return n, nil
}

// MonthResponseStats returns completed counts and the average minutes from
// creation to completion for an agent's follow-ups completed in the window.
func (r *FollowUpRepository) MonthResponseStats(ctx context.Context, agentID string, from, to time.Time) (completed int, avgMinutes float64, err error) {
	const query = `SELECT COUNT(*),
			COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at)) / 60.0), 0)
		FROM follow_ups
		WHERE agent_id = $1 AND completed = TRUE AND completed_at >= $2 AND completed_at < $3`
	row := r.db.QueryRowxContext(ctx, query, agentID, from.UTC(), to.UTC())
	if err := row.Scan(&completed, &avgMinutes); err != nil {
		return 0, 0, MapDBError(err, "month response stats")
	}
	return completed, avgMinutes, nil
}
