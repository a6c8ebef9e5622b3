package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

const trialColumns = `id, lead_id, group_id, room_id, date, start_time, result,
	long_reminder_sent, near_reminder_sent, created_at, updated_at`

// TrialRepository manages persistence for trial lessons.
type TrialRepository struct {
	db *sqlx.DB
}

// NewTrialRepository constructs a TrialRepository.
func NewTrialRepository(db *sqlx.DB) *TrialRepository {
	return &TrialRepository{db: db}
}

// Create inserts a trial lesson inside tx.
func (r *TrialRepository) Create(ctx context.Context, tx *sqlx.Tx, t *models.TrialLesson) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	const query = `INSERT INTO trial_lessons (id, lead_id, group_id, room_id, date, start_time, result,
			long_reminder_sent, near_reminder_sent, created_at, updated_at)
		VALUES (:id, :lead_id, :group_id, :room_id, :date, :start_time, :result,
			:long_reminder_sent, :near_reminder_sent, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, t); err != nil {
		return MapDBError(err, "create trial lesson")
	}
	return nil
}

// FindByID fetches a trial lesson.
func (r *TrialRepository) FindByID(ctx context.Context, id string) (*models.TrialLesson, error) {
	var t models.TrialLesson
	if err := r.db.GetContext(ctx, &t, `SELECT `+trialColumns+` FROM trial_lessons WHERE id = $1`, id); err != nil {
		return nil, MapDBError(err, "find trial lesson")
	}
	return &t, nil
}

// SetResult records the trial outcome inside tx.
func (r *TrialRepository) SetResult(ctx context.Context, tx *sqlx.Tx, id string, result models.TrialResult) error {
	const query = `UPDATE trial_lessons SET result = $2, updated_at = $3 WHERE id = $1 AND result IS NULL`
	if _, err := tx.ExecContext(ctx, query, id, result, time.Now().UTC()); err != nil {
		return MapDBError(err, "set trial result")
	}
	return nil
}

// ListUnresolvedUntil returns trials without a result dated up to the given
// horizon. The reminder pass narrows by exact start instant itself.
func (r *TrialRepository) ListUnresolvedUntil(ctx context.Context, until time.Time) ([]models.TrialLesson, error) {
	const query = `SELECT ` + trialColumns + ` FROM trial_lessons
		WHERE result IS NULL AND date <= $1
		ORDER BY date ASC`
	var rows []models.TrialLesson
	if err := r.db.SelectContext(ctx, &rows, query, until.UTC()); err != nil {
		return nil, MapDBError(err, "scan unresolved trials")
	}
	return rows, nil
}

// MarkReminderSent flags one of the two reminder horizons.
func (r *TrialRepository) MarkReminderSent(ctx context.Context, id string, near bool) error {
	query := `UPDATE trial_lessons SET long_reminder_sent = TRUE, updated_at = $2 WHERE id = $1`
	if near {
		query = `UPDATE trial_lessons SET near_reminder_sent = TRUE, updated_at = $2 WHERE id = $1`
	}
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return MapDBError(err, "mark trial reminder sent")
	}
	return nil
}
