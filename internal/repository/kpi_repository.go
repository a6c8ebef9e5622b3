package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

// KPIRepository manages the daily and monthly aggregate rows.
type KPIRepository struct {
	db *sqlx.DB
}

// NewKPIRepository constructs a KPIRepository.
func NewKPIRepository(db *sqlx.DB) *KPIRepository {
	return &KPIRepository{db: db}
}

// UpsertDaily writes the (agent, date) row, overwriting any prior compute.
func (r *KPIRepository) UpsertDaily(ctx context.Context, k *models.DailyKPI) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.ComputedAt.IsZero() {
		k.ComputedAt = time.Now().UTC()
	}
	const query = `INSERT INTO kpi_daily (id, agent_id, date, contacts, scheduled_followups, completed_followups,
			trials_registered, trials_to_enrollment, overdue_count, completion_rate, conversion_rate, computed_at)
		VALUES (:id, :agent_id, :date, :contacts, :scheduled_followups, :completed_followups,
			:trials_registered, :trials_to_enrollment, :overdue_count, :completion_rate, :conversion_rate, :computed_at)
		ON CONFLICT (agent_id, date) DO UPDATE SET
			contacts = EXCLUDED.contacts,
			scheduled_followups = EXCLUDED.scheduled_followups,
			completed_followups = EXCLUDED.completed_followups,
			trials_registered = EXCLUDED.trials_registered,
			trials_to_enrollment = EXCLUDED.trials_to_enrollment,
			overdue_count = EXCLUDED.overdue_count,
			completion_rate = EXCLUDED.completion_rate,
			conversion_rate = EXCLUDED.conversion_rate,
			computed_at = EXCLUDED.computed_at`
	if _, err := r.db.NamedExecContext(ctx, query, k); err != nil {
		return MapDBError(err, "upsert daily kpi")
	}
	return nil
}

// UpsertMonthly writes the (agent, year, month) row, overwriting any prior
// compute.
func (r *KPIRepository) UpsertMonthly(ctx context.Context, k *models.MonthlyKPI) error {
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.ComputedAt.IsZero() {
		k.ComputedAt = time.Now().UTC()
	}
	const query = `INSERT INTO kpi_monthly (id, agent_id, year, month, contacts, scheduled_followups, completed_followups,
			trials_registered, enrolled, overdue_count, avg_response_minutes, score, computed_at)
		VALUES (:id, :agent_id, :year, :month, :contacts, :scheduled_followups, :completed_followups,
			:trials_registered, :enrolled, :overdue_count, :avg_response_minutes, :score, :computed_at)
		ON CONFLICT (agent_id, year, month) DO UPDATE SET
			contacts = EXCLUDED.contacts,
			scheduled_followups = EXCLUDED.scheduled_followups,
			completed_followups = EXCLUDED.completed_followups,
			trials_registered = EXCLUDED.trials_registered,
			enrolled = EXCLUDED.enrolled,
			overdue_count = EXCLUDED.overdue_count,
			avg_response_minutes = EXCLUDED.avg_response_minutes,
			score = EXCLUDED.score,
			computed_at = EXCLUDED.computed_at`
	if _, err := r.db.NamedExecContext(ctx, query, k); err != nil {
		return MapDBError(err, "upsert monthly kpi")
	}
	return nil
}

// ListDaily returns daily rows for an agent inside [from, to).
func (r *KPIRepository) ListDaily(ctx context.Context, agentID string, from, to time.Time) ([]models.DailyKPI, error) {
	const query = `SELECT id, agent_id, date, contacts, scheduled_followups, completed_followups,
			trials_registered, trials_to_enrollment, overdue_count, completion_rate, conversion_rate, computed_at
		FROM kpi_daily
		WHERE agent_id = $1 AND date >= $2 AND date < $3
		ORDER BY date ASC`
	var rows []models.DailyKPI
	if err := r.db.SelectContext(ctx, &rows, query, agentID, from.UTC(), to.UTC()); err != nil {
		return nil, MapDBError(err, "list daily kpi")
	}
	return rows, nil
}

// ListMonthly returns every agent's row for one month.
func (r *KPIRepository) ListMonthly(ctx context.Context, year, month int) ([]models.MonthlyKPI, error) {
	const query = `SELECT id, agent_id, year, month, contacts, scheduled_followups, completed_followups,
			trials_registered, enrolled, overdue_count, avg_response_minutes, score, computed_at
		FROM kpi_monthly
		WHERE year = $1 AND month = $2
		ORDER BY agent_id ASC`
	var rows []models.MonthlyKPI
	if err := r.db.SelectContext(ctx, &rows, query, year, month); err != nil {
		return nil, MapDBError(err, "list monthly kpi")
	}
	return rows, nil
}
