package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

const leadColumns = `id, full_name, phone, secondary_phone, source, course_id, branch_id, state,
	agent_id, assigned_at, lost_at, enrolled_at,
	trial_group_id, trial_room_id, trial_date, trial_start,
	created_at, updated_at, deleted_at`

// LeadRepository manages persistence for leads.
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs a LeadRepository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a new lead record.
func (r *LeadRepository) Create(ctx context.Context, lead *models.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	const query = `INSERT INTO leads (id, full_name, phone, secondary_phone, source, course_id, branch_id, state,
			agent_id, assigned_at, lost_at, enrolled_at,
			trial_group_id, trial_room_id, trial_date, trial_start,
			created_at, updated_at, deleted_at)
		VALUES (:id, :full_name, :phone, :secondary_phone, :source, :course_id, :branch_id, :state,
			:agent_id, :assigned_at, :lost_at, :enrolled_at,
			:trial_group_id, :trial_room_id, :trial_date, :trial_start,
			:created_at, :updated_at, :deleted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lead); err != nil {
		return MapDBError(err, "create lead")
	}
	return nil
}

// ExistsByPhone checks whether a non-deleted lead already uses this phone.
func (r *LeadRepository) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	const query = `SELECT 1 FROM leads WHERE phone = $1 AND deleted_at IS NULL LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, phone); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, MapDBError(err, "check lead phone")
	}
	return true, nil
}

// FindByID fetches a lead by id.
func (r *LeadRepository) FindByID(ctx context.Context, id string) (*models.Lead, error) {
	query := fmt.Sprintf(`SELECT %s FROM leads WHERE id = $1 AND deleted_at IS NULL`, leadColumns)
	var lead models.Lead
	if err := r.db.GetContext(ctx, &lead, query, id); err != nil {
		return nil, MapDBError(err, "find lead")
	}
	return &lead, nil
}

// FindForUpdate loads a lead inside tx, taking the row lock that serializes
// all per-lead mutations.
func (r *LeadRepository) FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error) {
	query := fmt.Sprintf(`SELECT %s FROM leads WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, leadColumns)
	var lead models.Lead
	if err := tx.GetContext(ctx, &lead, query, id); err != nil {
		return nil, MapDBError(err, "lock lead")
	}
	return &lead, nil
}

// ListUnassigned returns leads without an owner agent, oldest first.
func (r *LeadRepository) ListUnassigned(ctx context.Context, limit int) ([]models.Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`SELECT %s FROM leads
		WHERE agent_id IS NULL AND deleted_at IS NULL AND state = $1
		ORDER BY created_at ASC LIMIT $2`, leadColumns)
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, models.StateNew, limit); err != nil {
		return nil, MapDBError(err, "list unassigned leads")
	}
	return leads, nil
}

// ListLost returns every lead currently in the lost state.
func (r *LeadRepository) ListLost(ctx context.Context) ([]models.Lead, error) {
	query := fmt.Sprintf(`SELECT %s FROM leads
		WHERE state = $1 AND deleted_at IS NULL AND lost_at IS NOT NULL
		ORDER BY lost_at ASC`, leadColumns)
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, models.StateLost); err != nil {
		return nil, MapDBError(err, "list lost leads")
	}
	return leads, nil
}

// List returns leads matching the filter along with the total count.
func (r *LeadRepository) List(ctx context.Context, filter models.LeadFilter) ([]models.Lead, int, error) {
	base := "FROM leads WHERE deleted_at IS NULL"
	var conditions []string
	var args []interface{}

	if filter.State != "" {
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)+1))
		args = append(args, filter.State)
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)+1))
		args = append(args, filter.Source)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)+1))
		args = append(args, filter.AgentID)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conditions = append(conditions, fmt.Sprintf("(LOWER(full_name) LIKE $%d OR phone LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", leadColumns, base, size, offset)
	var leads []models.Lead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		return nil, 0, MapDBError(err, "list leads")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, MapDBError(err, "count leads")
	}

	return leads, total, nil
}

// UpdateState writes the lead's state and lifecycle timestamps inside tx.
func (r *LeadRepository) UpdateState(ctx context.Context, tx *sqlx.Tx, lead *models.Lead) error {
	lead.UpdatedAt = time.Now().UTC()
	const query = `UPDATE leads SET state = :state, lost_at = :lost_at, enrolled_at = :enrolled_at,
		updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, lead); err != nil {
		return MapDBError(err, "update lead state")
	}
	return nil
}

// Assign sets the owner agent inside tx.
func (r *LeadRepository) Assign(ctx context.Context, tx *sqlx.Tx, leadID, agentID string, at time.Time) error {
	const query = `UPDATE leads SET agent_id = $2, assigned_at = $3, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, leadID, agentID, at.UTC()); err != nil {
		return MapDBError(err, "assign lead")
	}
	return nil
}

// UpdateTrialDenorm copies the trial coordinates onto the lead for lookup.
func (r *LeadRepository) UpdateTrialDenorm(ctx context.Context, tx *sqlx.Tx, leadID, groupID, roomID string, date time.Time, start *string) error {
	const query = `UPDATE leads SET trial_group_id = $2, trial_room_id = $3, trial_date = $4, trial_start = $5, updated_at = $6 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, leadID, groupID, roomID, date, start, time.Now().UTC()); err != nil {
		return MapDBError(err, "denormalise trial onto lead")
	}
	return nil
}

// CountAssignedBetween returns today's assignment counts keyed by agent id.
func (r *LeadRepository) CountAssignedBetween(ctx context.Context, from, to time.Time) (map[string]int, error) {
	const query = `SELECT agent_id, COUNT(*) AS n FROM leads
		WHERE agent_id IS NOT NULL AND assigned_at >= $1 AND assigned_at < $2 AND deleted_at IS NULL
		GROUP BY agent_id`
	rows, err := r.db.QueryxContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, MapDBError(err, "count assignments")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, MapDBError(err, "scan assignment count")
		}
		counts[agentID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, MapDBError(err, "iterate assignment counts")
	}
	return counts, nil
}
