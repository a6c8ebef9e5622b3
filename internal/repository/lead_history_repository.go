package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

// LeadHistoryRepository manages the append-only lead transition log.
type LeadHistoryRepository struct {
	db *sqlx.DB
}

// NewLeadHistoryRepository constructs a LeadHistoryRepository.
func NewLeadHistoryRepository(db *sqlx.DB) *LeadHistoryRepository {
	return &LeadHistoryRepository{db: db}
}

// Append inserts a history row inside tx. History rows are never updated.
func (r *LeadHistoryRepository) Append(ctx context.Context, tx *sqlx.Tx, h *models.LeadHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO lead_history (id, lead_id, from_state, to_state, actor_id, note, created_at)
		VALUES (:id, :lead_id, :from_state, :to_state, :actor_id, :note, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, h); err != nil {
		return MapDBError(err, "append lead history")
	}
	return nil
}

// ListForLead returns the transition log for one lead, oldest first.
func (r *LeadHistoryRepository) ListForLead(ctx context.Context, leadID string) ([]models.LeadHistory, error) {
	const query = `SELECT id, lead_id, from_state, to_state, actor_id, note, created_at
		FROM lead_history WHERE lead_id = $1 ORDER BY created_at ASC`
	var rows []models.LeadHistory
	if err := r.db.SelectContext(ctx, &rows, query, leadID); err != nil {
		return nil, MapDBError(err, "list lead history")
	}
	return rows, nil
}

// CountEnteredState counts transitions into a state for an agent's leads in
// the given window.
func (r *LeadHistoryRepository) CountEnteredState(ctx context.Context, agentID string, state models.LeadState, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM lead_history h
		JOIN leads l ON l.id = h.lead_id
		WHERE l.agent_id = $1 AND h.to_state = $2 AND h.created_at >= $3 AND h.created_at < $4`
	var n int
	if err := r.db.GetContext(ctx, &n, query, agentID, state, from.UTC(), to.UTC()); err != nil {
		return 0, MapDBError(err, "count state entries")
	}
	return n, nil
}

// CountEnrolledAfterTrial counts leads that entered enrolled in the window
// and carry at least one earlier trial transition.
func (r *LeadHistoryRepository) CountEnrolledAfterTrial(ctx context.Context, agentID string, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(DISTINCT h.lead_id) FROM lead_history h
		JOIN leads l ON l.id = h.lead_id
		WHERE l.agent_id = $1 AND h.to_state = $2 AND h.created_at >= $3 AND h.created_at < $4
		AND EXISTS (
			SELECT 1 FROM lead_history p
			WHERE p.lead_id = h.lead_id AND p.created_at < h.created_at
			AND p.to_state IN ($5, $6, $7)
		)`
	var n int
	err := r.db.GetContext(ctx, &n, query, agentID, models.StateEnrolled, from.UTC(), to.UTC(),
		models.StateTrialRegistered, models.StateTrialAttended, models.StateTrialNotAttended)
	if err != nil {
		return 0, MapDBError(err, "count enrolled after trial")
	}
	return n, nil
}
