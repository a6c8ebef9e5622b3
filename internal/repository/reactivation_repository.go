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

// ReactivationRepository manages lost-lead re-engagement markers.
type ReactivationRepository struct {
	db *sqlx.DB
}

// NewReactivationRepository constructs a ReactivationRepository.
func NewReactivationRepository(db *sqlx.DB) *ReactivationRepository {
	return &ReactivationRepository{db: db}
}

// Exists reports whether a marker for (lead, days) was already created.
func (r *ReactivationRepository) Exists(ctx context.Context, leadID string, days int) (bool, error) {
	const query = `SELECT 1 FROM reactivation_markers WHERE lead_id = $1 AND days = $2 LIMIT 1`
	var one int
	if err := r.db.GetContext(ctx, &one, query, leadID, days); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, MapDBError(err, "check reactivation marker")
	}
	return true, nil
}

// Create inserts a marker inside tx, atomically with the follow-up it arms.
// The (lead_id, days) unique key makes the scan idempotent under races.
func (r *ReactivationRepository) Create(ctx context.Context, tx *sqlx.Tx, m *models.ReactivationMarker) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now().UTC()
	}
	const query = `INSERT INTO reactivation_markers (id, lead_id, days, sent_at, outcome)
		VALUES (:id, :lead_id, :days, :sent_at, :outcome)`
	if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
		return MapDBError(err, "create reactivation marker")
	}
	return nil
}

// SetOutcome tags the lead's open markers with what the re-engagement led
// to. Markers already resolved keep their verdict.
func (r *ReactivationRepository) SetOutcome(ctx context.Context, leadID, outcome string) error {
	const query = `UPDATE reactivation_markers SET outcome = $2 WHERE lead_id = $1 AND outcome IS NULL`
	if _, err := r.db.ExecContext(ctx, query, leadID, outcome); err != nil {
		return MapDBError(err, "set reactivation outcome")
	}
	return nil
}
