package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

const agentColumns = `id, user_id, branch_id, active, on_leave, absent,
	work_start, work_end, daily_cap, notify_target, created_at, updated_at`

// AgentRepository manages agent profiles, weekday schedules, and leaves.
type AgentRepository struct {
	db *sqlx.DB
}

// NewAgentRepository constructs an AgentRepository.
func NewAgentRepository(db *sqlx.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// FindByID fetches an agent profile.
func (r *AgentRepository) FindByID(ctx context.Context, id string) (*models.AgentProfile, error) {
	var a models.AgentProfile
	if err := r.db.GetContext(ctx, &a, `SELECT `+agentColumns+` FROM agent_profiles WHERE id = $1`, id); err != nil {
		return nil, MapDBError(err, "find agent")
	}
	return &a, nil
}

// ListActive returns agents that are active and not flagged absent, ordered
// by id so capacity ties break deterministically.
func (r *AgentRepository) ListActive(ctx context.Context) ([]models.AgentProfile, error) {
	const query = `SELECT ` + agentColumns + ` FROM agent_profiles
		WHERE active = TRUE AND absent = FALSE
		ORDER BY id ASC`
	var agents []models.AgentProfile
	if err := r.db.SelectContext(ctx, &agents, query); err != nil {
		return nil, MapDBError(err, "list active agents")
	}
	return agents, nil
}

// ListAll returns every agent profile, ordered by id.
func (r *AgentRepository) ListAll(ctx context.Context) ([]models.AgentProfile, error) {
	var agents []models.AgentProfile
	if err := r.db.SelectContext(ctx, &agents, `SELECT `+agentColumns+` FROM agent_profiles ORDER BY id ASC`); err != nil {
		return nil, MapDBError(err, "list agents")
	}
	return agents, nil
}

// Calendar loads the full availability snapshot for one agent: profile,
// weekday schedules, and approved leaves.
func (r *AgentRepository) Calendar(ctx context.Context, agentID string) (*models.CalendarSnapshot, error) {
	profile, err := r.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}

	const scheduleQuery = `SELECT id, agent_id, weekday, start_time, end_time, active
		FROM work_schedules WHERE agent_id = $1`
	var schedules []models.WorkSchedule
	if err := r.db.SelectContext(ctx, &schedules, scheduleQuery, agentID); err != nil {
		return nil, MapDBError(err, "load work schedules")
	}

	const leaveQuery = `SELECT id, agent_id, start_date, end_date, status, reason, approver_id, approved_at, created_at
		FROM leaves WHERE agent_id = $1 AND status = $2`
	var leaves []models.Leave
	if err := r.db.SelectContext(ctx, &leaves, leaveQuery, agentID, models.LeaveApproved); err != nil {
		return nil, MapDBError(err, "load approved leaves")
	}

	snapshot := &models.CalendarSnapshot{
		Profile:   *profile,
		Schedules: make(map[int]models.WorkSchedule, len(schedules)),
		Leaves:    leaves,
	}
	for _, s := range schedules {
		snapshot.Schedules[s.Weekday] = s
	}
	return snapshot, nil
}

// UpsertSchedule writes the weekday window for an agent, unique on
// (agent, weekday).
func (r *AgentRepository) UpsertSchedule(ctx context.Context, s *models.WorkSchedule) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	const query = `INSERT INTO work_schedules (id, agent_id, weekday, start_time, end_time, active)
		VALUES (:id, :agent_id, :weekday, :start_time, :end_time, :active)
		ON CONFLICT (agent_id, weekday) DO UPDATE SET
			start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time, active = EXCLUDED.active`
	if _, err := r.db.NamedExecContext(ctx, query, s); err != nil {
		return MapDBError(err, "upsert work schedule")
	}
	return nil
}

// CreateLeave opens a pending leave request.
func (r *AgentRepository) CreateLeave(ctx context.Context, l *models.Leave) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.Status == "" {
		l.Status = models.LeavePending
	}
	const query = `INSERT INTO leaves (id, agent_id, start_date, end_date, status, reason, approver_id, approved_at, created_at)
		VALUES (:id, :agent_id, :start_date, :end_date, :status, :reason, :approver_id, :approved_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, l); err != nil {
		return MapDBError(err, "create leave")
	}
	return nil
}

// ResolveLeave approves or rejects a pending leave.
func (r *AgentRepository) ResolveLeave(ctx context.Context, id string, status models.LeaveStatus, approverID string, at time.Time) error {
	const query = `UPDATE leaves SET status = $2, approver_id = $3, approved_at = $4
		WHERE id = $1 AND status = $5`
	res, err := r.db.ExecContext(ctx, query, id, status, approverID, at.UTC(), models.LeavePending)
	if err != nil {
		return MapDBError(err, "resolve leave")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "no pending leave with this id")
	}
	return nil
}

// RefreshOnLeave recomputes the derived on_leave flag for every agent against
// the given calendar day. Runs on the leave-expiry scan.
func (r *AgentRepository) RefreshOnLeave(ctx context.Context, day time.Time) (int64, error) {
	const query = `UPDATE agent_profiles a SET on_leave = EXISTS (
			SELECT 1 FROM leaves lv
			WHERE lv.agent_id = a.id AND lv.status = $1
			AND lv.start_date <= $2::date AND lv.end_date >= $2::date
		), updated_at = NOW()
		WHERE a.on_leave <> EXISTS (
			SELECT 1 FROM leaves lv
			WHERE lv.agent_id = a.id AND lv.status = $1
			AND lv.start_date <= $2::date AND lv.end_date >= $2::date
		)`
	res, err := r.db.ExecContext(ctx, query, models.LeaveApproved, day.Format("2006-01-02"))
	if err != nil {
		return 0, MapDBError(err, "refresh on-leave flags")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
