package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

type agentStore interface {
	FindByID(ctx context.Context, id string) (*models.AgentProfile, error)
	UpsertSchedule(ctx context.Context, s *models.WorkSchedule) error
	CreateLeave(ctx context.Context, l *models.Leave) error
	ResolveLeave(ctx context.Context, id string, status models.LeaveStatus, approverID string, at time.Time) error
	RefreshOnLeave(ctx context.Context, day time.Time) (int64, error)
}

// AgentService covers agent calendar administration and the daily leave
// flag refresh.
type AgentService struct {
	agents   agentStore
	clock    Clock
	loc      *time.Location
	validate *validator.Validate
	logger   *zap.Logger
}

// NewAgentService builds an AgentService.
func NewAgentService(agents agentStore, clock Clock, loc *time.Location, validate *validator.Validate, logger *zap.Logger) *AgentService {
	if loc == nil {
		loc = time.UTC
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentService{agents: agents, clock: clock, loc: loc, validate: validate, logger: logger}
}

// CreateLeave opens a pending leave request for an agent.
func (s *AgentService) CreateLeave(ctx context.Context, req dto.CreateLeaveRequest) (*models.Leave, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave request")
	}
	start, err := time.ParseInLocation("2006-01-02", req.StartDate, s.loc)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid start date")
	}
	end, err := time.ParseInLocation("2006-01-02", req.EndDate, s.loc)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid end date")
	}
	if end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date before start date")
	}
	if _, err := s.agents.FindByID(ctx, req.AgentID); err != nil {
		return nil, err
	}

	leave := &models.Leave{
		AgentID:   req.AgentID,
		StartDate: start,
		EndDate:   end,
		Status:    models.LeavePending,
		Reason:    req.Reason,
	}
	if err := s.agents.CreateLeave(ctx, leave); err != nil {
		return nil, err
	}
	return leave, nil
}

// ResolveLeave approves or rejects a pending leave. Approval takes effect on
// availability immediately through the flag refresh.
func (s *AgentService) ResolveLeave(ctx context.Context, leaveID string, approve bool, approverID string) error {
	if approverID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "approver id required")
	}
	status := models.LeaveRejected
	if approve {
		status = models.LeaveApproved
	}
	now := s.clock.Now()
	if err := s.agents.ResolveLeave(ctx, leaveID, status, approverID, now); err != nil {
		return err
	}
	if approve {
		if _, err := s.agents.RefreshOnLeave(ctx, now.In(s.loc)); err != nil {
			s.logger.Sugar().Warnw("on-leave flag refresh failed", "leave_id", leaveID, "error", err)
		}
	}
	return nil
}

// UpsertSchedule replaces one weekday window of an agent's calendar.
func (s *AgentService) UpsertSchedule(ctx context.Context, schedule *models.WorkSchedule) error {
	if schedule.Weekday < 0 || schedule.Weekday > 6 {
		return appErrors.Clone(appErrors.ErrValidation, "weekday out of range")
	}
	if _, err := s.agents.FindByID(ctx, schedule.AgentID); err != nil {
		return err
	}
	return s.agents.UpsertSchedule(ctx, schedule)
}

// LeaveExpiryPass recomputes every agent's derived on-leave flag for the
// current business day.
func (s *AgentService) LeaveExpiryPass(ctx context.Context) error {
	day := s.clock.Now().In(s.loc)
	changed, err := s.agents.RefreshOnLeave(ctx, day)
	if err != nil {
		return err
	}
	if changed > 0 {
		s.logger.Sugar().Infow("on-leave flags refreshed", "changed", changed)
	}
	return nil
}
