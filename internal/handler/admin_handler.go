package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/service"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/response"
)

// JobTrigger requests an on-demand run of a job kind.
type JobTrigger interface {
	Trigger(kind string) error
	Kinds() []string
}

// AdminHandler exposes the operations surface: job triggers, leave
// administration and KPI reads.
type AdminHandler struct {
	scheduler JobTrigger
	agents    *service.AgentService
	kpis      *service.KPIQueryService
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(scheduler JobTrigger, agents *service.AgentService, kpis *service.KPIQueryService) *AdminHandler {
	return &AdminHandler{scheduler: scheduler, agents: agents, kpis: kpis}
}

// TriggerJob starts an immediate run of the named job kind.
func (h *AdminHandler) TriggerJob(c *gin.Context) {
	kind := c.Param("kind")
	if err := h.scheduler.Trigger(kind); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "unknown job kind"))
		return
	}
	response.JSON(c, http.StatusAccepted, dto.TriggerResult{Kind: kind, Started: true}, nil)
}

// ListJobs lists the registered job kinds.
func (h *AdminHandler) ListJobs(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.scheduler.Kinds(), nil)
}

// CreateLeave opens a pending leave for an agent.
func (h *AdminHandler) CreateLeave(c *gin.Context) {
	var req dto.CreateLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid leave payload"))
		return
	}
	leave, err := h.agents.CreateLeave(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, leave)
}

// ApproveLeave approves a pending leave.
func (h *AdminHandler) ApproveLeave(c *gin.Context) {
	h.resolveLeave(c, true)
}

// RejectLeave rejects a pending leave.
func (h *AdminHandler) RejectLeave(c *gin.Context) {
	h.resolveLeave(c, false)
}

func (h *AdminHandler) resolveLeave(c *gin.Context, approve bool) {
	var req dto.ResolveLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid resolve payload"))
		return
	}
	if err := h.agents.ResolveLeave(c.Request.Context(), c.Param("id"), approve, req.ApproverID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// DailyKPIs returns an agent's daily rows for a date range.
func (h *AdminHandler) DailyKPIs(c *gin.Context) {
	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid from date"))
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid to date"))
		return
	}
	rows, err := h.kpis.Daily(c.Request.Context(), c.Param("agentId"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// MonthlyKPIs returns every agent's row for one month.
func (h *AdminHandler) MonthlyKPIs(c *gin.Context) {
	year, err := strconv.Atoi(c.Query("year"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid year"))
		return
	}
	month, err := strconv.Atoi(c.Query("month"))
	if err != nil || month < 1 || month > 12 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid month"))
		return
	}
	rows, err := h.kpis.Monthly(c.Request.Context(), year, month)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
