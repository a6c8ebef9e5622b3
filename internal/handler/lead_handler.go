package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/internal/service"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/response"
)

// LeadHandler exposes lead read and transition endpoints.
type LeadHandler struct {
	leads     *service.LeadService
	followUps *service.FollowUpService
}

// NewLeadHandler constructs a lead handler.
func NewLeadHandler(leads *service.LeadService, followUps *service.FollowUpService) *LeadHandler {
	return &LeadHandler{leads: leads, followUps: followUps}
}

// List returns leads with filters and paging.
func (h *LeadHandler) List(c *gin.Context) {
	var filter models.LeadFilter
	if state := c.Query("state"); state != "" {
		filter.State = models.LeadState(state)
	}
	if source := c.Query("source"); source != "" {
		filter.Source = models.LeadSource(source)
	}
	filter.AgentID = c.Query("agentId")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	leads, total, err := h.leads.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, leads, paginate(filter.Page, filter.PageSize, total))
}

// Get returns one lead with its full history.
func (h *LeadHandler) Get(c *gin.Context) {
	lead, history, err := h.leads.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"lead": lead, "history": history}, nil)
}

// Transition moves a lead to a target state.
func (h *LeadHandler) Transition(c *gin.Context) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload"))
		return
	}
	var actor *string
	if req.ActorID != "" {
		actor = &req.ActorID
	}
	if err := h.leads.Transition(c.Request.Context(), c.Param("id"), models.LeadState(req.Target), actor, req.Note); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CompleteFollowUp closes one follow-up by id.
func (h *LeadHandler) CompleteFollowUp(c *gin.Context) {
	var req dto.CompleteFollowUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload"))
		return
	}
	if err := h.followUps.Complete(c.Request.Context(), c.Param("id"), req.ActorID, req.Note); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func paginate(page, size, total int) *models.Pagination {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	pages := total / size
	if total%size > 0 {
		pages++
	}
	return &models.Pagination{Page: page, PageSize: size, TotalItems: total, TotalPages: pages}
}
