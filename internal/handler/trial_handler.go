package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/internal/service"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/response"
)

// TrialHandler exposes trial booking and result endpoints.
type TrialHandler struct {
	trials *service.TrialService
}

// NewTrialHandler constructs a trial handler.
func NewTrialHandler(trials *service.TrialService) *TrialHandler {
	return &TrialHandler{trials: trials}
}

// Create books a trial lesson for a lead.
func (h *TrialHandler) Create(c *gin.Context) {
	var req dto.CreateTrialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid trial payload"))
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid trial date"))
		return
	}
	trial := &models.TrialLesson{
		LeadID:  req.LeadID,
		GroupID: req.GroupID,
		RoomID:  req.RoomID,
		Date:    date,
	}
	if req.StartTime != "" {
		trial.StartTime = &req.StartTime
	}
	if err := h.trials.Create(c.Request.Context(), trial, nil); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, trial)
}

// SetResult records a trial outcome.
func (h *TrialHandler) SetResult(c *gin.Context) {
	var req dto.TrialResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid result payload"))
		return
	}
	var actor *string
	if req.ActorID != "" {
		actor = &req.ActorID
	}
	if err := h.trials.SetResult(c.Request.Context(), c.Param("id"), models.TrialResult(req.Result), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
