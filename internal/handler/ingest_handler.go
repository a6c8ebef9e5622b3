package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/service"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
	"github.com/edupoint-crm/lead-engine/pkg/response"
)

// IngestHandler accepts push-ingestion batches.
type IngestHandler struct {
	ingest *service.IngestService
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingest *service.IngestService) *IngestHandler {
	return &IngestHandler{ingest: ingest}
}

// Ingest processes one batch of inbound records.
func (h *IngestHandler) Ingest(c *gin.Context) {
	var req dto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid ingest payload"))
		return
	}
	if len(req.Records) == 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "batch is empty"))
		return
	}
	summary, err := h.ingest.IngestBatch(c.Request.Context(), req.Records)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
