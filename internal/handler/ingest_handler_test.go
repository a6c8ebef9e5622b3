package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/models"
	"github.com/edupoint-crm/lead-engine/internal/service"
)

type ingestStoreMock struct {
	existing map[string]bool
	created  int
}

func (m *ingestStoreMock) Create(ctx context.Context, lead *models.Lead) error {
	m.created++
	return nil
}

func (m *ingestStoreMock) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return m.existing[phone], nil
}

func newIngestHandler(store *ingestStoreMock) *IngestHandler {
	svc := service.NewIngestService(store, nil, nil, service.NewClock(nil), nil, "+998", nil, nil)
	return NewIngestHandler(svc)
}

func TestIngestHandlerBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &ingestStoreMock{existing: map[string]bool{"+998907777777": true}}
	handler := newIngestHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.IngestRequest{Records: []dto.LeadRecord{
		{Name: "Fresh", Phone: "+998901112233", Source: "organic"},
		{Name: "Known", Phone: "90 777 77 77", Source: "telegram"},
	}})
	req, _ := http.NewRequest(http.MethodPost, "/leads/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Ingest(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, store.created)

	var envelope struct {
		Data dto.IngestSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 2, envelope.Data.Received)
	assert.Equal(t, 1, envelope.Data.Created)
	assert.Equal(t, 1, envelope.Data.Duplicates)
}

func TestIngestHandlerEmptyBatch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newIngestHandler(&ingestStoreMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/leads/ingest", bytes.NewReader([]byte(`{"records":[]}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Ingest(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestHandlerInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newIngestHandler(&ingestStoreMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/leads/ingest", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Ingest(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
