package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edupoint-crm/lead-engine/internal/dto"
)

// HTTPSource pulls lead batches from an external JSON endpoint. The endpoint
// returns {"records": [...]} and is expected to hand out each record only
// once; the phone dedup downstream covers replays regardless.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource builds an HTTPSource with the given fetch timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves one batch.
func (s *HTTPSource) Fetch(ctx context.Context) ([]dto.LeadRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build ingestion request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ingestion batch: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingestion source returned %d", resp.StatusCode)
	}

	var body struct {
		Records []dto.LeadRecord `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ingestion batch: %w", err)
	}
	return body.Records, nil
}
