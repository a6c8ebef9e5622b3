package service

import (
	"context"
	"time"

	"github.com/edupoint-crm/lead-engine/internal/models"
)

type kpiReadStore interface {
	ListDaily(ctx context.Context, agentID string, from, to time.Time) ([]models.DailyKPI, error)
	ListMonthly(ctx context.Context, year, month int) ([]models.MonthlyKPI, error)
}

// KPIQueryService is the read side of the aggregates for the ops surface.
type KPIQueryService struct {
	kpis kpiReadStore
}

// NewKPIQueryService builds a KPIQueryService.
func NewKPIQueryService(kpis kpiReadStore) *KPIQueryService {
	return &KPIQueryService{kpis: kpis}
}

// Daily returns an agent's rows for [from, to] inclusive of the to date.
func (s *KPIQueryService) Daily(ctx context.Context, agentID string, from, to time.Time) ([]models.DailyKPI, error) {
	return s.kpis.ListDaily(ctx, agentID, from, to.AddDate(0, 0, 1))
}

// Monthly returns every agent's row for one month.
func (s *KPIQueryService) Monthly(ctx context.Context, year, month int) ([]models.MonthlyKPI, error) {
	return s.kpis.ListMonthly(ctx, year, month)
}
