package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

type reactivationStore interface {
	Exists(ctx context.Context, leadID string, days int) (bool, error)
	Create(ctx context.Context, tx *sqlx.Tx, m *models.ReactivationMarker) error
}

type reactivationLeadStore interface {
	ListLost(ctx context.Context) ([]models.Lead, error)
	FindForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.Lead, error)
}

type reactivationScheduler interface {
	ScheduleReactivation(ctx context.Context, tx *sqlx.Tx, lead *models.Lead, base time.Time, offset time.Duration, note string) (*models.FollowUp, error)
}

// ReactivationService re-engages lost leads at fixed day marks after lost_at.
type ReactivationService struct {
	txer      txRunner
	markers   reactivationStore
	leads     reactivationLeadStore
	followUps reactivationScheduler
	clock     Clock
	days      []int
	logger    *zap.Logger
}

// NewReactivationService builds a ReactivationService. days lists the marks
// in ascending order (default 7, 14, 30).
func NewReactivationService(
	txer txRunner,
	markers reactivationStore,
	leads reactivationLeadStore,
	followUps reactivationScheduler,
	clock Clock,
	days []int,
	logger *zap.Logger,
) *ReactivationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReactivationService{
		txer:      txer,
		markers:   markers,
		leads:     leads,
		followUps: followUps,
		clock:     clock,
		days:      days,
		logger:    logger,
	}
}

// Pass scans lost leads and, for each day mark already reached without a
// marker, writes the marker and arms a reactivation follow-up in one
// transaction. A lead that failed once is retried on the next tick.
func (s *ReactivationService) Pass(ctx context.Context) error {
	now := s.clock.Now()
	leads, err := s.leads.ListLost(ctx)
	if err != nil {
		return err
	}
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lead.LostAt == nil {
			continue
		}
		elapsed := int(now.Sub(*lead.LostAt).Hours() / 24)
		for _, mark := range s.days {
			if elapsed < mark {
				break
			}
			if err := s.arm(ctx, lead.ID, mark, now); err != nil {
				s.logger.Sugar().Warnw("reactivation arm failed",
					"lead_id", lead.ID, "days", mark, "error", err)
			}
		}
	}
	return nil
}

// arm creates the (lead, days) marker and its follow-up atomically. The
// pre-check keeps the common path cheap; the unique key catches races.
func (s *ReactivationService) arm(ctx context.Context, leadID string, mark int, now time.Time) error {
	exists, err := s.markers.Exists(ctx, leadID, mark)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = s.txer.WithinTx(ctx, func(tx *sqlx.Tx) error {
		lead, err := s.leads.FindForUpdate(ctx, tx, leadID)
		if err != nil {
			return err
		}
		if lead.State != models.StateLost {
			// Reactivated or enrolled since the scan started.
			return nil
		}
		if err := s.markers.Create(ctx, tx, &models.ReactivationMarker{
			LeadID: leadID,
			Days:   mark,
			SentAt: now,
		}); err != nil {
			return err
		}
		_, err = s.followUps.ScheduleReactivation(ctx, tx, lead, now, time.Hour,
			fmt.Sprintf("reactivation %d days", mark))
		return err
	})
	if appErrors.IsKind(err, appErrors.ErrConflict) {
		// Another instance armed this mark first.
		return nil
	}
	return err
}
