package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edupoint-crm/lead-engine/internal/dto"
	"github.com/edupoint-crm/lead-engine/internal/models"
	appErrors "github.com/edupoint-crm/lead-engine/pkg/errors"
)

// Source is a pull-based batch of inbound prospect records.
type Source interface {
	Fetch(ctx context.Context) ([]dto.LeadRecord, error)
}

type ingestLeadStore interface {
	Create(ctx context.Context, lead *models.Lead) error
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
}

// dispatchTrigger asks for an assignment pass once ingestion produced new
// leads.
type dispatchTrigger interface {
	TriggerDispatch()
}

// IngestService pulls external records, dedupes by phone, and materializes
// new leads.
type IngestService struct {
	leads         ingestLeadStore
	source        Source
	dispatch      dispatchTrigger
	clock         Clock
	validator     *validator.Validate
	countryPrefix string
	metrics       *MetricsService
	logger        *zap.Logger
}

// NewIngestService builds an IngestService. source may be nil when only the
// push endpoint feeds the engine; metrics may be nil.
func NewIngestService(
	leads ingestLeadStore,
	source Source,
	dispatch dispatchTrigger,
	clock Clock,
	validate *validator.Validate,
	countryPrefix string,
	metrics *MetricsService,
	logger *zap.Logger,
) *IngestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		leads:         leads,
		source:        source,
		dispatch:      dispatch,
		clock:         clock,
		validator:     validate,
		countryPrefix: countryPrefix,
		metrics:       metrics,
		logger:        logger,
	}
}

// CanonicalPhone strips whitespace and punctuation, keeps a leading '+', and
// otherwise prepends the configured country prefix.
func CanonicalPhone(raw, countryPrefix string) string {
	var b strings.Builder
	plus := false
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			plus = true
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	if plus {
		return "+" + digits
	}
	return countryPrefix + digits
}

// PullPass fetches one batch from the configured source and ingests it. A
// fetch failure fails the whole batch without advancing any state.
func (s *IngestService) PullPass(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	records, err := s.source.Fetch(ctx)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, "fetch ingestion batch")
	}
	if len(records) == 0 {
		return nil
	}
	_, err = s.IngestBatch(ctx, records)
	return err
}

// IngestBatch processes one batch of records. Malformed records are skipped
// with a reason; known phones count as duplicates; the rest become leads in
// the new state. At least one creation enqueues a dispatch pass.
func (s *IngestService) IngestBatch(ctx context.Context, records []dto.LeadRecord) (*dto.IngestSummary, error) {
	summary := &dto.IngestSummary{Received: len(records)}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		phone := CanonicalPhone(rec.Phone, s.countryPrefix)
		if reason := s.validateRecord(rec, phone); reason != "" {
			summary.Skipped = append(summary.Skipped, dto.SkippedRecord{Phone: rec.Phone, Reason: reason})
			s.logger.Sugar().Infow("ingestion record skipped", "phone", rec.Phone, "reason", reason)
			continue
		}

		exists, err := s.leads.ExistsByPhone(ctx, phone)
		if err != nil {
			s.logger.Sugar().Warnw("phone dedup check failed", "phone", phone, "error", err)
			continue
		}
		if exists {
			summary.Duplicates++
			continue
		}

		lead := &models.Lead{
			FullName:  strings.TrimSpace(rec.Name),
			Phone:     phone,
			Source:    models.LeadSource(rec.Source),
			State:     models.StateNew,
			CreatedAt: s.clock.Now().UTC(),
		}
		if rec.SecondaryPhone != "" {
			secondary := CanonicalPhone(rec.SecondaryPhone, s.countryPrefix)
			lead.SecondaryPhone = &secondary
		}
		if rec.CourseID != "" {
			lead.CourseID = &rec.CourseID
		}
		if rec.BranchID != "" {
			lead.BranchID = &rec.BranchID
		}

		if err := s.leads.Create(ctx, lead); err != nil {
			if appErrors.IsKind(err, appErrors.ErrConflict) {
				// Lost the race against a concurrent batch with the same phone.
				summary.Duplicates++
				continue
			}
			s.logger.Sugar().Warnw("lead create failed", "phone", phone, "error", err)
			continue
		}
		summary.Created++
		s.logger.Sugar().Infow("lead ingested", "lead_id", lead.ID, "source", lead.Source)
	}

	s.metrics.CountIngested("created", summary.Created)
	s.metrics.CountIngested("duplicate", summary.Duplicates)
	s.metrics.CountIngested("skipped", len(summary.Skipped))

	if summary.Created > 0 && s.dispatch != nil {
		s.dispatch.TriggerDispatch()
	}
	return summary, nil
}

func (s *IngestService) validateRecord(rec dto.LeadRecord, canonicalPhone string) string {
	if err := s.validator.Struct(rec); err != nil {
		return "malformed record: " + err.Error()
	}
	if canonicalPhone == "" {
		return "phone has no digits"
	}
	if !models.ValidSource(models.LeadSource(rec.Source)) {
		return "unknown source tag"
	}
	return ""
}
