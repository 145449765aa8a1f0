package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/opscrm/internal/dedupe"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/events"
	"github.com/rpattn/opscrm/internal/leadloader"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/metrics"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/tabular"
	"github.com/rpattn/opscrm/internal/tracing"
	"github.com/rpattn/opscrm/pkg/validator"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultChunkSize    = 100
	defaultPreviewLimit = 50
)

// Service runs the import pipeline: start, map, preview and execute.
type Service struct {
	store        repository.Store
	classifier   *dedupe.Classifier
	validator    *validator.RowValidator
	publisher    events.Publisher
	chunkSize    int
	previewLimit int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithChunkSize sets how many rows one execution transaction handles.
func WithChunkSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithPreviewLimit caps the rows returned by Preview.
func WithPreviewLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.previewLimit = n
		}
	}
}

// WithClassifier replaces the default exact-match duplicate classifier.
func WithClassifier(c *dedupe.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithPublisher sets where run completion events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a new ingestion service.
func NewService(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		classifier:   dedupe.NewClassifier(),
		validator:    validator.NewRowValidator(),
		publisher:    events.Noop{},
		chunkSize:    defaultChunkSize,
		previewLimit: defaultPreviewLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRequest describes an uploaded file.
type StartRequest struct {
	WorkspaceID    uuid.UUID
	UploadedBy     uuid.UUID
	FileName       string
	Data           []byte
	IdempotencyKey string
}

// StartResult reports the run created or replayed for a request.
type StartResult struct {
	Run      domain.ImportRun `json:"run"`
	Replayed bool             `json:"replayed"`
	Repaired bool             `json:"repaired"`
}

// Start parses the file and stores a MAPPING run with one PENDING row per data line. A request
// carrying an idempotency key already used in the workspace returns the existing run unchanged.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Start", attribute.String("file_name", req.FileName))
	defer span.End()

	if req.WorkspaceID == uuid.Nil {
		return StartResult{}, domain.Validationf("workspace id is required")
	}
	if req.UploadedBy == uuid.Nil {
		return StartResult{}, domain.Validationf("uploader id is required")
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldWorkspaceID: req.WorkspaceID.String(),
		"file_name":             req.FileName,
	})

	if key != "" {
		existing, err := s.store.ImportRuns().GetByIdempotencyKey(ctx, req.WorkspaceID, key)
		switch {
		case err == nil:
			log.WithField(logger.FieldImportRunID, existing.ID.String()).Info("Replaying import run for idempotency key")
			metrics.ImportRunsStarted.WithLabelValues("replayed").Inc()
			return StartResult{Run: existing, Replayed: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			tracing.RecordError(span, err)
			return StartResult{}, fmt.Errorf("failed to look up idempotency key: %w", err)
		}
	}

	csvText, err := tabular.ToCSV(req.FileName, req.Data)
	if err != nil {
		return StartResult{}, err
	}
	table, err := tabular.ParseCSV(csvText)
	if err != nil {
		return StartResult{}, err
	}

	var idempotencyKey *string
	if key != "" {
		idempotencyKey = &key
	}
	mapping := tabular.DefaultMapping(table.Headers)
	run := domain.NewImportRun(req.WorkspaceID, req.UploadedBy, req.FileName, idempotencyKey, table.Headers, mapping, len(table.Rows))

	rows := make([]domain.ImportRow, 0, len(table.Rows))
	for _, source := range table.Rows {
		mapped, keys := tabular.MapAndNormalize(mapping, table.Headers, source.Values)
		rows = append(rows, domain.NewImportRow(run.ID, source.Number, source.Values, mapped, keys))
	}

	var created domain.ImportRun
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		if created, err = tx.ImportRuns().Create(ctx, run); err != nil {
			return err
		}
		return tx.ImportRows().CreateBatch(ctx, rows)
	})
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		// A concurrent request with the same key won the insert.
		existing, lookupErr := s.store.ImportRuns().GetByIdempotencyKey(ctx, req.WorkspaceID, key)
		if lookupErr != nil {
			return StartResult{}, fmt.Errorf("failed to load replayed import run: %w", lookupErr)
		}
		metrics.ImportRunsStarted.WithLabelValues("replayed").Inc()
		return StartResult{Run: existing, Replayed: true}, nil
	}
	if err != nil {
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to store import run")
		return StartResult{}, fmt.Errorf("failed to store import run: %w", err)
	}

	metrics.ImportRunsStarted.WithLabelValues("created").Inc()
	log.WithFields(logger.Fields{
		logger.FieldImportRunID: created.ID.String(),
		logger.FieldCount:       len(rows),
		"repaired":              table.Repaired,
	}).Info("Started import run")

	return StartResult{Run: created, Repaired: table.Repaired}, nil
}

// Map replaces the column mapping, re-derives every row and returns all rows to PENDING with
// their outcomes cleared. A RUNNING run stays RUNNING and the next Execute reclassifies it from
// the first row. Leads created by earlier outcomes are kept.
func (s *Service) Map(ctx context.Context, workspaceID, runID uuid.UUID, mapping domain.ColumnMapping) (domain.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Map", attribute.String("import_run_id", runID.String()))
	defer span.End()

	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return domain.ImportRun{}, err
	}
	if !run.Status.Remappable() {
		return domain.ImportRun{}, domain.StateConflictf("import run %s is %s and can no longer be remapped", run.ID, run.Status)
	}
	if err := tabular.ValidateMapping(mapping, run.Headers); err != nil {
		return domain.ImportRun{}, err
	}

	var updated domain.ImportRun
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		rows, _, err := tx.ImportRows().ListByRun(ctx, run.ID, repository.RowFilter{})
		if err != nil {
			return err
		}
		reset := make([]domain.ImportRow, len(rows))
		for i, row := range rows {
			mapped, keys := tabular.MapAndNormalize(mapping, run.Headers, row.Raw)
			reset[i] = row.Reset(mapped, keys)
		}
		if err := tx.ImportRows().ResetAll(ctx, reset); err != nil {
			return err
		}
		updated, err = tx.ImportRuns().UpdateMapping(ctx, run.ID, mapping)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return domain.ImportRun{}, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldWorkspaceID: workspaceID.String(),
		logger.FieldImportRunID: run.ID.String(),
		logger.FieldCount:       run.TotalRows,
		"status":                updated.Status,
	}).Info("Remapped import run")
	return updated, nil
}

// PreviewRow is one row as it would be imported.
type PreviewRow struct {
	RowID      uuid.UUID              `json:"row_id"`
	RowNumber  int                    `json:"row_number"`
	Status     domain.ImportRowStatus `json:"status"`
	Mapped     domain.MappedRow       `json:"mapped"`
	Normalized domain.NormalizedKeys  `json:"normalized"`
	Errors     []string               `json:"errors,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// PreviewResult is the read-only review of a run.
type PreviewResult struct {
	ImportRunID uuid.UUID              `json:"import_run_id"`
	Status      domain.ImportRunStatus `json:"status"`
	Headers     []string               `json:"headers"`
	Mapping     domain.ColumnMapping   `json:"mapping"`
	TotalRows   int                    `json:"total_rows"`
	InvalidRows int                    `json:"invalid_rows"`
	Rows        []PreviewRow           `json:"rows"`
}

// Preview returns the first rows with live validation. A non-nil mapping is applied on the fly
// instead of the stored one. Nothing is written.
func (s *Service) Preview(ctx context.Context, workspaceID, runID uuid.UUID, mapping domain.ColumnMapping) (PreviewResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Preview")
	defer span.End()

	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return PreviewResult{}, err
	}
	live := mapping != nil
	if live {
		if err := tabular.ValidateMapping(mapping, run.Headers); err != nil {
			return PreviewResult{}, err
		}
	} else {
		mapping = run.ColumnMapping
	}

	rows, _, err := s.store.ImportRows().ListByRun(ctx, run.ID, repository.RowFilter{Limit: s.previewLimit})
	if err != nil {
		return PreviewResult{}, err
	}

	result := PreviewResult{
		ImportRunID: run.ID,
		Status:      run.Status,
		Headers:     run.Headers,
		Mapping:     mapping,
		TotalRows:   run.TotalRows,
		Rows:        make([]PreviewRow, 0, len(rows)),
	}
	for _, row := range rows {
		mapped, keys := row.Mapped, row.Normalized
		if live {
			mapped, keys = tabular.MapAndNormalize(mapping, run.Headers, row.Raw)
		}
		check := s.validator.ValidateMappedRow(mapped)
		if !check.IsValid {
			result.InvalidRows++
		}
		result.Rows = append(result.Rows, PreviewRow{
			RowID:      row.ID,
			RowNumber:  row.RowNumber,
			Status:     row.Status,
			Mapped:     mapped,
			Normalized: keys,
			Errors:     check.ErrorMessages(),
			Warnings:   check.WarningMessages(),
		})
	}
	return result, nil
}

// GetRun returns the run with its live counters.
func (s *Service) GetRun(ctx context.Context, workspaceID, runID uuid.UUID) (domain.ImportRun, error) {
	return s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
}

// ListRuns returns the workspace runs, newest first.
func (s *Service) ListRuns(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]domain.ImportRun, error) {
	return s.store.ImportRuns().List(ctx, workspaceID, limit, offset)
}

// LeadSummary is the matched-lead projection attached to row listings.
type LeadSummary struct {
	ID           uuid.UUID         `json:"id"`
	BusinessName string            `json:"business_name"`
	Email        string            `json:"email,omitempty"`
	Phone        string            `json:"phone,omitempty"`
	Website      string            `json:"website,omitempty"`
	City         string            `json:"city,omitempty"`
	Status       domain.LeadStatus `json:"status"`
}

// RowView is an import row with its matched lead hydrated.
type RowView struct {
	domain.ImportRow
	MatchedLead *LeadSummary `json:"matched_lead,omitempty"`
}

// RowPage is one page of a row listing.
type RowPage struct {
	Rows   []RowView `json:"rows"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// ListRows pages through the rows of a run, optionally filtered by status.
func (s *Service) ListRows(ctx context.Context, workspaceID, runID uuid.UUID, filter repository.RowFilter) (RowPage, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return RowPage{}, domain.Validationf("unknown row status %q", status)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return RowPage{}, err
	}
	rows, total, err := s.store.ImportRows().ListByRun(ctx, run.ID, filter)
	if err != nil {
		return RowPage{}, err
	}

	loader := leadloader.FromContext(ctx)
	if loader == nil || loader.WorkspaceID() != workspaceID {
		loader = leadloader.NewLeadLoader(s.store.Leads(), workspaceID)
	}
	var matchedIDs []uuid.UUID
	for _, row := range rows {
		if row.MatchedLeadID != nil {
			matchedIDs = append(matchedIDs, *row.MatchedLeadID)
		}
	}
	matched, err := loader.LoadMany(ctx, matchedIDs)
	if err != nil {
		return RowPage{}, fmt.Errorf("failed to load matched leads: %w", err)
	}

	page := RowPage{Rows: make([]RowView, 0, len(rows)), Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for _, row := range rows {
		view := RowView{ImportRow: row}
		if row.MatchedLeadID != nil {
			if lead, ok := matched[*row.MatchedLeadID]; ok {
				view.MatchedLead = &LeadSummary{
					ID:           lead.ID,
					BusinessName: lead.BusinessName,
					Email:        lead.Email,
					Phone:        lead.Phone,
					Website:      lead.Website,
					City:         lead.City,
					Status:       lead.Status,
				}
			}
		}
		page.Rows = append(page.Rows, view)
	}
	return page, nil
}
