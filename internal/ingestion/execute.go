package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/opscrm/internal/dedupe"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/events"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/metrics"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// chunkResult is what one committed chunk contributed to the run.
type chunkResult struct {
	claimed int
	lastRow int
	delta   domain.RunCounters
	byState map[domain.ImportRowStatus]int
}

// Execute classifies every PENDING row of a run in chunks, each chunk in its own transaction.
// A COMPLETED run is returned as is. A failure mid-run leaves the run RUNNING with the
// committed chunks counted, and a later call resumes with the rows still PENDING.
func (s *Service) Execute(ctx context.Context, workspaceID, runID uuid.UUID) (domain.RunSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.Execute", attribute.String("import_run_id", runID.String()))
	defer span.End()

	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	if run.Status == domain.ImportRunStatusCompleted {
		return run.Summary(), nil
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldWorkspaceID: workspaceID.String(),
		logger.FieldImportRunID: run.ID.String(),
	})
	log := logger.FromContext(ctx)

	run, err = s.store.ImportRuns().MarkRunning(ctx, run.ID, s.now())
	if errors.Is(err, domain.ErrStateConflict) {
		// Another executor completed the run between our read and the update.
		return s.currentSummary(ctx, workspaceID, runID)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return domain.RunSummary{}, fmt.Errorf("failed to mark import run running: %w", err)
	}
	log.WithField(logger.FieldCount, run.TotalRows).Info("Executing import run")

	afterRow := 0
	for chunk := 1; ; chunk++ {
		started := time.Now()
		result, err := s.processChunk(ctx, run, afterRow)
		if err != nil {
			tracing.RecordError(span, err)
			log.WithError(err).WithField(logger.FieldChunk, chunk).Error("Import chunk failed, run stays RUNNING")
			return domain.RunSummary{}, fmt.Errorf("failed to process import chunk %d: %w", chunk, err)
		}
		if result.claimed == 0 {
			break
		}
		metrics.ImportChunkDuration.Observe(time.Since(started).Seconds())
		for status, n := range result.byState {
			metrics.ImportRowsProcessed.WithLabelValues(string(status)).Add(float64(n))
		}
		log.WithFields(logger.Fields{
			logger.FieldChunk:      chunk,
			logger.FieldCount:      result.claimed,
			logger.FieldDurationMs: time.Since(started).Milliseconds(),
		}).Debug("Committed import chunk")
		afterRow = result.lastRow
	}

	counts, err := s.store.ImportRows().CountByStatus(ctx, run.ID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	if counts[domain.ImportRowStatusPending] > 0 {
		// Rows locked by a concurrent executor; it completes the run when it finishes them.
		log.WithField(logger.FieldCount, counts[domain.ImportRowStatusPending]).Info("Rows still pending in another executor")
		return s.currentSummary(ctx, workspaceID, runID)
	}

	completed, err := s.store.ImportRuns().MarkCompleted(ctx, run.ID, s.now())
	if errors.Is(err, domain.ErrStateConflict) {
		return s.currentSummary(ctx, workspaceID, runID)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return domain.RunSummary{}, fmt.Errorf("failed to complete import run: %w", err)
	}

	metrics.ImportRunsCompleted.Inc()
	summary := completed.Summary()
	log.WithFields(logger.Fields{
		"created":         summary.CreatedCount,
		"hard_duplicates": summary.HardDuplicateCount,
		"soft_duplicates": summary.SoftDuplicateCount,
		"errors":          summary.ErrorCount,
	}).Info("Import run completed")

	s.publish(ctx, events.Event{
		Type:        events.TypeImportRunCompleted,
		WorkspaceID: workspaceID,
		SubjectID:   run.ID,
		Data: map[string]any{
			"total_rows":           summary.TotalRows,
			"created_count":        summary.CreatedCount,
			"hard_duplicate_count": summary.HardDuplicateCount,
			"soft_duplicate_count": summary.SoftDuplicateCount,
			"error_count":          summary.ErrorCount,
		},
	})
	return summary, nil
}

func (s *Service) currentSummary(ctx context.Context, workspaceID, runID uuid.UUID) (domain.RunSummary, error) {
	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return domain.RunSummary{}, err
	}
	return run.Summary(), nil
}

// processChunk claims the next PENDING rows and classifies them in one transaction.
func (s *Service) processChunk(ctx context.Context, run domain.ImportRun, afterRow int) (chunkResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ingestion.Service.processChunk", attribute.Int("after_row", afterRow))
	defer span.End()

	var result chunkResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		result = chunkResult{byState: make(map[domain.ImportRowStatus]int)}

		rows, err := tx.ImportRows().ClaimPending(ctx, run.ID, afterRow, s.chunkSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		pool, err := tx.Leads().FindLookupPool(ctx, run.WorkspaceID, s.lookupFor(rows))
		if err != nil {
			return err
		}

		for _, row := range rows {
			outcome, created := s.classifyRow(ctx, tx, run, row, pool)
			if created != nil {
				pool = append(pool, *created)
			}
			next, err := row.Apply(outcome)
			if err != nil {
				return err
			}
			err = tx.ImportRows().SaveOutcome(ctx, next, domain.ImportRowStatusPending)
			if errors.Is(err, domain.ErrStateConflict) {
				continue
			}
			if err != nil {
				return err
			}
			result.delta = result.delta.Record(outcome.Status)
			result.byState[outcome.Status]++
		}

		result.claimed = len(rows)
		result.lastRow = rows[len(rows)-1].RowNumber
		if result.delta == (domain.RunCounters{}) {
			return nil
		}
		_, err = tx.ImportRuns().AddCounters(ctx, run.ID, result.delta)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return chunkResult{}, err
	}
	return result, nil
}

// classifyRow decides the outcome of one row and creates its lead when it is new. Lead creation
// runs in a savepoint so a failed insert turns only this row into an ERROR.
func (s *Service) classifyRow(ctx context.Context, tx repository.Store, run domain.ImportRun, row domain.ImportRow, pool []domain.Lead) (domain.RowOutcome, *domain.Lead) {
	check := s.validator.ValidateMappedRow(row.Mapped)
	if !check.IsValid {
		return domain.RowOutcome{Status: domain.ImportRowStatusError, Reason: check.Reason()}, nil
	}

	match := s.classifier.Classify(row.Normalized, pool)
	switch match.Kind {
	case dedupe.KindHard:
		leadID := match.Lead.ID
		return domain.RowOutcome{
			Status:        domain.ImportRowStatusHardDuplicate,
			Reason:        match.Reason,
			MatchedLeadID: &leadID,
		}, nil
	case dedupe.KindSoft:
		leadID := match.Lead.ID
		score := match.Score
		return domain.RowOutcome{
			Status:         domain.ImportRowStatusSoftDuplicate,
			Reason:         match.Reason,
			MatchedLeadID:  &leadID,
			SoftMatchScore: &score,
		}, nil
	}

	runID := run.ID
	lead := domain.NewLeadFromMappedRow(run.WorkspaceID, &runID, row.Mapped, row.Normalized)
	var created domain.Lead
	err := tx.WithTx(ctx, func(inner repository.Store) error {
		var err error
		created, err = inner.Leads().Create(ctx, lead)
		return err
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField(logger.FieldRowID, row.ID.String()).Warn("Failed to create lead for import row")
		return domain.RowOutcome{
			Status: domain.ImportRowStatusError,
			Reason: fmt.Sprintf("failed to create lead: %v", err),
		}, nil
	}
	createdID := created.ID
	return domain.RowOutcome{Status: domain.ImportRowStatusCreated, CreatedLeadID: &createdID}, &created
}

// lookupFor collects the normalized keys of a chunk. Names narrow the city lookup only when
// soft matching needs exact names.
func (s *Service) lookupFor(rows []domain.ImportRow) repository.LeadLookup {
	var lookup repository.LeadLookup
	seen := make(map[string]bool)
	add := func(list *[]string, kind, value string) {
		if value == "" || seen[kind+":"+value] {
			return
		}
		seen[kind+":"+value] = true
		*list = append(*list, value)
	}
	exactNames := s.classifier.ExactNames()
	for _, row := range rows {
		keys := row.Normalized
		add(&lookup.Emails, "email", keys.Email)
		add(&lookup.Phones, "phone", keys.Phone)
		add(&lookup.Domains, "domain", keys.Domain)
		if keys.City == "" || keys.Name == "" {
			continue
		}
		add(&lookup.Cities, "city", keys.City)
		if exactNames {
			add(&lookup.Names, "name", keys.Name)
		}
	}
	return lookup
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}
