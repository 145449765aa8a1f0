// Package merge resolves soft duplicates and merges leads.
package merge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/events"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/metrics"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Service applies human merge decisions.
type Service struct {
	store     repository.Store
	publisher events.Publisher
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets where resolution and merge events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock overrides the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a merge service.
func NewService(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: events.Noop{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveRequest is a decision for one SOFT_DUPLICATE row.
type ResolveRequest struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	RowID       uuid.UUID
	Action      domain.ResolutionAction
	// MatchedLeadID overrides the lead the classifier matched.
	MatchedLeadID *uuid.UUID
	ChosenFields  domain.ChosenFields
	Reason        string
}

// ResolveResult is the row after resolution plus whatever lead and audit entry it touched.
type ResolveResult struct {
	Row      domain.ImportRow `json:"row"`
	Lead     *domain.Lead     `json:"lead,omitempty"`
	MergeLog *domain.MergeLog `json:"merge_log,omitempty"`
}

// ResolveSoftDuplicate applies action to a SOFT_DUPLICATE row in a single transaction.
func (s *Service) ResolveSoftDuplicate(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Service.ResolveSoftDuplicate",
		attribute.String("import_row_id", req.RowID.String()),
		attribute.String("action", string(req.Action)),
	)
	defer span.End()

	if !req.Action.Valid() {
		return ResolveResult{}, domain.Validationf("unknown resolution action %q", req.Action)
	}
	if err := ValidateChoices(req.ChosenFields); err != nil {
		return ResolveResult{}, err
	}

	var result ResolveResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		row, err := tx.ImportRows().GetByID(ctx, req.RowID)
		if err != nil {
			return err
		}
		run, err := tx.ImportRuns().GetByID(ctx, req.WorkspaceID, row.ImportRunID)
		if err != nil {
			return domain.NotFoundf("import row %s", req.RowID)
		}
		if row.Status != domain.ImportRowStatusSoftDuplicate {
			return domain.StateConflictf("import row %s is %s, only %s rows can be resolved", row.ID, row.Status, domain.ImportRowStatusSoftDuplicate)
		}

		matchedID := req.MatchedLeadID
		if matchedID == nil {
			matchedID = row.MatchedLeadID
		}
		action := req.Action
		outcome := domain.RowOutcome{ChosenAction: &action, Reason: strings.TrimSpace(req.Reason)}

		switch req.Action {
		case domain.ResolutionSkip:
			outcome.Status = domain.ImportRowStatusSkipped

		case domain.ResolutionCreate:
			lead := domain.NewLeadFromMappedRow(req.WorkspaceID, &run.ID, row.Mapped, row.Normalized)
			created, err := tx.Leads().Create(ctx, lead)
			if err != nil {
				return fmt.Errorf("failed to create lead: %w", err)
			}
			result.Lead = &created
			outcome.Status = domain.ImportRowStatusCreated
			outcome.CreatedLeadID = &created.ID

		case domain.ResolutionLinkExisting:
			if matchedID == nil {
				return domain.Validationf("matchedLeadId is required for %s", req.Action)
			}
			lead, err := tx.Leads().GetByID(ctx, req.WorkspaceID, *matchedID)
			if err != nil {
				return err
			}
			result.Lead = &lead
			outcome.Status = domain.ImportRowStatusSkipped
			outcome.MatchedLeadID = &lead.ID

		case domain.ResolutionMerge:
			if matchedID == nil {
				return domain.Validationf("matchedLeadId is required for %s", req.Action)
			}
			lead, entry, err := s.mergeRowIntoLead(ctx, tx, req, run, row, *matchedID)
			if err != nil {
				return err
			}
			result.Lead = &lead
			result.MergeLog = &entry
			outcome.Status = domain.ImportRowStatusMerged
			outcome.MatchedLeadID = &lead.ID
			outcome.MergedIntoLeadID = &lead.ID
		}

		next, err := row.Apply(outcome)
		if err != nil {
			return err
		}
		if err := tx.ImportRows().SaveOutcome(ctx, next, domain.ImportRowStatusSoftDuplicate); err != nil {
			return err
		}
		result.Row = next
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return ResolveResult{}, err
	}

	metrics.RowResolutions.WithLabelValues(string(req.Action)).Inc()
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldWorkspaceID: req.WorkspaceID.String(),
		logger.FieldRowID:       req.RowID.String(),
		logger.FieldStatus:      string(result.Row.Status),
		"action":                string(req.Action),
	}).Info("Resolved soft duplicate")

	data := map[string]any{"action": string(req.Action), "status": string(result.Row.Status)}
	if result.Lead != nil {
		data["lead_id"] = result.Lead.ID.String()
	}
	s.publish(ctx, events.Event{
		Type:        events.TypeImportRowResolved,
		WorkspaceID: req.WorkspaceID,
		SubjectID:   result.Row.ID,
		Data:        data,
	})
	return result, nil
}

// mergeRowIntoLead folds the row's mapped fields into an existing lead and audits it.
func (s *Service) mergeRowIntoLead(ctx context.Context, tx repository.Store, req ResolveRequest, run domain.ImportRun, row domain.ImportRow, leadID uuid.UUID) (domain.Lead, domain.MergeLog, error) {
	before, err := tx.Leads().GetByID(ctx, req.WorkspaceID, leadID)
	if err != nil {
		return domain.Lead{}, domain.MergeLog{}, err
	}
	if !before.Matchable() {
		return domain.Lead{}, domain.MergeLog{}, domain.StateConflictf("lead %s is merged or archived", before.ID)
	}

	resolved := ResolveFields(before, row.Mapped.Fields, req.ChosenFields)
	resolved.CustomData = unionCustomData(before.CustomData, row.Mapped.CustomData)
	after, err := tx.Leads().Update(ctx, resolved)
	if err != nil {
		return domain.Lead{}, domain.MergeLog{}, fmt.Errorf("failed to update lead: %w", err)
	}

	note := fmt.Sprintf("Merged import row %d of %s into this lead", row.RowNumber, run.FileName)
	if changed := domain.ChangedFields(before, after); len(changed) > 0 {
		names := make([]string, len(changed))
		for i, field := range changed {
			names[i] = string(field)
		}
		note += " (updated " + strings.Join(names, ", ") + ")"
	}
	if _, err := tx.Touchpoints().Create(ctx, domain.NewTouchpoint(req.WorkspaceID, after.ID, domain.TouchpointNote, note, req.UserID)); err != nil {
		return domain.Lead{}, domain.MergeLog{}, fmt.Errorf("failed to record merge note: %w", err)
	}

	incoming := row.Mapped
	rowID := row.ID
	entry, err := domain.NewMergeLog(req.WorkspaceID, after.ID, after.ID, req.ChosenFields, domain.MergeSnapshot{
		Before:   domain.MergeSides{Primary: before},
		After:    domain.MergeSides{Primary: after},
		Incoming: &incoming,
		RowID:    &rowID,
	}, req.Reason, &run.ID, req.UserID)
	if err != nil {
		return domain.Lead{}, domain.MergeLog{}, err
	}
	if entry, err = tx.MergeLogs().Create(ctx, entry); err != nil {
		return domain.Lead{}, domain.MergeLog{}, fmt.Errorf("failed to write merge log: %w", err)
	}
	return after, entry, nil
}

// MergeRequest asks to absorb MergedLeadID into PrimaryLeadID.
type MergeRequest struct {
	WorkspaceID   uuid.UUID
	UserID        uuid.UUID
	PrimaryLeadID uuid.UUID
	MergedLeadID  uuid.UUID
	ChosenFields  domain.ChosenFields
	Reason        string
	ImportRunID   *uuid.UUID
}

// MergeResult reports both leads after the merge and how many references moved.
type MergeResult struct {
	Primary          domain.Lead     `json:"primary"`
	Merged           domain.Lead     `json:"merged"`
	MergeLog         domain.MergeLog `json:"merge_log"`
	MovedTasks       int64           `json:"moved_tasks"`
	MovedTouchpoints int64           `json:"moved_touchpoints"`
	MovedImportRows  int64           `json:"moved_import_rows"`
}

// MergeLeadRecords merges two leads atomically: the primary takes the resolved fields, every
// task, touchpoint and import row pointing at the merged lead moves to the primary, the merged
// lead becomes MERGED and one audit entry is written.
func (s *Service) MergeLeadRecords(ctx context.Context, req MergeRequest) (MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merge.Service.MergeLeadRecords",
		attribute.String("primary_lead_id", req.PrimaryLeadID.String()),
		attribute.String("merged_lead_id", req.MergedLeadID.String()),
	)
	defer span.End()

	if req.PrimaryLeadID == req.MergedLeadID {
		return MergeResult{}, domain.Validationf("a lead cannot be merged into itself")
	}
	if err := ValidateChoices(req.ChosenFields); err != nil {
		return MergeResult{}, err
	}

	var result MergeResult
	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		primary, err := tx.Leads().GetByID(ctx, req.WorkspaceID, req.PrimaryLeadID)
		if err != nil {
			return err
		}
		merged, err := tx.Leads().GetByID(ctx, req.WorkspaceID, req.MergedLeadID)
		if err != nil {
			return err
		}
		for _, lead := range []domain.Lead{primary, merged} {
			if lead.IsMerged() {
				return domain.StateConflictf("lead %s is already merged", lead.ID)
			}
		}
		if req.ImportRunID != nil {
			if _, err := tx.ImportRuns().GetByID(ctx, req.WorkspaceID, *req.ImportRunID); err != nil {
				return err
			}
		}

		resolved := ResolveFields(primary, merged.KnownFields(), req.ChosenFields)
		resolved.CustomData = unionCustomData(primary.CustomData, merged.CustomData)
		if result.Primary, err = tx.Leads().Update(ctx, resolved); err != nil {
			return fmt.Errorf("failed to update primary lead: %w", err)
		}

		if result.MovedTasks, err = tx.Tasks().ReassignLead(ctx, merged.ID, primary.ID); err != nil {
			return fmt.Errorf("failed to move tasks: %w", err)
		}
		if result.MovedTouchpoints, err = tx.Touchpoints().ReassignLead(ctx, merged.ID, primary.ID); err != nil {
			return fmt.Errorf("failed to move touchpoints: %w", err)
		}
		if result.MovedImportRows, err = tx.ImportRows().ReassignLead(ctx, merged.ID, primary.ID); err != nil {
			return fmt.Errorf("failed to move import rows: %w", err)
		}

		absorbed := merged
		absorbed.Status = domain.LeadStatusMerged
		absorbed.MergedIntoLeadID = &primary.ID
		if result.Merged, err = tx.Leads().Update(ctx, absorbed); err != nil {
			return fmt.Errorf("failed to mark lead merged: %w", err)
		}

		entry, err := domain.NewMergeLog(req.WorkspaceID, primary.ID, merged.ID, req.ChosenFields, domain.MergeSnapshot{
			Before: domain.MergeSides{Primary: primary, Merged: &merged},
			After:  domain.MergeSides{Primary: result.Primary, Merged: &result.Merged},
		}, req.Reason, req.ImportRunID, req.UserID)
		if err != nil {
			return err
		}
		if result.MergeLog, err = tx.MergeLogs().Create(ctx, entry); err != nil {
			return fmt.Errorf("failed to write merge log: %w", err)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return MergeResult{}, err
	}

	metrics.LeadMerges.Inc()
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldWorkspaceID: req.WorkspaceID.String(),
		logger.FieldLeadID:      req.PrimaryLeadID.String(),
		"merged_lead_id":        req.MergedLeadID.String(),
		"moved_tasks":           result.MovedTasks,
		"moved_touchpoints":     result.MovedTouchpoints,
		"moved_import_rows":     result.MovedImportRows,
	}).Info("Merged leads")

	s.publish(ctx, events.Event{
		Type:        events.TypeLeadMerged,
		WorkspaceID: req.WorkspaceID,
		SubjectID:   req.PrimaryLeadID,
		Data: map[string]any{
			"merged_lead_id": req.MergedLeadID.String(),
			"merge_log_id":   result.MergeLog.ID.String(),
		},
	})
	return result, nil
}

// ListMergeLogs returns the audit trail of a lead, newest first.
func (s *Service) ListMergeLogs(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.MergeLog, error) {
	if _, err := s.store.Leads().GetByID(ctx, workspaceID, leadID); err != nil {
		return nil, err
	}
	return s.store.MergeLogs().ListByLead(ctx, workspaceID, leadID)
}

// MergeLogView is a merge log with the primary lead's change rendered as a unified diff.
type MergeLogView struct {
	domain.MergeLog
	Diff string `json:"diff"`
}

// MergeLogViews renders the diff of every entry.
func MergeLogViews(entries []domain.MergeLog) ([]MergeLogView, error) {
	views := make([]MergeLogView, 0, len(entries))
	for _, entry := range entries {
		diff, err := entry.Diff()
		if err != nil {
			return nil, err
		}
		views = append(views, MergeLogView{MergeLog: entry, Diff: diff})
	}
	return views, nil
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	event.Timestamp = s.now()
	if err := s.publisher.Publish(ctx, event); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}
