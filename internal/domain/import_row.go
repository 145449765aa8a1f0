package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportRowStatus captures the classification state of a single source line.
type ImportRowStatus string

const (
	ImportRowStatusPending       ImportRowStatus = "PENDING"
	ImportRowStatusCreated       ImportRowStatus = "CREATED"
	ImportRowStatusHardDuplicate ImportRowStatus = "HARD_DUPLICATE"
	ImportRowStatusSoftDuplicate ImportRowStatus = "SOFT_DUPLICATE"
	ImportRowStatusError         ImportRowStatus = "ERROR"
	ImportRowStatusSkipped       ImportRowStatus = "SKIPPED"
	ImportRowStatusMerged        ImportRowStatus = "MERGED"
)

// Only remapping moves a row back to PENDING; that path goes through ImportRow.Reset.
var importRowTransitions = map[ImportRowStatus][]ImportRowStatus{
	ImportRowStatusPending: {
		ImportRowStatusCreated,
		ImportRowStatusHardDuplicate,
		ImportRowStatusSoftDuplicate,
		ImportRowStatusError,
	},
	ImportRowStatusSoftDuplicate: {
		ImportRowStatusSkipped,
		ImportRowStatusMerged,
		ImportRowStatusCreated,
	},
	ImportRowStatusCreated:       {},
	ImportRowStatusHardDuplicate: {},
	ImportRowStatusError:         {},
	ImportRowStatusSkipped:       {},
	ImportRowStatusMerged:        {},
}

// ImportRowStatuses lists every row status.
func ImportRowStatuses() []ImportRowStatus {
	return []ImportRowStatus{
		ImportRowStatusPending,
		ImportRowStatusCreated,
		ImportRowStatusHardDuplicate,
		ImportRowStatusSoftDuplicate,
		ImportRowStatusError,
		ImportRowStatusSkipped,
		ImportRowStatusMerged,
	}
}

// Valid reports whether s is a declared status.
func (s ImportRowStatus) Valid() bool {
	_, ok := importRowTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ImportRowStatus) CanTransitionTo(next ImportRowStatus) bool {
	for _, allowed := range importRowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ResolutionAction is the human decision taken for a soft duplicate.
type ResolutionAction string

const (
	ResolutionSkip         ResolutionAction = "SKIP"
	ResolutionCreate       ResolutionAction = "CREATE"
	ResolutionLinkExisting ResolutionAction = "LINK_EXISTING"
	ResolutionMerge        ResolutionAction = "MERGE"
)

// Valid reports whether a is a declared action.
func (a ResolutionAction) Valid() bool {
	switch a {
	case ResolutionSkip, ResolutionCreate, ResolutionLinkExisting, ResolutionMerge:
		return true
	}
	return false
}

// ImportRow is one source line of an import run.
type ImportRow struct {
	ID               uuid.UUID         `json:"id"`
	ImportRunID      uuid.UUID         `json:"import_run_id"`
	RowNumber        int               `json:"row_number"`
	Raw              map[string]string `json:"raw"`
	Mapped           MappedRow         `json:"mapped"`
	Normalized       NormalizedKeys    `json:"normalized"`
	Status           ImportRowStatus   `json:"status"`
	Reason           *string           `json:"reason,omitempty"`
	MatchedLeadID    *uuid.UUID        `json:"matched_lead_id,omitempty"`
	SoftMatchScore   *float64          `json:"soft_match_score,omitempty"`
	ChosenAction     *ResolutionAction `json:"chosen_action,omitempty"`
	CreatedLeadID    *uuid.UUID        `json:"created_lead_id,omitempty"`
	MergedIntoLeadID *uuid.UUID        `json:"merged_into_lead_id,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewImportRow creates a PENDING row.
func NewImportRow(importRunID uuid.UUID, rowNumber int, raw map[string]string, mapped MappedRow, keys NormalizedKeys) ImportRow {
	now := time.Now().UTC()
	return ImportRow{
		ID:          uuid.New(),
		ImportRunID: importRunID,
		RowNumber:   rowNumber,
		Raw:         copyStrings(raw),
		Mapped:      mapped,
		Normalized:  keys,
		Status:      ImportRowStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Reset returns the row to PENDING with freshly mapped values and every outcome cleared.
func (r ImportRow) Reset(mapped MappedRow, keys NormalizedKeys) ImportRow {
	out := r
	out.Mapped = mapped
	out.Normalized = keys
	out.Status = ImportRowStatusPending
	out.Reason = nil
	out.MatchedLeadID = nil
	out.SoftMatchScore = nil
	out.ChosenAction = nil
	out.CreatedLeadID = nil
	out.MergedIntoLeadID = nil
	out.UpdatedAt = time.Now().UTC()
	return out
}

// RowOutcome describes a forward transition applied to a row.
type RowOutcome struct {
	Status           ImportRowStatus
	Reason           string
	MatchedLeadID    *uuid.UUID
	SoftMatchScore   *float64
	ChosenAction     *ResolutionAction
	CreatedLeadID    *uuid.UUID
	MergedIntoLeadID *uuid.UUID
}

// Apply returns the row moved to the outcome. It fails with ErrStateConflict for backward moves.
func (r ImportRow) Apply(outcome RowOutcome) (ImportRow, error) {
	if !r.Status.CanTransitionTo(outcome.Status) {
		return r, StateConflictf("import row %s cannot move from %s to %s", r.ID, r.Status, outcome.Status)
	}
	out := r
	out.Status = outcome.Status
	if outcome.Reason != "" {
		reason := outcome.Reason
		out.Reason = &reason
	}
	if outcome.MatchedLeadID != nil {
		out.MatchedLeadID = outcome.MatchedLeadID
	}
	if outcome.SoftMatchScore != nil {
		out.SoftMatchScore = outcome.SoftMatchScore
	}
	if outcome.ChosenAction != nil {
		out.ChosenAction = outcome.ChosenAction
	}
	if outcome.CreatedLeadID != nil {
		out.CreatedLeadID = outcome.CreatedLeadID
	}
	if outcome.MergedIntoLeadID != nil {
		out.MergedIntoLeadID = outcome.MergedIntoLeadID
	}
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}
