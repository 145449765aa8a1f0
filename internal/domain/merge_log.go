package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FieldChoice picks which side of a merge wins for one field.
type FieldChoice string

const (
	ChoiceExisting FieldChoice = "existing"
	ChoiceIncoming FieldChoice = "incoming"
)

// ChosenFields is the per-field merge decision map.
type ChosenFields map[LeadField]FieldChoice

// Prefers reports whether the caller explicitly chose the incoming value for field.
func (c ChosenFields) Prefers(field LeadField) bool {
	return c[field] == ChoiceIncoming
}

// MergeLog is the immutable audit record of a merge decision.
type MergeLog struct {
	ID              uuid.UUID       `json:"id"`
	WorkspaceID     uuid.UUID       `json:"workspace_id"`
	PrimaryLeadID   uuid.UUID       `json:"primary_lead_id"`
	MergedLeadID    uuid.UUID       `json:"merged_lead_id"`
	ChosenFields    ChosenFields    `json:"chosen_fields"`
	BeforeAfterJSON json.RawMessage `json:"before_after_json"`
	Reason          string          `json:"reason,omitempty"`
	ImportRunID     *uuid.UUID      `json:"import_run_id,omitempty"`
	MergedBy        uuid.UUID       `json:"merged_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// MergeSnapshot is the before/after state stored with a merge log.
type MergeSnapshot struct {
	Before   MergeSides `json:"before"`
	After    MergeSides `json:"after"`
	Incoming *MappedRow `json:"incoming,omitempty"`
	RowID    *uuid.UUID `json:"import_row_id,omitempty"`
}

// MergeSides holds the primary lead and, for two-lead merges, the absorbed lead.
type MergeSides struct {
	Primary Lead  `json:"primary"`
	Merged  *Lead `json:"merged,omitempty"`
}

// NewMergeLog builds an audit entry with its snapshot serialized.
func NewMergeLog(workspaceID, primaryID, mergedID uuid.UUID, chosen ChosenFields, snapshot MergeSnapshot, reason string, importRunID *uuid.UUID, mergedBy uuid.UUID) (MergeLog, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return MergeLog{}, err
	}
	if chosen == nil {
		chosen = ChosenFields{}
	}
	return MergeLog{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		PrimaryLeadID:   primaryID,
		MergedLeadID:    mergedID,
		ChosenFields:    chosen,
		BeforeAfterJSON: payload,
		Reason:          reason,
		ImportRunID:     importRunID,
		MergedBy:        mergedBy,
		CreatedAt:       time.Now().UTC(),
	}, nil
}
