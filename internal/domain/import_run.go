package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportRunStatus captures the forward-only lifecycle of an import run.
type ImportRunStatus string

const (
	ImportRunStatusMapping      ImportRunStatus = "MAPPING"
	ImportRunStatusPreviewReady ImportRunStatus = "PREVIEW_READY"
	ImportRunStatusRunning      ImportRunStatus = "RUNNING"
	ImportRunStatusCompleted    ImportRunStatus = "COMPLETED"
)

var importRunTransitions = map[ImportRunStatus][]ImportRunStatus{
	ImportRunStatusMapping:      {ImportRunStatusPreviewReady, ImportRunStatusRunning},
	ImportRunStatusPreviewReady: {ImportRunStatusPreviewReady, ImportRunStatusRunning},
	ImportRunStatusRunning:      {ImportRunStatusRunning, ImportRunStatusCompleted},
	ImportRunStatusCompleted:    {},
}

// Valid reports whether s is a declared status.
func (s ImportRunStatus) Valid() bool {
	_, ok := importRunTransitions[s]
	return ok
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ImportRunStatus) CanTransitionTo(next ImportRunStatus) bool {
	for _, allowed := range importRunTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Remappable reports whether the column mapping may still change. Only COMPLETED is final.
func (s ImportRunStatus) Remappable() bool {
	return s.Valid() && s != ImportRunStatusCompleted
}

// AfterRemap is the status a run takes once its mapping changes. A RUNNING run keeps its position.
func (s ImportRunStatus) AfterRemap() ImportRunStatus {
	if s == ImportRunStatusRunning {
		return s
	}
	return ImportRunStatusPreviewReady
}

// Executable reports whether execution may start or resume from s.
func (s ImportRunStatus) Executable() bool {
	return s.CanTransitionTo(ImportRunStatusRunning)
}

// RunCounters are the running aggregates of an import run.
type RunCounters struct {
	ProcessedRows      int `json:"processed_rows"`
	CreatedCount       int `json:"created_count"`
	HardDuplicateCount int `json:"hard_duplicate_count"`
	SoftDuplicateCount int `json:"soft_duplicate_count"`
	ErrorCount         int `json:"error_count"`
}

// Add sums two counter records.
func (c RunCounters) Add(delta RunCounters) RunCounters {
	return RunCounters{
		ProcessedRows:      c.ProcessedRows + delta.ProcessedRows,
		CreatedCount:       c.CreatedCount + delta.CreatedCount,
		HardDuplicateCount: c.HardDuplicateCount + delta.HardDuplicateCount,
		SoftDuplicateCount: c.SoftDuplicateCount + delta.SoftDuplicateCount,
		ErrorCount:         c.ErrorCount + delta.ErrorCount,
	}
}

// Record returns the delta for one row classified with status.
func (c RunCounters) Record(status ImportRowStatus) RunCounters {
	delta := RunCounters{ProcessedRows: 1}
	switch status {
	case ImportRowStatusCreated:
		delta.CreatedCount = 1
	case ImportRowStatusHardDuplicate:
		delta.HardDuplicateCount = 1
	case ImportRowStatusSoftDuplicate:
		delta.SoftDuplicateCount = 1
	case ImportRowStatusError:
		delta.ErrorCount = 1
	default:
		return c
	}
	return c.Add(delta)
}

// ImportRun is one file-upload session.
type ImportRun struct {
	ID             uuid.UUID       `json:"id"`
	WorkspaceID    uuid.UUID       `json:"workspace_id"`
	UploadedBy     uuid.UUID       `json:"uploaded_by"`
	FileName       string          `json:"file_name"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	Status         ImportRunStatus `json:"status"`
	Headers        []string        `json:"headers"`
	ColumnMapping  ColumnMapping   `json:"column_mapping"`
	TotalRows      int             `json:"total_rows"`
	RunCounters
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// NewImportRun creates a run in MAPPING state.
func NewImportRun(workspaceID, uploadedBy uuid.UUID, fileName string, idempotencyKey *string, headers []string, mapping ColumnMapping, totalRows int) ImportRun {
	now := time.Now().UTC()
	var key *string
	if idempotencyKey != nil && *idempotencyKey != "" {
		k := *idempotencyKey
		key = &k
	}
	return ImportRun{
		ID:             uuid.New(),
		WorkspaceID:    workspaceID,
		UploadedBy:     uploadedBy,
		FileName:       fileName,
		IdempotencyKey: key,
		Status:         ImportRunStatusMapping,
		Headers:        append([]string(nil), headers...),
		ColumnMapping:  mapping.Clone(),
		TotalRows:      totalRows,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Summary returns the externally visible progress of the run.
func (r ImportRun) Summary() RunSummary {
	return RunSummary{
		ImportRunID: r.ID,
		Status:      r.Status,
		TotalRows:   r.TotalRows,
		RunCounters: r.RunCounters,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

// RunSummary reports run progress to pollers.
type RunSummary struct {
	ImportRunID uuid.UUID       `json:"import_run_id"`
	Status      ImportRunStatus `json:"status"`
	TotalRows   int             `json:"total_rows"`
	RunCounters
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
