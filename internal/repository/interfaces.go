package repository

import (
	"context"
	"time"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
)

// Store is a transactional unit of work over every repository.
type Store interface {
	ImportRuns() ImportRunRepository
	ImportRows() ImportRowRepository
	Leads() LeadRepository
	MergeLogs() MergeLogRepository
	Tasks() TaskRepository
	Touchpoints() TouchpointRepository

	// WithTx runs fn against a transactional view of the store. A nested call opens a savepoint,
	// so an error returned from the inner fn rolls back only the inner work.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}

// ImportRunRepository defines the interface for import run operations
type ImportRunRepository interface {
	// Create fails with domain.ErrDuplicateIdempotencyKey when the workspace already holds the key.
	Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error)
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.ImportRun, error)
	GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (domain.ImportRun, error)
	List(ctx context.Context, workspaceID uuid.UUID, limit int, offset int) ([]domain.ImportRun, error)

	// UpdateMapping stores a new mapping and zeroes the run counters. MAPPING and PREVIEW_READY
	// runs move to PREVIEW_READY, RUNNING runs stay RUNNING. COMPLETED runs yield domain.ErrStateConflict.
	UpdateMapping(ctx context.Context, id uuid.UUID, mapping domain.ColumnMapping) (domain.ImportRun, error)
	// MarkRunning moves an executable run to RUNNING, keeping the first start time on resume.
	MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (domain.ImportRun, error)
	// AddCounters atomically adds a chunk delta to the run aggregates.
	AddCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) (domain.ImportRun, error)
	// MarkCompleted moves a RUNNING run to COMPLETED.
	MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time) (domain.ImportRun, error)
}

// RowFilter narrows row listings.
type RowFilter struct {
	Statuses []domain.ImportRowStatus
	// Limit of zero returns every matching row.
	Limit  int
	Offset int
}

// ImportRowRepository defines the interface for import row operations
type ImportRowRepository interface {
	CreateBatch(ctx context.Context, rows []domain.ImportRow) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRow, error)
	ListByRun(ctx context.Context, runID uuid.UUID, filter RowFilter) ([]domain.ImportRow, int, error)
	CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.ImportRowStatus]int, error)

	// ClaimPending locks up to limit PENDING rows numbered after afterRow, skipping rows another
	// transaction already holds.
	ClaimPending(ctx context.Context, runID uuid.UUID, afterRow int, limit int) ([]domain.ImportRow, error)
	// ResetAll replaces mapped and normalized values of every row and returns them to PENDING.
	ResetAll(ctx context.Context, rows []domain.ImportRow) error
	// SaveOutcome persists a transitioned row only while it is still in expected status.
	SaveOutcome(ctx context.Context, row domain.ImportRow, expected domain.ImportRowStatus) error
	// ReassignLead re-points matched, created and merged-into references.
	ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error)
}

// LeadLookup carries the normalized key sets of one chunk. A lead matches when any of its
// email, phone or domain keys is listed, or when its city is listed and, if Names is set,
// its name is listed too.
type LeadLookup struct {
	Emails  []string
	Phones  []string
	Domains []string
	Names   []string
	Cities  []string
}

// Empty reports whether no lookup can match anything.
func (l LeadLookup) Empty() bool {
	return len(l.Emails) == 0 && len(l.Phones) == 0 && len(l.Domains) == 0 && len(l.Cities) == 0
}

// LeadRepository defines the interface for lead operations
type LeadRepository interface {
	Create(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.Lead, error)
	GetByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]domain.Lead, error)
	Update(ctx context.Context, lead domain.Lead) (domain.Lead, error)
	// FindLookupPool returns non-merged, non-archived workspace leads matching any key of lookup.
	FindLookupPool(ctx context.Context, workspaceID uuid.UUID, lookup LeadLookup) ([]domain.Lead, error)
}

// MergeLogRepository stores immutable merge audit entries.
type MergeLogRepository interface {
	Create(ctx context.Context, entry domain.MergeLog) (domain.MergeLog, error)
	// ListByLead returns entries where the lead is the primary or the merged side, newest first.
	ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.MergeLog, error)
}

// TaskRepository defines the interface for lead task operations
type TaskRepository interface {
	Create(ctx context.Context, task domain.Task) (domain.Task, error)
	ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Task, error)
	ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error)
}

// TouchpointRepository defines the interface for lead touchpoint operations
type TouchpointRepository interface {
	Create(ctx context.Context, touchpoint domain.Touchpoint) (domain.Touchpoint, error)
	ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Touchpoint, error)
	ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error)
}
