package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type importRunRepository struct {
	db dbtx
}

const importRunColumns = `id, workspace_id, uploaded_by, file_name, idempotency_key, status, headers, column_mapping,
	total_rows, processed_rows, created_count, hard_duplicate_count, soft_duplicate_count, error_count,
	started_at, finished_at, created_at, updated_at`

func scanImportRun(row pgx.Row) (domain.ImportRun, error) {
	var (
		run            domain.ImportRun
		idempotencyKey pgtype.Text
		status         string
		startedAt      pgtype.Timestamptz
		finishedAt     pgtype.Timestamptz
	)
	if err := row.Scan(
		&run.ID,
		&run.WorkspaceID,
		&run.UploadedBy,
		&run.FileName,
		&idempotencyKey,
		&status,
		&run.Headers,
		&run.ColumnMapping,
		&run.TotalRows,
		&run.ProcessedRows,
		&run.CreatedCount,
		&run.HardDuplicateCount,
		&run.SoftDuplicateCount,
		&run.ErrorCount,
		&startedAt,
		&finishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	); err != nil {
		return domain.ImportRun{}, err
	}
	run.IdempotencyKey = stringPtr(idempotencyKey)
	run.Status = domain.ImportRunStatus(status)
	run.StartedAt = timePtr(startedAt)
	run.FinishedAt = timePtr(finishedAt)
	if run.ColumnMapping == nil {
		run.ColumnMapping = domain.ColumnMapping{}
	}
	return run, nil
}

func (r *importRunRepository) Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error) {
	var key pgtype.Text
	if run.IdempotencyKey != nil {
		key = nullText(*run.IdempotencyKey)
	}
	headers := run.Headers
	if headers == nil {
		headers = []string{}
	}
	mapping := run.ColumnMapping
	if mapping == nil {
		mapping = domain.ColumnMapping{}
	}

	created, err := scanImportRun(r.db.QueryRow(ctx,
		`INSERT INTO import_runs (id, workspace_id, uploaded_by, file_name, idempotency_key, status, headers,
			column_mapping, total_rows, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		 RETURNING `+importRunColumns,
		run.ID,
		run.WorkspaceID,
		run.UploadedBy,
		run.FileName,
		key,
		string(run.Status),
		headers,
		mapping,
		run.TotalRows,
		run.CreatedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ImportRun{}, fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, key.String)
		}
		return domain.ImportRun{}, fmt.Errorf("failed to create import run: %w", err)
	}
	return created, nil
}

func (r *importRunRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.ImportRun, error) {
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`SELECT `+importRunColumns+` FROM import_runs WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID,
	))
	if err != nil {
		return domain.ImportRun{}, notFoundOr(err, "import run %s", id)
	}
	return run, nil
}

func (r *importRunRepository) GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (domain.ImportRun, error) {
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`SELECT `+importRunColumns+` FROM import_runs WHERE workspace_id = $1 AND idempotency_key = $2`,
		workspaceID, key,
	))
	if err != nil {
		return domain.ImportRun{}, notFoundOr(err, "import run with idempotency key %q", key)
	}
	return run, nil
}

func (r *importRunRepository) List(ctx context.Context, workspaceID uuid.UUID, limit int, offset int) ([]domain.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+importRunColumns+` FROM import_runs
		 WHERE workspace_id = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		workspaceID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.ImportRun, 0)
	for rows.Next() {
		run, err := scanImportRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import runs: %w", err)
	}
	return runs, nil
}

func (r *importRunRepository) UpdateMapping(ctx context.Context, id uuid.UUID, mapping domain.ColumnMapping) (domain.ImportRun, error) {
	if mapping == nil {
		mapping = domain.ColumnMapping{}
	}
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`UPDATE import_runs
		 SET column_mapping = $2,
		     status = CASE WHEN status = $5 THEN status ELSE $3 END,
		     processed_rows = 0,
		     created_count = 0,
		     hard_duplicate_count = 0,
		     soft_duplicate_count = 0,
		     error_count = 0,
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)
		 RETURNING `+importRunColumns,
		id,
		mapping,
		string(domain.ImportRunStatusPreviewReady),
		statusStrings([]domain.ImportRunStatus{
			domain.ImportRunStatusMapping,
			domain.ImportRunStatusPreviewReady,
			domain.ImportRunStatusRunning,
		}),
		string(domain.ImportRunStatusRunning),
	))
	if err != nil {
		return domain.ImportRun{}, r.conditionalUpdateError(ctx, err, id, "remapped")
	}
	return run, nil
}

func (r *importRunRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (domain.ImportRun, error) {
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`UPDATE import_runs
		 SET status = $2,
		     started_at = COALESCE(started_at, $3),
		     updated_at = NOW()
		 WHERE id = $1 AND status = ANY($4)
		 RETURNING `+importRunColumns,
		id,
		string(domain.ImportRunStatusRunning),
		startedAt,
		statusStrings([]domain.ImportRunStatus{
			domain.ImportRunStatusMapping,
			domain.ImportRunStatusPreviewReady,
			domain.ImportRunStatusRunning,
		}),
	))
	if err != nil {
		return domain.ImportRun{}, r.conditionalUpdateError(ctx, err, id, "started")
	}
	return run, nil
}

func (r *importRunRepository) AddCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) (domain.ImportRun, error) {
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`UPDATE import_runs
		 SET processed_rows = processed_rows + $2,
		     created_count = created_count + $3,
		     hard_duplicate_count = hard_duplicate_count + $4,
		     soft_duplicate_count = soft_duplicate_count + $5,
		     error_count = error_count + $6,
		     updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+importRunColumns,
		id,
		delta.ProcessedRows,
		delta.CreatedCount,
		delta.HardDuplicateCount,
		delta.SoftDuplicateCount,
		delta.ErrorCount,
	))
	if err != nil {
		return domain.ImportRun{}, notFoundOr(err, "import run %s", id)
	}
	return run, nil
}

func (r *importRunRepository) MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time) (domain.ImportRun, error) {
	run, err := scanImportRun(r.db.QueryRow(ctx,
		`UPDATE import_runs
		 SET status = $2, finished_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING `+importRunColumns,
		id,
		string(domain.ImportRunStatusCompleted),
		finishedAt,
		string(domain.ImportRunStatusRunning),
	))
	if err != nil {
		return domain.ImportRun{}, r.conditionalUpdateError(ctx, err, id, "completed")
	}
	return run, nil
}

// conditionalUpdateError tells a missing run apart from one in the wrong status.
func (r *importRunRepository) conditionalUpdateError(ctx context.Context, err error, id uuid.UUID, action string) error {
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to update import run: %w", err)
	}
	var status string
	lookupErr := r.db.QueryRow(ctx, `SELECT status FROM import_runs WHERE id = $1`, id).Scan(&status)
	if errors.Is(lookupErr, pgx.ErrNoRows) {
		return domain.NotFoundf("import run %s", id)
	}
	if lookupErr != nil {
		return fmt.Errorf("failed to load import run status: %w", lookupErr)
	}
	return domain.StateConflictf("import run %s in status %s cannot be %s", id, status, action)
}
