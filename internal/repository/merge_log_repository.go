package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// mergeLogRepository only inserts and reads; the table rejects updates and deletes.
type mergeLogRepository struct {
	db dbtx
}

const mergeLogColumns = `id, workspace_id, primary_lead_id, merged_lead_id, chosen_fields, before_after_json,
	reason, import_run_id, merged_by, created_at`

func scanMergeLog(row pgx.Row) (domain.MergeLog, error) {
	var (
		entry       domain.MergeLog
		reason      pgtype.Text
		importRunID pgtype.UUID
		snapshot    []byte
	)
	if err := row.Scan(
		&entry.ID,
		&entry.WorkspaceID,
		&entry.PrimaryLeadID,
		&entry.MergedLeadID,
		&entry.ChosenFields,
		&snapshot,
		&reason,
		&importRunID,
		&entry.MergedBy,
		&entry.CreatedAt,
	); err != nil {
		return domain.MergeLog{}, err
	}
	entry.BeforeAfterJSON = snapshot
	entry.Reason = reason.String
	entry.ImportRunID = uuidPtr(importRunID)
	if entry.ChosenFields == nil {
		entry.ChosenFields = domain.ChosenFields{}
	}
	return entry, nil
}

func (r *mergeLogRepository) Create(ctx context.Context, entry domain.MergeLog) (domain.MergeLog, error) {
	chosen := entry.ChosenFields
	if chosen == nil {
		chosen = domain.ChosenFields{}
	}

	created, err := scanMergeLog(r.db.QueryRow(ctx,
		`INSERT INTO merge_logs (id, workspace_id, primary_lead_id, merged_lead_id, chosen_fields,
			before_after_json, reason, import_run_id, merged_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+mergeLogColumns,
		entry.ID,
		entry.WorkspaceID,
		entry.PrimaryLeadID,
		entry.MergedLeadID,
		chosen,
		string(entry.BeforeAfterJSON),
		nullText(entry.Reason),
		nullUUID(entry.ImportRunID),
		entry.MergedBy,
		entry.CreatedAt,
	))
	if err != nil {
		return domain.MergeLog{}, fmt.Errorf("failed to create merge log: %w", err)
	}
	return created, nil
}

func (r *mergeLogRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.MergeLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+mergeLogColumns+` FROM merge_logs
		 WHERE workspace_id = $1 AND (primary_lead_id = $2 OR merged_lead_id = $2)
		 ORDER BY created_at DESC, id`,
		workspaceID, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge logs: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.MergeLog, 0)
	for rows.Next() {
		entry, err := scanMergeLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merge log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate merge logs: %w", err)
	}
	return entries, nil
}
