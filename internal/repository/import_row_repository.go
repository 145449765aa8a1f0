package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type importRowRepository struct {
	db dbtx
}

var importRowColumnList = []string{
	"id", "import_run_id", "row_number", "raw", "mapped", "normalized", "status", "reason",
	"matched_lead_id", "soft_match_score", "chosen_action", "created_lead_id", "merged_into_lead_id",
	"created_at", "updated_at",
}

const importRowColumns = `id, import_run_id, row_number, raw, mapped, normalized, status, reason,
	matched_lead_id, soft_match_score, chosen_action, created_lead_id, merged_into_lead_id,
	created_at, updated_at`

func scanImportRow(row pgx.Row) (domain.ImportRow, error) {
	var (
		out            domain.ImportRow
		status         string
		reason         pgtype.Text
		matchedLeadID  pgtype.UUID
		softMatchScore pgtype.Float8
		chosenAction   pgtype.Text
		createdLeadID  pgtype.UUID
		mergedIntoID   pgtype.UUID
	)
	if err := row.Scan(
		&out.ID,
		&out.ImportRunID,
		&out.RowNumber,
		&out.Raw,
		&out.Mapped,
		&out.Normalized,
		&status,
		&reason,
		&matchedLeadID,
		&softMatchScore,
		&chosenAction,
		&createdLeadID,
		&mergedIntoID,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return domain.ImportRow{}, err
	}
	out.Status = domain.ImportRowStatus(status)
	out.Reason = stringPtr(reason)
	out.MatchedLeadID = uuidPtr(matchedLeadID)
	if softMatchScore.Valid {
		score := softMatchScore.Float64
		out.SoftMatchScore = &score
	}
	if chosenAction.Valid {
		action := domain.ResolutionAction(chosenAction.String)
		out.ChosenAction = &action
	}
	out.CreatedLeadID = uuidPtr(createdLeadID)
	out.MergedIntoLeadID = uuidPtr(mergedIntoID)
	return out, nil
}

func collectImportRows(rows pgx.Rows) ([]domain.ImportRow, error) {
	defer rows.Close()

	out := make([]domain.ImportRow, 0)
	for rows.Next() {
		row, err := scanImportRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate import rows: %w", err)
	}
	return out, nil
}

func outcomeArgs(row domain.ImportRow) (pgtype.Text, pgtype.Float8, pgtype.Text) {
	var reason pgtype.Text
	if row.Reason != nil {
		reason = pgtype.Text{String: *row.Reason, Valid: true}
	}
	var score pgtype.Float8
	if row.SoftMatchScore != nil {
		score = pgtype.Float8{Float64: *row.SoftMatchScore, Valid: true}
	}
	var action pgtype.Text
	if row.ChosenAction != nil {
		action = pgtype.Text{String: string(*row.ChosenAction), Valid: true}
	}
	return reason, score, action
}

// CreateBatch streams rows with COPY.
func (r *importRowRepository) CreateBatch(ctx context.Context, rows []domain.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	copied, err := r.db.CopyFrom(
		ctx,
		pgx.Identifier{"import_rows"},
		importRowColumnList,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			row := rows[i]
			raw := row.Raw
			if raw == nil {
				raw = map[string]string{}
			}
			reason, score, action := outcomeArgs(row)
			return []any{
				row.ID,
				row.ImportRunID,
				int32(row.RowNumber),
				raw,
				row.Mapped,
				row.Normalized,
				string(row.Status),
				reason,
				nullUUID(row.MatchedLeadID),
				score,
				action,
				nullUUID(row.CreatedLeadID),
				nullUUID(row.MergedIntoLeadID),
				row.CreatedAt,
				row.UpdatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy import rows: %w", err)
	}
	if copied != int64(len(rows)) {
		return fmt.Errorf("copied %d of %d import rows", copied, len(rows))
	}
	return nil
}

func (r *importRowRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRow, error) {
	row, err := scanImportRow(r.db.QueryRow(ctx,
		`SELECT `+importRowColumns+` FROM import_rows WHERE id = $1`, id,
	))
	if err != nil {
		return domain.ImportRow{}, notFoundOr(err, "import row %s", id)
	}
	return row, nil
}

// ListByRun returns rows ordered by row number together with the unpaged match count.
func (r *importRowRepository) ListByRun(ctx context.Context, runID uuid.UUID, filter RowFilter) ([]domain.ImportRow, int, error) {
	baseWhere := func(sb *sqlbuilder.SelectBuilder) []string {
		where := []string{sb.Equal("import_run_id", runID)}
		if len(filter.Statuses) > 0 {
			where = append(where, sb.In("status", sqlbuilder.Flatten(statusStrings(filter.Statuses))...))
		}
		return where
	}

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From("import_rows")
	countSb.Where(baseWhere(countSb)...)

	countQuery, countArgs := countSb.Build()
	var total int
	if err := r.db.QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count import rows: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(importRowColumnList...)
	sb.From("import_rows")
	sb.Where(baseWhere(sb)...)
	sb.OrderBy("row_number").Asc()
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}

	query, args := sb.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list import rows: %w", err)
	}
	out, err := collectImportRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *importRowRepository) CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.ImportRowStatus]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT status, COUNT(*) FROM import_rows WHERE import_run_id = $1 GROUP BY status`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count import rows by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ImportRowStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.ImportRowStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status counts: %w", err)
	}
	return counts, nil
}

func (r *importRowRepository) ClaimPending(ctx context.Context, runID uuid.UUID, afterRow int, limit int) ([]domain.ImportRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+importRowColumns+` FROM import_rows
		 WHERE import_run_id = $1 AND status = $2 AND row_number > $3
		 ORDER BY row_number
		 LIMIT $4
		 FOR UPDATE SKIP LOCKED`,
		runID,
		string(domain.ImportRowStatusPending),
		afterRow,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending import rows: %w", err)
	}
	return collectImportRows(rows)
}

func (r *importRowRepository) ResetAll(ctx context.Context, rows []domain.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(
			`UPDATE import_rows
			 SET mapped = $2, normalized = $3, status = $4,
			     reason = NULL, matched_lead_id = NULL, soft_match_score = NULL, chosen_action = NULL,
			     created_lead_id = NULL, merged_into_lead_id = NULL, updated_at = NOW()
			 WHERE id = $1`,
			row.ID,
			row.Mapped,
			row.Normalized,
			string(domain.ImportRowStatusPending),
		)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to reset import row: %w", err)
		}
	}
	return nil
}

func (r *importRowRepository) SaveOutcome(ctx context.Context, row domain.ImportRow, expected domain.ImportRowStatus) error {
	reason, score, action := outcomeArgs(row)
	tag, err := r.db.Exec(ctx,
		`UPDATE import_rows
		 SET status = $3, reason = $4, matched_lead_id = $5, soft_match_score = $6, chosen_action = $7,
		     created_lead_id = $8, merged_into_lead_id = $9, updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		row.ID,
		string(expected),
		string(row.Status),
		reason,
		nullUUID(row.MatchedLeadID),
		score,
		action,
		nullUUID(row.CreatedLeadID),
		nullUUID(row.MergedIntoLeadID),
	)
	if err != nil {
		return fmt.Errorf("failed to save import row outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.StateConflictf("import row %s is no longer %s", row.ID, expected)
	}
	return nil
}

func (r *importRowRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE import_rows
		 SET matched_lead_id = CASE WHEN matched_lead_id = $1 THEN $2 ELSE matched_lead_id END,
		     created_lead_id = CASE WHEN created_lead_id = $1 THEN $2 ELSE created_lead_id END,
		     merged_into_lead_id = CASE WHEN merged_into_lead_id = $1 THEN $2 ELSE merged_into_lead_id END,
		     updated_at = NOW()
		 WHERE matched_lead_id = $1 OR created_lead_id = $1 OR merged_into_lead_id = $1`,
		fromLeadID, toLeadID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign import row lead references: %w", err)
	}
	return tag.RowsAffected(), nil
}
