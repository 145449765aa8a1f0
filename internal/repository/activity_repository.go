package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type taskRepository struct {
	db dbtx
}

func (r *taskRepository) Create(ctx context.Context, task domain.Task) (domain.Task, error) {
	var dueAt pgtype.Timestamptz
	if task.DueAt != nil {
		dueAt = pgtype.Timestamptz{Time: *task.DueAt, Valid: true}
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO tasks (id, workspace_id, lead_id, title, due_at, done, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.WorkspaceID, task.LeadID, task.Title, dueAt, task.Done, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

func (r *taskRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Task, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, workspace_id, lead_id, title, due_at, done, created_at, updated_at
		 FROM tasks WHERE workspace_id = $1 AND lead_id = $2
		 ORDER BY created_at, id`,
		workspaceID, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		var (
			task  domain.Task
			dueAt pgtype.Timestamptz
		)
		if err := rows.Scan(&task.ID, &task.WorkspaceID, &task.LeadID, &task.Title, &dueAt, &task.Done, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.DueAt = timePtr(dueAt)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func (r *taskRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE tasks SET lead_id = $2, updated_at = NOW() WHERE lead_id = $1`, fromLeadID, toLeadID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

type touchpointRepository struct {
	db dbtx
}

func (r *touchpointRepository) Create(ctx context.Context, touchpoint domain.Touchpoint) (domain.Touchpoint, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO touchpoints (id, workspace_id, lead_id, kind, body, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		touchpoint.ID,
		touchpoint.WorkspaceID,
		touchpoint.LeadID,
		string(touchpoint.Kind),
		touchpoint.Body,
		touchpoint.CreatedBy,
		touchpoint.CreatedAt,
	)
	if err != nil {
		return domain.Touchpoint{}, fmt.Errorf("failed to create touchpoint: %w", err)
	}
	return touchpoint, nil
}

func (r *touchpointRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Touchpoint, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, workspace_id, lead_id, kind, body, created_by, created_at
		 FROM touchpoints WHERE workspace_id = $1 AND lead_id = $2
		 ORDER BY created_at, id`,
		workspaceID, leadID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list touchpoints: %w", err)
	}
	defer rows.Close()

	touchpoints := make([]domain.Touchpoint, 0)
	for rows.Next() {
		var (
			touchpoint domain.Touchpoint
			kind       string
		)
		if err := rows.Scan(&touchpoint.ID, &touchpoint.WorkspaceID, &touchpoint.LeadID, &kind, &touchpoint.Body, &touchpoint.CreatedBy, &touchpoint.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan touchpoint: %w", err)
		}
		touchpoint.Kind = domain.TouchpointKind(kind)
		touchpoints = append(touchpoints, touchpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate touchpoints: %w", err)
	}
	return touchpoints, nil
}

func (r *touchpointRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE touchpoints SET lead_id = $2 WHERE lead_id = $1`, fromLeadID, toLeadID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign touchpoints: %w", err)
	}
	return tag.RowsAffected(), nil
}
