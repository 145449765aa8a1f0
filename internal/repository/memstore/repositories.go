package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/repository"

	"github.com/google/uuid"
)

type importRunRepository struct {
	store *Store
}

func (r *importRunRepository) Create(ctx context.Context, run domain.ImportRun) (domain.ImportRun, error) {
	var created domain.ImportRun
	err := r.store.write("import_runs.create", func(st *state) error {
		if _, exists := st.runs[run.ID]; exists {
			return fmt.Errorf("import run %s already exists", run.ID)
		}
		if run.IdempotencyKey != nil {
			for _, existing := range st.runs {
				if existing.WorkspaceID == run.WorkspaceID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *run.IdempotencyKey {
					return fmt.Errorf("%w: %s", domain.ErrDuplicateIdempotencyKey, *run.IdempotencyKey)
				}
			}
		}
		created = cloneRun(run)
		if created.ColumnMapping == nil {
			created.ColumnMapping = domain.ColumnMapping{}
		}
		st.runs[run.ID] = created
		return nil
	})
	return cloneRun(created), err
}

func (r *importRunRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.ImportRun, error) {
	var run domain.ImportRun
	err := r.store.read(func(st *state) error {
		found, ok := st.runs[id]
		if !ok || found.WorkspaceID != workspaceID {
			return domain.NotFoundf("import run %s", id)
		}
		run = cloneRun(found)
		return nil
	})
	return run, err
}

func (r *importRunRepository) GetByIdempotencyKey(ctx context.Context, workspaceID uuid.UUID, key string) (domain.ImportRun, error) {
	var run domain.ImportRun
	err := r.store.read(func(st *state) error {
		for _, existing := range st.runs {
			if existing.WorkspaceID == workspaceID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == key {
				run = cloneRun(existing)
				return nil
			}
		}
		return domain.NotFoundf("import run with idempotency key %q", key)
	})
	return run, err
}

func (r *importRunRepository) List(ctx context.Context, workspaceID uuid.UUID, limit int, offset int) ([]domain.ImportRun, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var runs []domain.ImportRun
	err := r.store.read(func(st *state) error {
		for _, run := range st.runs {
			if run.WorkspaceID == workspaceID {
				runs = append(runs, cloneRun(run))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID.String() < runs[j].ID.String()
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	if offset >= len(runs) {
		return []domain.ImportRun{}, nil
	}
	end := offset + limit
	if end > len(runs) {
		end = len(runs)
	}
	return runs[offset:end], nil
}

// update applies fn to a run when its status is one of allowed. No allowed list means any status.
func (r *importRunRepository) update(op string, id uuid.UUID, action string, allowed []domain.ImportRunStatus, fn func(run *domain.ImportRun)) (domain.ImportRun, error) {
	var updated domain.ImportRun
	err := r.store.write(op, func(st *state) error {
		run, ok := st.runs[id]
		if !ok {
			return domain.NotFoundf("import run %s", id)
		}
		if len(allowed) > 0 && !containsStatus(allowed, run.Status) {
			return domain.StateConflictf("import run %s in status %s cannot be %s", id, run.Status, action)
		}
		next := cloneRun(run)
		fn(&next)
		next.UpdatedAt = time.Now().UTC()
		st.runs[id] = next
		updated = cloneRun(next)
		return nil
	})
	return updated, err
}

func containsStatus(list []domain.ImportRunStatus, status domain.ImportRunStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

func (r *importRunRepository) UpdateMapping(ctx context.Context, id uuid.UUID, mapping domain.ColumnMapping) (domain.ImportRun, error) {
	allowed := []domain.ImportRunStatus{
		domain.ImportRunStatusMapping,
		domain.ImportRunStatusPreviewReady,
		domain.ImportRunStatusRunning,
	}
	return r.update("import_runs.update_mapping", id, "remapped", allowed, func(run *domain.ImportRun) {
		run.ColumnMapping = mapping.Clone()
		run.Status = run.Status.AfterRemap()
		run.RunCounters = domain.RunCounters{}
	})
}

func (r *importRunRepository) MarkRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) (domain.ImportRun, error) {
	allowed := []domain.ImportRunStatus{
		domain.ImportRunStatusMapping,
		domain.ImportRunStatusPreviewReady,
		domain.ImportRunStatusRunning,
	}
	return r.update("import_runs.mark_running", id, "started", allowed, func(run *domain.ImportRun) {
		run.Status = domain.ImportRunStatusRunning
		if run.StartedAt == nil {
			t := startedAt.UTC()
			run.StartedAt = &t
		}
	})
}

func (r *importRunRepository) AddCounters(ctx context.Context, id uuid.UUID, delta domain.RunCounters) (domain.ImportRun, error) {
	return r.update("import_runs.add_counters", id, "counted", nil, func(run *domain.ImportRun) {
		run.RunCounters = run.RunCounters.Add(delta)
	})
}

func (r *importRunRepository) MarkCompleted(ctx context.Context, id uuid.UUID, finishedAt time.Time) (domain.ImportRun, error) {
	allowed := []domain.ImportRunStatus{domain.ImportRunStatusRunning}
	return r.update("import_runs.mark_completed", id, "completed", allowed, func(run *domain.ImportRun) {
		run.Status = domain.ImportRunStatusCompleted
		t := finishedAt.UTC()
		run.FinishedAt = &t
	})
}

type importRowRepository struct {
	store *Store
}

func (r *importRowRepository) CreateBatch(ctx context.Context, rows []domain.ImportRow) error {
	return r.store.write("import_rows.create_batch", func(st *state) error {
		seen := make(map[string]struct{}, len(rows))
		for _, existing := range st.rows {
			seen[rowKey(existing.ImportRunID, existing.RowNumber)] = struct{}{}
		}
		for _, row := range rows {
			if _, ok := st.runs[row.ImportRunID]; !ok {
				return fmt.Errorf("import run %s does not exist", row.ImportRunID)
			}
			key := rowKey(row.ImportRunID, row.RowNumber)
			if _, dup := seen[key]; dup {
				return fmt.Errorf("import row %d already exists for run %s", row.RowNumber, row.ImportRunID)
			}
			seen[key] = struct{}{}
		}
		for _, row := range rows {
			st.rows[row.ID] = cloneRow(row)
		}
		return nil
	})
}

func rowKey(runID uuid.UUID, number int) string {
	return fmt.Sprintf("%s/%d", runID, number)
}

func (r *importRowRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ImportRow, error) {
	var row domain.ImportRow
	err := r.store.read(func(st *state) error {
		found, ok := st.rows[id]
		if !ok {
			return domain.NotFoundf("import row %s", id)
		}
		row = cloneRow(found)
		return nil
	})
	return row, err
}

func (r *importRowRepository) runRows(st *state, runID uuid.UUID, keep func(domain.ImportRow) bool) []domain.ImportRow {
	var out []domain.ImportRow
	for _, row := range st.rows {
		if row.ImportRunID == runID && keep(row) {
			out = append(out, cloneRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (r *importRowRepository) ListByRun(ctx context.Context, runID uuid.UUID, filter repository.RowFilter) ([]domain.ImportRow, int, error) {
	wanted := make(map[domain.ImportRowStatus]bool, len(filter.Statuses))
	for _, status := range filter.Statuses {
		wanted[status] = true
	}

	var rows []domain.ImportRow
	err := r.store.read(func(st *state) error {
		rows = r.runRows(st, runID, func(row domain.ImportRow) bool {
			return len(wanted) == 0 || wanted[row.Status]
		})
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(rows)
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.ImportRow{}, total, nil
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return rows[offset:end], total, nil
}

func (r *importRowRepository) CountByStatus(ctx context.Context, runID uuid.UUID) (map[domain.ImportRowStatus]int, error) {
	counts := make(map[domain.ImportRowStatus]int)
	err := r.store.read(func(st *state) error {
		for _, row := range st.rows {
			if row.ImportRunID == runID {
				counts[row.Status]++
			}
		}
		return nil
	})
	return counts, err
}

func (r *importRowRepository) ClaimPending(ctx context.Context, runID uuid.UUID, afterRow int, limit int) ([]domain.ImportRow, error) {
	var rows []domain.ImportRow
	err := r.store.read(func(st *state) error {
		rows = r.runRows(st, runID, func(row domain.ImportRow) bool {
			return row.Status == domain.ImportRowStatusPending && row.RowNumber > afterRow
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *importRowRepository) ResetAll(ctx context.Context, rows []domain.ImportRow) error {
	return r.store.write("import_rows.reset_all", func(st *state) error {
		for _, row := range rows {
			if _, ok := st.rows[row.ID]; !ok {
				return domain.NotFoundf("import row %s", row.ID)
			}
		}
		for _, row := range rows {
			existing := st.rows[row.ID]
			st.rows[row.ID] = cloneRow(existing.Reset(row.Mapped, row.Normalized))
		}
		return nil
	})
}

func (r *importRowRepository) SaveOutcome(ctx context.Context, row domain.ImportRow, expected domain.ImportRowStatus) error {
	return r.store.write("import_rows.save_outcome", func(st *state) error {
		existing, ok := st.rows[row.ID]
		if !ok {
			return domain.NotFoundf("import row %s", row.ID)
		}
		if existing.Status != expected {
			return domain.StateConflictf("import row %s is no longer %s", row.ID, expected)
		}
		next := cloneRow(existing)
		next.Status = row.Status
		next.Reason = row.Reason
		next.MatchedLeadID = row.MatchedLeadID
		next.SoftMatchScore = row.SoftMatchScore
		next.ChosenAction = row.ChosenAction
		next.CreatedLeadID = row.CreatedLeadID
		next.MergedIntoLeadID = row.MergedIntoLeadID
		next.UpdatedAt = time.Now().UTC()
		st.rows[row.ID] = cloneRow(next)
		return nil
	})
}

func (r *importRowRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	var moved int64
	err := r.store.write("import_rows.reassign_lead", func(st *state) error {
		for id, row := range st.rows {
			changed := false
			next := cloneRow(row)
			for _, ref := range []**uuid.UUID{&next.MatchedLeadID, &next.CreatedLeadID, &next.MergedIntoLeadID} {
				if *ref != nil && **ref == fromLeadID {
					*ref = copyID(&toLeadID)
					changed = true
				}
			}
			if changed {
				next.UpdatedAt = time.Now().UTC()
				st.rows[id] = next
				moved++
			}
		}
		return nil
	})
	return moved, err
}

type leadRepository struct {
	store *Store
}

func (r *leadRepository) Create(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	err := r.store.write("leads.create", func(st *state) error {
		if _, exists := st.leads[lead.ID]; exists {
			return fmt.Errorf("lead %s already exists", lead.ID)
		}
		st.leads[lead.ID] = cloneLead(lead)
		st.leadOrder = append(st.leadOrder, lead.ID)
		return nil
	})
	if err != nil {
		return domain.Lead{}, err
	}
	return cloneLead(lead), nil
}

func (r *leadRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.Lead, error) {
	var lead domain.Lead
	err := r.store.read(func(st *state) error {
		found, ok := st.leads[id]
		if !ok || found.WorkspaceID != workspaceID {
			return domain.NotFoundf("lead %s", id)
		}
		lead = cloneLead(found)
		return nil
	})
	return lead, err
}

func (r *leadRepository) GetByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]domain.Lead, error) {
	leads := make([]domain.Lead, 0, len(ids))
	err := r.store.read(func(st *state) error {
		for _, id := range ids {
			if found, ok := st.leads[id]; ok && found.WorkspaceID == workspaceID {
				leads = append(leads, cloneLead(found))
			}
		}
		return nil
	})
	return leads, err
}

func (r *leadRepository) Update(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	var updated domain.Lead
	err := r.store.write("leads.update", func(st *state) error {
		existing, ok := st.leads[lead.ID]
		if !ok || existing.WorkspaceID != lead.WorkspaceID {
			return domain.NotFoundf("lead %s", lead.ID)
		}
		if lead.Status == domain.LeadStatusMerged && lead.MergedIntoLeadID == nil {
			return fmt.Errorf("lead %s is MERGED without a merge target", lead.ID)
		}
		updated = cloneLead(lead)
		updated.CreatedAt = existing.CreatedAt
		updated.ImportRunID = copyID(existing.ImportRunID)
		updated.UpdatedAt = time.Now().UTC()
		st.leads[lead.ID] = updated
		return nil
	})
	return cloneLead(updated), err
}

func (r *leadRepository) FindLookupPool(ctx context.Context, workspaceID uuid.UUID, lookup repository.LeadLookup) ([]domain.Lead, error) {
	pool := make([]domain.Lead, 0)
	if lookup.Empty() {
		return pool, nil
	}

	emails := toSet(lookup.Emails)
	phones := toSet(lookup.Phones)
	domains := toSet(lookup.Domains)
	names := toSet(lookup.Names)
	cities := toSet(lookup.Cities)

	err := r.store.read(func(st *state) error {
		for _, id := range st.leadOrder {
			lead := st.leads[id]
			if lead.WorkspaceID != workspaceID || !lead.Matchable() {
				continue
			}
			keys := lead.Normalized
			hit := hasKey(emails, keys.Email) || hasKey(phones, keys.Phone) || hasKey(domains, keys.Domain)
			if !hit && hasKey(cities, keys.City) {
				hit = len(names) == 0 || hasKey(names, keys.Name)
			}
			if hit {
				pool = append(pool, cloneLead(lead))
			}
		}
		return nil
	})
	return pool, err
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func hasKey(set map[string]struct{}, key string) bool {
	if key == "" {
		return false
	}
	_, ok := set[key]
	return ok
}

type mergeLogRepository struct {
	store *Store
}

func (r *mergeLogRepository) Create(ctx context.Context, entry domain.MergeLog) (domain.MergeLog, error) {
	err := r.store.write("merge_logs.create", func(st *state) error {
		if _, ok := st.leads[entry.PrimaryLeadID]; !ok {
			return fmt.Errorf("merge log references unknown lead %s", entry.PrimaryLeadID)
		}
		if _, ok := st.leads[entry.MergedLeadID]; !ok {
			return fmt.Errorf("merge log references unknown lead %s", entry.MergedLeadID)
		}
		st.mergeLogs = append(st.mergeLogs, cloneMergeLog(entry))
		return nil
	})
	if err != nil {
		return domain.MergeLog{}, err
	}
	return cloneMergeLog(entry), nil
}

func (r *mergeLogRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.MergeLog, error) {
	entries := make([]domain.MergeLog, 0)
	err := r.store.read(func(st *state) error {
		for i := len(st.mergeLogs) - 1; i >= 0; i-- {
			entry := st.mergeLogs[i]
			if entry.WorkspaceID != workspaceID {
				continue
			}
			if entry.PrimaryLeadID == leadID || entry.MergedLeadID == leadID {
				entries = append(entries, cloneMergeLog(entry))
			}
		}
		return nil
	})
	return entries, err
}

type taskRepository struct {
	store *Store
}

func (r *taskRepository) Create(ctx context.Context, task domain.Task) (domain.Task, error) {
	err := r.store.write("tasks.create", func(st *state) error {
		if _, ok := st.leads[task.LeadID]; !ok {
			return fmt.Errorf("task references unknown lead %s", task.LeadID)
		}
		st.tasks[task.ID] = task
		st.taskOrder = append(st.taskOrder, task.ID)
		return nil
	})
	return task, err
}

func (r *taskRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Task, error) {
	tasks := make([]domain.Task, 0)
	err := r.store.read(func(st *state) error {
		for _, id := range st.taskOrder {
			task := st.tasks[id]
			if task.WorkspaceID == workspaceID && task.LeadID == leadID {
				tasks = append(tasks, task)
			}
		}
		return nil
	})
	return tasks, err
}

func (r *taskRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	var moved int64
	err := r.store.write("tasks.reassign_lead", func(st *state) error {
		for id, task := range st.tasks {
			if task.LeadID == fromLeadID {
				task.LeadID = toLeadID
				task.UpdatedAt = time.Now().UTC()
				st.tasks[id] = task
				moved++
			}
		}
		return nil
	})
	return moved, err
}

type touchpointRepository struct {
	store *Store
}

func (r *touchpointRepository) Create(ctx context.Context, touchpoint domain.Touchpoint) (domain.Touchpoint, error) {
	err := r.store.write("touchpoints.create", func(st *state) error {
		if _, ok := st.leads[touchpoint.LeadID]; !ok {
			return fmt.Errorf("touchpoint references unknown lead %s", touchpoint.LeadID)
		}
		st.touchpoints[touchpoint.ID] = touchpoint
		st.touchOrder = append(st.touchOrder, touchpoint.ID)
		return nil
	})
	return touchpoint, err
}

func (r *touchpointRepository) ListByLead(ctx context.Context, workspaceID, leadID uuid.UUID) ([]domain.Touchpoint, error) {
	touchpoints := make([]domain.Touchpoint, 0)
	err := r.store.read(func(st *state) error {
		for _, id := range st.touchOrder {
			touchpoint := st.touchpoints[id]
			if touchpoint.WorkspaceID == workspaceID && touchpoint.LeadID == leadID {
				touchpoints = append(touchpoints, touchpoint)
			}
		}
		return nil
	})
	return touchpoints, err
}

func (r *touchpointRepository) ReassignLead(ctx context.Context, fromLeadID, toLeadID uuid.UUID) (int64, error) {
	var moved int64
	err := r.store.write("touchpoints.reassign_lead", func(st *state) error {
		for id, touchpoint := range st.touchpoints {
			if touchpoint.LeadID == fromLeadID {
				touchpoint.LeadID = toLeadID
				st.touchpoints[id] = touchpoint
				moved++
			}
		}
		return nil
	})
	return moved, err
}
