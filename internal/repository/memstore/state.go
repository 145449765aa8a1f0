package memstore

import (
	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
)

// state is treated as a set of immutable values: entries are replaced, never edited in place,
// so a shallow copy of the maps is a full snapshot.
type state struct {
	runs        map[uuid.UUID]domain.ImportRun
	rows        map[uuid.UUID]domain.ImportRow
	leads       map[uuid.UUID]domain.Lead
	leadOrder   []uuid.UUID
	mergeLogs   []domain.MergeLog
	tasks       map[uuid.UUID]domain.Task
	taskOrder   []uuid.UUID
	touchpoints map[uuid.UUID]domain.Touchpoint
	touchOrder  []uuid.UUID
}

func newState() *state {
	return &state{
		runs:        make(map[uuid.UUID]domain.ImportRun),
		rows:        make(map[uuid.UUID]domain.ImportRow),
		leads:       make(map[uuid.UUID]domain.Lead),
		tasks:       make(map[uuid.UUID]domain.Task),
		touchpoints: make(map[uuid.UUID]domain.Touchpoint),
	}
}

func (s *state) clone() *state {
	out := &state{
		runs:        make(map[uuid.UUID]domain.ImportRun, len(s.runs)),
		rows:        make(map[uuid.UUID]domain.ImportRow, len(s.rows)),
		leads:       make(map[uuid.UUID]domain.Lead, len(s.leads)),
		leadOrder:   append([]uuid.UUID(nil), s.leadOrder...),
		mergeLogs:   append([]domain.MergeLog(nil), s.mergeLogs...),
		tasks:       make(map[uuid.UUID]domain.Task, len(s.tasks)),
		taskOrder:   append([]uuid.UUID(nil), s.taskOrder...),
		touchpoints: make(map[uuid.UUID]domain.Touchpoint, len(s.touchpoints)),
		touchOrder:  append([]uuid.UUID(nil), s.touchOrder...),
	}
	for k, v := range s.runs {
		out.runs[k] = v
	}
	for k, v := range s.rows {
		out.rows[k] = v
	}
	for k, v := range s.leads {
		out.leads[k] = v
	}
	for k, v := range s.tasks {
		out.tasks[k] = v
	}
	for k, v := range s.touchpoints {
		out.touchpoints[k] = v
	}
	return out
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRun(run domain.ImportRun) domain.ImportRun {
	out := run
	out.Headers = append([]string(nil), run.Headers...)
	out.ColumnMapping = run.ColumnMapping.Clone()
	if run.IdempotencyKey != nil {
		key := *run.IdempotencyKey
		out.IdempotencyKey = &key
	}
	if run.StartedAt != nil {
		t := *run.StartedAt
		out.StartedAt = &t
	}
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func cloneRow(row domain.ImportRow) domain.ImportRow {
	out := row
	out.Raw = copyMap(row.Raw)
	out.Mapped.CustomData = copyMap(row.Mapped.CustomData)
	if row.Reason != nil {
		reason := *row.Reason
		out.Reason = &reason
	}
	if row.SoftMatchScore != nil {
		score := *row.SoftMatchScore
		out.SoftMatchScore = &score
	}
	if row.ChosenAction != nil {
		action := *row.ChosenAction
		out.ChosenAction = &action
	}
	out.MatchedLeadID = copyID(row.MatchedLeadID)
	out.CreatedLeadID = copyID(row.CreatedLeadID)
	out.MergedIntoLeadID = copyID(row.MergedIntoLeadID)
	return out
}

func cloneLead(lead domain.Lead) domain.Lead {
	out := lead
	out.CustomData = copyMap(lead.CustomData)
	out.MergedIntoLeadID = copyID(lead.MergedIntoLeadID)
	out.ImportRunID = copyID(lead.ImportRunID)
	if lead.ArchivedAt != nil {
		t := *lead.ArchivedAt
		out.ArchivedAt = &t
	}
	return out
}

func cloneMergeLog(entry domain.MergeLog) domain.MergeLog {
	out := entry
	out.ChosenFields = make(domain.ChosenFields, len(entry.ChosenFields))
	for k, v := range entry.ChosenFields {
		out.ChosenFields[k] = v
	}
	out.BeforeAfterJSON = append([]byte(nil), entry.BeforeAfterJSON...)
	out.ImportRunID = copyID(entry.ImportRunID)
	return out
}
