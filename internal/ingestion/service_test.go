package ingestion

import (
	"context"
	"errors"
	"testing"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/events"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acmeCSV = "Business Name,Email,City\nAcme Services,hello@acme-services.com,Austin\n"

func leadMapping() domain.ColumnMapping {
	return domain.ColumnMapping{
		"Business Name":       string(domain.FieldBusinessName),
		"Email":               string(domain.FieldEmail),
		"City":                string(domain.FieldCity),
		"$default:pipelineId": "pipeline-1",
		"$default:stageId":    "stage-new",
	}
}

type fixture struct {
	store     *memstore.Store
	service   *Service
	recorder  *events.Recorder
	workspace uuid.UUID
	user      uuid.UUID
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := memstore.New()
	recorder := &events.Recorder{}
	opts = append([]Option{WithPublisher(recorder)}, opts...)
	return &fixture{
		store:     store,
		service:   NewService(store, opts...),
		recorder:  recorder,
		workspace: uuid.New(),
		user:      uuid.New(),
	}
}

func (f *fixture) start(t *testing.T, csv, key string) domain.ImportRun {
	t.Helper()
	result, err := f.service.Start(context.Background(), StartRequest{
		WorkspaceID:    f.workspace,
		UploadedBy:     f.user,
		FileName:       "leads.csv",
		Data:           []byte(csv),
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return result.Run
}

// importCSV starts, maps and executes a file in one go.
func (f *fixture) importCSV(t *testing.T, csv string) (domain.ImportRun, domain.RunSummary) {
	t.Helper()
	ctx := context.Background()
	run := f.start(t, csv, "")
	_, err := f.service.Map(ctx, f.workspace, run.ID, leadMapping())
	require.NoError(t, err)
	summary, err := f.service.Execute(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	return run, summary
}

func (f *fixture) rows(t *testing.T, runID uuid.UUID) []RowView {
	t.Helper()
	page, err := f.service.ListRows(context.Background(), f.workspace, runID, repository.RowFilter{})
	require.NoError(t, err)
	return page.Rows
}

func assertCountersConsistent(t *testing.T, summary domain.RunSummary) {
	t.Helper()
	sum := summary.CreatedCount + summary.HardDuplicateCount + summary.SoftDuplicateCount + summary.ErrorCount
	assert.Equal(t, summary.ProcessedRows, sum)
	assert.LessOrEqual(t, summary.ProcessedRows, summary.TotalRows)
}

func TestStartCreatesRunInMappingState(t *testing.T) {
	f := newFixture(t)
	run := f.start(t, acmeCSV, "")

	assert.Equal(t, domain.ImportRunStatusMapping, run.Status)
	assert.Equal(t, 1, run.TotalRows)
	assert.Equal(t, []string{"Business Name", "Email", "City"}, run.Headers)
	assert.Equal(t, string(domain.FieldEmail), run.ColumnMapping["Email"])

	rows := f.rows(t, run.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.ImportRowStatusPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].RowNumber)
	assert.Equal(t, "hello@acme-services.com", rows[0].Normalized.Email)
}

func TestStartReplaysIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.start(t, acmeCSV, "upload-1")

	replay, err := f.service.Start(ctx, StartRequest{
		WorkspaceID:    f.workspace,
		UploadedBy:     f.user,
		FileName:       "other.csv",
		Data:           []byte("Business Name\nSomething Else\nAnd More\n"),
		IdempotencyKey: "upload-1",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.ID, replay.Run.ID)
	assert.Equal(t, "leads.csv", replay.Run.FileName)
	assert.Len(t, f.rows(t, first.ID), 1)

	runs, err := f.service.ListRuns(ctx, f.workspace, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestStartRejectsMissingScopeAndEmptyFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Start(ctx, StartRequest{UploadedBy: f.user, FileName: "a.csv", Data: []byte(acmeCSV)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.Start(ctx, StartRequest{WorkspaceID: f.workspace, UploadedBy: f.user, FileName: "a.csv", Data: []byte("\n\n")})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestMapResetsRowsAndRejectsBadMappings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.start(t, acmeCSV, "")

	_, err := f.service.Map(ctx, f.workspace, run.ID, domain.ColumnMapping{"Nope": "email"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.service.Map(ctx, f.workspace, run.ID, domain.ColumnMapping{"Email": "favouriteColour"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	mapping := leadMapping()
	mapping["City"] = "custom:office"
	updated, err := f.service.Map(ctx, f.workspace, run.ID, mapping)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusPreviewReady, updated.Status)
	assert.Equal(t, "custom:office", updated.ColumnMapping["City"])

	rows := f.rows(t, run.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, "", rows[0].Mapped.Fields.City)
	assert.Equal(t, "Austin", rows[0].Mapped.CustomData["office"])
	assert.Equal(t, "pipeline-1", rows[0].Mapped.Fields.PipelineID)
	assert.Equal(t, "", rows[0].Normalized.City)
}

func TestMapAfterExecutionIsStateConflict(t *testing.T) {
	f := newFixture(t)
	run, _ := f.importCSV(t, acmeCSV)

	_, err := f.service.Map(context.Background(), f.workspace, run.ID, leadMapping())
	assert.ErrorIs(t, err, domain.ErrStateConflict)
}

func TestMapWhileRunningClearsOutcomesAndKeepsRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.importCSV(t, "Business Name,Email,City\nBeta Co,beta@beta.com,Dallas\n")

	run := f.start(t, "Business Name,Email,City\n"+
		"Acme Services,hello@acme-services.com,Austin\n"+
		"Acme Services,hello@acme-services.com,Austin\n"+
		"Beta Co,sales@beta-other.com,Dallas\n"+
		",ghost@nowhere.com,Austin\n", "")
	_, err := f.service.Map(ctx, f.workspace, run.ID, leadMapping())
	require.NoError(t, err)

	f.store.InjectFault("import_runs.mark_completed", errors.New("connection reset"))
	_, err = f.service.Execute(ctx, f.workspace, run.ID)
	require.Error(t, err)

	stuck, err := f.service.GetRun(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	require.Equal(t, domain.ImportRunStatusRunning, stuck.Status)
	assert.Equal(t, 4, stuck.ProcessedRows)
	before := f.rows(t, run.ID)
	require.Len(t, before, 4)
	assert.Equal(t, domain.ImportRowStatusCreated, before[0].Status)
	assert.Equal(t, domain.ImportRowStatusHardDuplicate, before[1].Status)
	assert.NotNil(t, before[1].Reason)
	assert.Equal(t, domain.ImportRowStatusSoftDuplicate, before[2].Status)
	assert.NotNil(t, before[2].SoftMatchScore)
	assert.Equal(t, domain.ImportRowStatusError, before[3].Status)

	remapped, err := f.service.Map(ctx, f.workspace, run.ID, leadMapping())
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusRunning, remapped.Status)
	assert.Equal(t, domain.RunCounters{}, remapped.RunCounters)
	assert.Equal(t, *stuck.StartedAt, *remapped.StartedAt)

	for _, row := range f.rows(t, run.ID) {
		assert.Equal(t, domain.ImportRowStatusPending, row.Status, "row %d", row.RowNumber)
		assert.Nil(t, row.Reason, "row %d", row.RowNumber)
		assert.Nil(t, row.MatchedLeadID, "row %d", row.RowNumber)
		assert.Nil(t, row.SoftMatchScore, "row %d", row.RowNumber)
		assert.Nil(t, row.CreatedLeadID, "row %d", row.RowNumber)
		assert.Nil(t, row.MatchedLead, "row %d", row.RowNumber)
	}

	f.store.ClearFault("import_runs.mark_completed")
	summary, err := f.service.Execute(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	assert.Equal(t, 4, summary.ProcessedRows)
	assert.Zero(t, summary.CreatedCount, "lead from the first pass is kept and matched")
	assert.Equal(t, 2, summary.HardDuplicateCount)
	assert.Equal(t, 1, summary.SoftDuplicateCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assertCountersConsistent(t, summary)

	pool, err := f.store.Leads().FindLookupPool(ctx, f.workspace, repository.LeadLookup{Emails: []string{"hello@acme-services.com"}})
	require.NoError(t, err)
	assert.Len(t, pool, 1)
}

func TestPreviewAppliesCandidateMappingWithoutStoringIt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.start(t, acmeCSV+"Beta Co,not-an-email,Dallas\n", "")

	stored, err := f.service.Preview(ctx, f.workspace, run.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.InvalidRows, "default mapping lacks pipeline and stage")

	preview, err := f.service.Preview(ctx, f.workspace, run.ID, leadMapping())
	require.NoError(t, err)
	require.Len(t, preview.Rows, 2)
	assert.Equal(t, 0, preview.InvalidRows)
	assert.Empty(t, preview.Rows[0].Warnings)
	assert.NotEmpty(t, preview.Rows[1].Warnings, "malformed email is a warning")

	again, err := f.service.GetRun(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusMapping, again.Status)
	assert.NotContains(t, again.ColumnMapping, "$default:pipelineId")
}

func TestExecuteCreatesLeadAndCompletesRun(t *testing.T) {
	f := newFixture(t)
	run, summary := f.importCSV(t, acmeCSV)

	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.CreatedCount)
	assert.Zero(t, summary.HardDuplicateCount)
	assert.Zero(t, summary.SoftDuplicateCount)
	assert.Zero(t, summary.ErrorCount)
	assert.NotNil(t, summary.StartedAt)
	assert.NotNil(t, summary.FinishedAt)
	assertCountersConsistent(t, summary)

	rows := f.rows(t, run.ID)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].CreatedLeadID)

	lead, err := f.store.Leads().GetByID(context.Background(), f.workspace, *rows[0].CreatedLeadID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Services", lead.BusinessName)
	assert.Equal(t, domain.LeadStatusNew, lead.Status)
	assert.Equal(t, run.ID, *lead.ImportRunID)
	assert.Equal(t, "acme-services.com", lead.Normalized.Domain)

	assert.Equal(t, []string{events.TypeImportRunCompleted}, f.recorder.Types())
}

func TestExecuteFlagsHardDuplicateFromEarlierRun(t *testing.T) {
	f := newFixture(t)
	firstRun, _ := f.importCSV(t, acmeCSV)
	created := *f.rows(t, firstRun.ID)[0].CreatedLeadID

	secondRun, summary := f.importCSV(t, "Business Name,Email,City\nTotally Different,HELLO@acme-services.com ,Houston\n")
	assert.Equal(t, 1, summary.HardDuplicateCount)
	assert.Zero(t, summary.CreatedCount)

	page, err := f.service.ListRows(context.Background(), f.workspace, secondRun.ID, repository.RowFilter{
		Statuses: []domain.ImportRowStatus{domain.ImportRowStatusHardDuplicate},
	})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, created, *page.Rows[0].MatchedLeadID)
	require.NotNil(t, page.Rows[0].MatchedLead)
	assert.Equal(t, "Acme Services", page.Rows[0].MatchedLead.BusinessName)
	assert.Contains(t, *page.Rows[0].Reason, "email")
}

func TestExecuteCompletedRunIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run, first := f.importCSV(t, acmeCSV)

	again, err := f.service.Execute(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	pool, err := f.store.Leads().FindLookupPool(ctx, f.workspace, repository.LeadLookup{Emails: []string{"hello@acme-services.com"}})
	require.NoError(t, err)
	assert.Len(t, pool, 1)
	assert.Len(t, f.recorder.Events(), 1)
}

func TestExecuteDetectsDuplicatesInsideOneFile(t *testing.T) {
	f := newFixture(t, WithChunkSize(2))
	csv := "Business Name,Email,City\n" +
		"Acme Services,hello@acme-services.com,Austin\n" +
		"Acme Services Again,hello@acme-services.com,Austin\n" +
		"Bolt Plumbing,info@bolt.io,Denver\n" +
		"Bolt Plumbing,owner@boltplumbing.net,Denver\n"
	run, summary := f.importCSV(t, csv)

	assert.Equal(t, 2, summary.CreatedCount)
	assert.Equal(t, 1, summary.HardDuplicateCount)
	assert.Equal(t, 1, summary.SoftDuplicateCount)
	assertCountersConsistent(t, summary)

	rows := f.rows(t, run.ID)
	require.Len(t, rows, 4)
	assert.Equal(t, domain.ImportRowStatusCreated, rows[0].Status)
	assert.Equal(t, domain.ImportRowStatusHardDuplicate, rows[1].Status)
	assert.Equal(t, *rows[0].CreatedLeadID, *rows[1].MatchedLeadID)
	assert.Equal(t, domain.ImportRowStatusCreated, rows[2].Status)
	assert.Equal(t, domain.ImportRowStatusSoftDuplicate, rows[3].Status)
	assert.Equal(t, *rows[2].CreatedLeadID, *rows[3].MatchedLeadID)
	require.NotNil(t, rows[3].SoftMatchScore)
	assert.Greater(t, *rows[3].SoftMatchScore, 0.0)
}

func TestExecuteMarksInvalidRowsAsErrors(t *testing.T) {
	f := newFixture(t)
	run, summary := f.importCSV(t, "Business Name,Email,City\n,ghost@nowhere.com,Austin\n")

	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	rows := f.rows(t, run.ID)
	require.NotNil(t, rows[0].Reason)
	assert.Contains(t, *rows[0].Reason, "businessName")
	assert.Nil(t, rows[0].CreatedLeadID)
}

func TestExecuteTurnsLeadCreateFailureIntoRowError(t *testing.T) {
	f := newFixture(t)
	f.store.InjectFault("leads.create", errors.New("check constraint violated"))

	run, summary := f.importCSV(t, acmeCSV)
	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.ErrorCount)

	rows := f.rows(t, run.ID)
	require.NotNil(t, rows[0].Reason)
	assert.Contains(t, *rows[0].Reason, "failed to create lead")
}

func TestExecuteResumesAfterInfrastructureFailure(t *testing.T) {
	f := newFixture(t, WithChunkSize(2))
	ctx := context.Background()
	csv := "Business Name,Email,City\n" +
		"One,one@one.com,Austin\n" +
		"Two,two@two.com,Austin\n" +
		"Three,three@three.com,Austin\n"
	run := f.start(t, csv, "")
	_, err := f.service.Map(ctx, f.workspace, run.ID, leadMapping())
	require.NoError(t, err)

	f.store.InjectFault("import_runs.add_counters", errors.New("connection reset"))
	_, err = f.service.Execute(ctx, f.workspace, run.ID)
	require.Error(t, err)

	stuck, err := f.service.GetRun(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusRunning, stuck.Status)
	assert.Zero(t, stuck.ProcessedRows)
	for _, row := range f.rows(t, run.ID) {
		assert.Equal(t, domain.ImportRowStatusPending, row.Status)
	}
	pool, err := f.store.Leads().FindLookupPool(ctx, f.workspace, repository.LeadLookup{Emails: []string{"one@one.com"}})
	require.NoError(t, err)
	assert.Empty(t, pool, "rolled back chunk must not leave leads behind")

	f.store.ClearFault("import_runs.add_counters")
	summary, err := f.service.Execute(ctx, f.workspace, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	assert.Equal(t, 3, summary.CreatedCount)
	assert.Equal(t, *stuck.StartedAt, *summary.StartedAt)
	assertCountersConsistent(t, summary)
}

func TestRunsAreScopedToWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	run := f.start(t, acmeCSV, "")

	_, err := f.service.GetRun(ctx, uuid.New(), run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.service.Execute(ctx, uuid.New(), run.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.service.ListRows(ctx, uuid.New(), run.ID, repository.RowFilter{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
