package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/ingestion"
	"github.com/rpattn/opscrm/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const reportCSV = "Business Name,Email,City\n" +
	"Acme Services,hello@acme.com,Austin\n" +
	"Acme Services Again,hello@acme.com,Dallas\n" +
	",nobody@example.com,Austin\n"

func seedRun(t *testing.T) (*memstore.Store, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	imports := ingestion.NewService(store)
	workspace := uuid.New()

	started, err := imports.Start(ctx, ingestion.StartRequest{
		WorkspaceID: workspace,
		UploadedBy:  uuid.New(),
		FileName:    "Spring Leads (final).csv",
		Data:        []byte(reportCSV),
	})
	require.NoError(t, err)
	_, err = imports.Map(ctx, workspace, started.Run.ID, domain.ColumnMapping{
		"Business Name":       string(domain.FieldBusinessName),
		"Email":               string(domain.FieldEmail),
		"City":                string(domain.FieldCity),
		"$default:pipelineId": "pipeline-1",
		"$default:stageId":    "stage-new",
	})
	require.NoError(t, err)
	_, err = imports.Execute(ctx, workspace, started.Run.ID)
	require.NoError(t, err)
	return store, workspace, started.Run.ID
}

func TestWriteReportCSV(t *testing.T) {
	store, workspace, runID := seedRun(t)
	service := NewService(store, WithPageSize(2))

	var buf bytes.Buffer
	report, err := service.WriteReport(context.Background(), workspace, runID, FormatCSV, &buf)
	require.NoError(t, err)

	assert.Equal(t, "spring-leads--final-report.csv", report.FileName)
	assert.Equal(t, 3, report.RowsExported)
	assert.Equal(t, int64(buf.Len()), report.BytesWritten)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, reportHeaders, records[0])

	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, string(domain.ImportRowStatusCreated), records[1][1])
	assert.NotEmpty(t, records[1][12], "created lead id")

	assert.Equal(t, string(domain.ImportRowStatusHardDuplicate), records[2][1])
	assert.Equal(t, records[1][12], records[2][9], "matched lead is the one created by row 1")

	assert.Equal(t, string(domain.ImportRowStatusError), records[3][1])
	assert.NotEmpty(t, records[3][2])
}

func TestWriteReportXLSX(t *testing.T) {
	store, workspace, runID := seedRun(t)
	service := NewService(store)

	var buf bytes.Buffer
	report, err := service.WriteReport(context.Background(), workspace, runID, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, "spring-leads--final-report.xlsx", report.FileName)
	assert.Equal(t, 3, report.RowsExported)

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	rows, err := book.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "row_number", rows[0][0])
	assert.Equal(t, "Acme Services", rows[1][3])
	assert.Equal(t, string(domain.ImportRowStatusHardDuplicate), rows[2][1])
}

func TestWriteReportUnknownRun(t *testing.T) {
	store, _, runID := seedRun(t)
	service := NewService(store)

	var buf bytes.Buffer
	_, err := service.WriteReport(context.Background(), uuid.New(), runID, FormatCSV, &buf)
	require.Error(t, err)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
	assert.Zero(t, buf.Len())
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	format, err = ParseFormat(" XLSX ")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)

	_, err = ParseFormat("pdf")
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestSanitizeFileComponent(t *testing.T) {
	assert.Equal(t, "q3_leads-2024", sanitizeFileComponent(" Q3_Leads 2024 "))
	assert.Equal(t, "import", sanitizeFileComponent("***"))
}
