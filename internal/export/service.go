// Package export renders import run outcomes as downloadable CSV or XLSX reports.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/logger"
	"github.com/rpattn/opscrm/internal/repository"
	"github.com/rpattn/opscrm/internal/tracing"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Format is a report file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"

	defaultPageSize = 500
	sheetName       = "Rows"
)

// ParseFormat reads a format name, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", domain.Validationf("unsupported report format %q", raw)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

var reportHeaders = []string{
	"row_number",
	"status",
	"reason",
	"business_name",
	"contact_name",
	"email",
	"phone",
	"website",
	"city",
	"matched_lead_id",
	"soft_match_score",
	"chosen_action",
	"created_lead_id",
	"merged_into_lead_id",
}

// Service builds run reports.
type Service struct {
	store    repository.Store
	pageSize int
}

// Option configures a Service.
type Option func(*Service)

// WithPageSize sets how many rows are read per query.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// NewService creates a report service.
func NewService(store repository.Store, opts ...Option) *Service {
	s := &Service{store: store, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report describes a written report.
type Report struct {
	FileName     string
	Format       Format
	RowsExported int
	BytesWritten int64
	ModifiedAt   time.Time
}

// WriteReport writes every row of the run, in row order, to w.
func (s *Service) WriteReport(ctx context.Context, workspaceID, runID uuid.UUID, format Format, w io.Writer) (Report, error) {
	ctx, span := tracing.StartSpan(ctx, "export.Service.WriteReport",
		attribute.String("import_run_id", runID.String()),
		attribute.String("format", string(format)),
	)
	defer span.End()

	run, err := s.store.ImportRuns().GetByID(ctx, workspaceID, runID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		FileName:   fmt.Sprintf("%s-report.%s", sanitizeFileComponent(strings.TrimSuffix(run.FileName, fileExt(run.FileName))), format),
		Format:     format,
		ModifiedAt: run.UpdatedAt,
	}

	switch format {
	case FormatCSV:
		err = s.writeCSV(ctx, run, w, &report)
	case FormatXLSX:
		err = s.writeXLSX(ctx, run, w, &report)
	default:
		err = domain.Validationf("unsupported report format %q", format)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return Report{}, err
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldImportRunID: run.ID.String(),
		logger.FieldCount:       report.RowsExported,
		"format":                string(format),
		"bytes":                 report.BytesWritten,
	}).Info("Wrote import run report")
	return report, nil
}

// eachPage streams the run rows page by page.
func (s *Service) eachPage(ctx context.Context, runID uuid.UUID, fn func([]domain.ImportRow) error) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, total, err := s.store.ImportRows().ListByRun(ctx, runID, repository.RowFilter{Limit: s.pageSize, Offset: offset})
		if err != nil {
			return fmt.Errorf("list import rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(rows); err != nil {
			return err
		}
		offset += len(rows)
		if offset >= total {
			return nil
		}
	}
}

func (s *Service) writeCSV(ctx context.Context, run domain.ImportRun, w io.Writer, report *Report) error {
	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	if err := csvWriter.Write(reportHeaders); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	err := s.eachPage(ctx, run.ID, func(rows []domain.ImportRow) error {
		for _, row := range rows {
			if err := csvWriter.Write(reportRecord(row)); err != nil {
				return fmt.Errorf("write row %d: %w", row.RowNumber, err)
			}
			report.RowsExported++
		}
		csvWriter.Flush()
		return csvWriter.Error()
	})
	if err != nil {
		return err
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("final buffered flush: %w", err)
	}
	report.BytesWritten = counter.count
	return nil
}

func (s *Service) writeXLSX(ctx context.Context, run domain.ImportRun, w io.Writer, report *Report) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	stream, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("open sheet stream: %w", err)
	}

	if err := stream.SetRow("A1", toCells(reportHeaders)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := 2
	err = s.eachPage(ctx, run.ID, func(rows []domain.ImportRow) error {
		for _, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, line)
			if err != nil {
				return err
			}
			if err := stream.SetRow(cell, toCells(reportRecord(row))); err != nil {
				return fmt.Errorf("write row %d: %w", row.RowNumber, err)
			}
			line++
			report.RowsExported++
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}

	counter := &countingWriter{writer: bufio.NewWriter(w)}
	if _, err := f.WriteTo(counter); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := counter.writer.Flush(); err != nil {
		return fmt.Errorf("flush workbook: %w", err)
	}
	report.BytesWritten = counter.count
	return nil
}

func reportRecord(row domain.ImportRow) []string {
	fields := row.Mapped.Fields
	return []string{
		strconv.Itoa(row.RowNumber),
		string(row.Status),
		formatValue(row.Reason),
		fields.BusinessName,
		fields.ContactName,
		fields.Email,
		fields.Phone,
		fields.Website,
		fields.City,
		formatValue(row.MatchedLeadID),
		formatValue(row.SoftMatchScore),
		formatValue(row.ChosenAction),
		formatValue(row.CreatedLeadID),
		formatValue(row.MergedIntoLeadID),
	}
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func fileExt(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "import"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case *string:
		if v == nil {
			return ""
		}
		return *v
	case *uuid.UUID:
		if v == nil {
			return ""
		}
		return v.String()
	case *float64:
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'f', -1, 64)
	case *domain.ResolutionAction:
		if v == nil {
			return ""
		}
		return string(*v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
