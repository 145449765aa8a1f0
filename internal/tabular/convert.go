package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/opscrm/internal/domain"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", domain.ErrValidation)

// ToCSV returns the upload as CSV text. Spreadsheets are converted from their first sheet.
func ToCSV(fileName string, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, domain.Validationf("file is empty")
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", ".txt", "":
		return payload, nil
	case ".xlsx", ".xlsm":
		return excelToCSV(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func excelToCSV(payload []byte) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Validationf("failed to open xlsx: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.Validationf("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write csv: %w", err)
	}
	if buf.Len() == 0 {
		return nil, domain.Validationf("excel sheet is empty")
	}
	return buf.Bytes(), nil
}
