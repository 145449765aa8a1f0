// Package tabular parses uploaded tabular text and maps its columns onto lead fields.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/rpattn/opscrm/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Row is one data line keyed by header.
type Row struct {
	Number int
	Values map[string]string
}

// Table is a parsed file: ordered headers plus data rows.
type Table struct {
	Headers []string
	Rows    []Row
	// Repaired is set when the file was recovered from a single wrapped column.
	Repaired bool
}

// ParseCSV parses CSV text. The first non-blank line is the header row and blank lines are skipped.
func ParseCSV(payload []byte) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, domain.Validationf("failed to read csv: %v", err)
	}

	var headerRow []string
	var dataRows [][]string
	for _, record := range records {
		if isBlank(record) {
			continue
		}
		if headerRow == nil {
			headerRow = record
			continue
		}
		dataRows = append(dataRows, record)
	}
	if headerRow == nil {
		return Table{}, domain.Validationf("no header row detected")
	}

	table := Table{}
	if isWrappedSingleColumn(headerRow, dataRows) {
		headerRow, dataRows = unwrapSingleColumn(headerRow[0], dataRows)
		table.Repaired = true
	}

	table.Headers = sanitizeHeaders(headerRow)
	for _, record := range dataRows {
		values := make(map[string]string, len(table.Headers))
		for idx, header := range table.Headers {
			if idx < len(record) {
				values[header] = strings.TrimSpace(record[idx])
			} else {
				values[header] = ""
			}
		}
		table.Rows = append(table.Rows, Row{Number: len(table.Rows) + 1, Values: values})
	}
	return table, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// sanitizeHeaders trims header cells, names blank ones column_N and suffixes repeats with _2, _3.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func isWrappedSingleColumn(header []string, rows [][]string) bool {
	if len(header) != 1 || !strings.Contains(header[0], ",") {
		return false
	}
	for _, row := range rows {
		if len(row) > 0 && strings.Contains(row[0], ",") {
			return true
		}
	}
	return false
}

// unwrapSingleColumn re-splits a file whose every line was exported as one quoted cell.
func unwrapSingleColumn(header string, rows [][]string) ([]string, [][]string) {
	headerTokens := splitLine(header)
	headers := make([]string, len(headerTokens))
	for i, tok := range headerTokens {
		headers[i] = tok.value
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		var cell string
		if len(row) > 0 {
			cell = row[0]
		}
		out = append(out, rebalance(splitLine(cell), len(headers)))
	}
	return headers, out
}

type token struct {
	raw    string
	value  string
	quoted bool
}

// splitLine tokenizes a comma separated line. Double quotes group commas and "" is a literal quote.
func splitLine(line string) []token {
	var (
		tokens  []token
		current strings.Builder
		quoted  bool
		inQuote bool
	)
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuote && i+1 < len(runes) && runes[i+1] == '"':
			current.WriteRune('"')
			i++
		case r == '"':
			inQuote = !inQuote
			quoted = true
		case r == ',' && !inQuote:
			tokens = append(tokens, newToken(current.String(), quoted))
			current.Reset()
			quoted = false
		default:
			current.WriteRune(r)
		}
	}
	tokens = append(tokens, newToken(current.String(), quoted))
	return tokens
}

func newToken(raw string, quoted bool) token {
	return token{raw: raw, value: strings.TrimSpace(raw), quoted: quoted}
}

// rebalance fits tokens to width fields. Surplus leading tokens of an unquoted first field are
// rejoined into it, short rows are padded, and any tail overflow left is rejoined into the last field.
func rebalance(tokens []token, width int) []string {
	if width <= 0 {
		return nil
	}

	if surplus := len(tokens) - width; surplus > 0 && !tokens[0].quoted {
		parts := make([]string, 0, surplus+1)
		for _, tok := range tokens[:surplus+1] {
			parts = append(parts, tok.raw)
		}
		merged := newToken(strings.Join(parts, ","), false)
		tokens = append([]token{merged}, tokens[surplus+1:]...)
	}

	if len(tokens) > width {
		parts := make([]string, 0, len(tokens)-width+1)
		for _, tok := range tokens[width-1:] {
			parts = append(parts, tok.raw)
		}
		tokens = append(tokens[:width-1], newToken(strings.Join(parts, ","), false))
	}

	values := make([]string, width)
	for i, tok := range tokens {
		values[i] = tok.value
	}
	return values
}
