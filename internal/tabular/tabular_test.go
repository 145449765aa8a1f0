package tabular

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/opscrm/internal/domain"
)

func TestParseCSVSkipsBlankLinesAndStripsBOM(t *testing.T) {
	payload := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Company,Email\n\nAcme,hello@acme.com\n,\nBeta,\n")...)

	table, err := ParseCSV(payload)
	require.NoError(t, err)
	assert.False(t, table.Repaired)
	assert.Equal(t, []string{"Company", "Email"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 1, table.Rows[0].Number)
	assert.Equal(t, "hello@acme.com", table.Rows[0].Values["Email"])
	assert.Equal(t, 2, table.Rows[1].Number)
	assert.Equal(t, "", table.Rows[1].Values["Email"])
}

func TestParseCSVDedupesHeaders(t *testing.T) {
	table, err := ParseCSV([]byte("Email,Email,,Phone\na,b,c,d\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Email", "Email_2", "column_3", "Phone"}, table.Headers)
	assert.Equal(t, "b", table.Rows[0].Values["Email_2"])
	assert.Equal(t, "c", table.Rows[0].Values["column_3"])
}

func TestParseCSVEmpty(t *testing.T) {
	_, err := ParseCSV([]byte("\n\n"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestParseCSVWrappedSingleColumn(t *testing.T) {
	payload := []byte(`"Company,Email,City"
"""Acme, Inc"",hello@acme.com,Austin"
"Beta LLC,beta@example.com"
`)
	table, err := ParseCSV(payload)
	require.NoError(t, err)
	assert.True(t, table.Repaired)
	assert.Equal(t, []string{"Company", "Email", "City"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, map[string]string{"Company": "Acme, Inc", "Email": "hello@acme.com", "City": "Austin"}, table.Rows[0].Values)
	assert.Equal(t, map[string]string{"Company": "Beta LLC", "Email": "beta@example.com", "City": ""}, table.Rows[1].Values)
}

func TestParseCSVSingleColumnWithoutCommasIsLeftAlone(t *testing.T) {
	table, err := ParseCSV([]byte("Company\nAcme\n"))
	require.NoError(t, err)
	assert.False(t, table.Repaired)
	assert.Equal(t, []string{"Company"}, table.Headers)
}

func TestRebalance(t *testing.T) {
	// surplus leading tokens are rejoined into the unquoted first field
	got := rebalance(splitLine("Acme, Widgets, Inc,hello@acme.com,Austin"), 3)
	assert.Equal(t, []string{"Acme, Widgets, Inc", "hello@acme.com", "Austin"}, got)

	// a quoted first field is a real boundary so the tail absorbs the overflow
	got = rebalance(splitLine(`"Acme",hello@acme.com,Austin, TX`), 3)
	assert.Equal(t, []string{"Acme", "hello@acme.com", "Austin, TX"}, got)

	got = rebalance(splitLine("Acme"), 3)
	assert.Equal(t, []string{"Acme", "", ""}, got)
}

func TestSplitLineDoubledQuote(t *testing.T) {
	tokens := splitLine(`"Say ""hi"", friend",x`)
	require.Len(t, tokens, 2)
	assert.Equal(t, `Say "hi", friend`, tokens[0].value)
	assert.True(t, tokens[0].quoted)
	assert.Equal(t, "x", tokens[1].value)
}

func TestToCSVConvertsFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Company", "Email"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Acme, Inc", "hello@acme.com"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	out, err := ToCSV("leads.xlsx", buf.Bytes())
	require.NoError(t, err)

	table, err := ParseCSV(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"Company", "Email"}, table.Headers)
	assert.Equal(t, "Acme, Inc", table.Rows[0].Values["Company"])
}

func TestToCSVRejectsUnknownExtension(t *testing.T) {
	_, err := ToCSV("leads.pdf", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestDefaultMapping(t *testing.T) {
	mapping := DefaultMapping([]string{"Company Name", "E-mail", "Telephone", "Industry", "Web Site", "Favourite Colour", "Company", "###"})
	assert.Equal(t, domain.ColumnMapping{
		"Company Name":     "businessName",
		"E-mail":           "email",
		"Telephone":        "phone",
		"Industry":         "niche",
		"Web Site":         "website",
		"Favourite Colour": "custom:favouritecolour",
		"Company":          "custom:company",
		"###":              "",
	}, mapping)
}

func TestApplyMapping(t *testing.T) {
	headers := []string{"Company", "Mail", "Colour", "Ignored"}
	mapping := domain.ColumnMapping{
		"Company":             "businessName",
		"Mail":                "email",
		"Colour":              "custom:colour",
		"Ignored":             "",
		"$default:pipelineId": "sales",
		"$default:stageId":    "new",
	}
	row := Apply(mapping, headers, map[string]string{
		"Company": " Acme ",
		"Mail":    "hello@acme.com",
		"Colour":  "blue",
		"Ignored": "x",
	})
	assert.Equal(t, domain.KnownFields{
		BusinessName: "Acme",
		Email:        "hello@acme.com",
		PipelineID:   "sales",
		StageID:      "new",
	}, row.Fields)
	assert.Equal(t, map[string]string{"colour": "blue"}, row.CustomData)
}

func TestApplyMappingColumnBeatsDefault(t *testing.T) {
	row := Apply(domain.ColumnMapping{"Stage": "stageId", "$default:stageId": "new"}, []string{"Stage"}, map[string]string{"Stage": "won"})
	assert.Equal(t, "won", row.Fields.StageID)
}

func TestMapAndNormalizeIsIdempotent(t *testing.T) {
	headers := []string{"Company", "Email", "City"}
	raw := map[string]string{"Company": "Acme Services LLC", "Email": "Hello@Acme-Services.com", "City": "Austin"}
	mapping := DefaultMapping(headers)

	m1, k1 := MapAndNormalize(mapping, headers, raw)
	m2, k2 := MapAndNormalize(mapping, headers, raw)
	assert.Equal(t, m1, m2)
	assert.Equal(t, k1, k2)
	assert.Equal(t, "acme-services.com", k1.Domain)
	assert.Equal(t, "acme services", k1.Name)
}

func TestValidateMapping(t *testing.T) {
	headers := []string{"Company", "Email"}
	require.NoError(t, ValidateMapping(domain.ColumnMapping{
		"Company":             "businessName",
		"Email":               "custom:contact_email",
		"$default:pipelineId": "p1",
	}, headers))

	err := ValidateMapping(domain.ColumnMapping{
		"Company":         "favouriteField",
		"Missing":         "email",
		"Email":           "custom:",
		"$default:colour": "x",
	}, headers)
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
	assert.Contains(t, err.Error(), "unknown field favouriteField")
	assert.Contains(t, err.Error(), "column Missing is not present")
	assert.Contains(t, err.Error(), "empty custom key")
	assert.Contains(t, err.Error(), "$default:colour")

	assert.Error(t, ValidateMapping(domain.ColumnMapping{}, headers))
}
