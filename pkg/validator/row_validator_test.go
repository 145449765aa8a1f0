package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rpattn/opscrm/internal/domain"
)

func TestRowValidatorRequiresBusinessPipelineAndStage(t *testing.T) {
	v := NewRowValidator()

	result := v.ValidateMappedRow(domain.MappedRow{})
	assert.False(t, result.IsValid)
	assert.Len(t, result.Errors, 3)
	assert.Equal(t, []string{
		"businessName: required field 'businessName' is missing",
		"pipelineId: required field 'pipelineId' is missing",
		"stageId: required field 'stageId' is missing",
	}, result.ErrorMessages())

	result = v.ValidateMappedRow(domain.MappedRow{Fields: domain.KnownFields{
		BusinessName: "Acme",
		PipelineID:   "sales",
		StageID:      "new",
	}})
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Reason())
}

func TestRowValidatorWhitespaceIsMissing(t *testing.T) {
	v := NewRowValidator()
	result := v.ValidateMappedRow(domain.MappedRow{Fields: domain.KnownFields{
		BusinessName: "   ",
		PipelineID:   "sales",
		StageID:      "new",
	}})
	assert.False(t, result.IsValid)
	assert.Equal(t, "businessName: required field 'businessName' is missing", result.Reason())
}

func TestRowValidatorFormatProblemsAreWarnings(t *testing.T) {
	v := NewRowValidator()
	result := v.ValidateMappedRow(domain.MappedRow{Fields: domain.KnownFields{
		BusinessName: "Acme",
		PipelineID:   "sales",
		StageID:      "new",
		Email:        "not-an-email",
		Website:      "acme.com",
	}})
	assert.True(t, result.IsValid)
	assert.Equal(t, []string{"warning email: 'not-an-email' is not a valid email address"}, result.WarningMessages())
}
