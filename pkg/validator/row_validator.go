package validator

import (
	"fmt"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/rpattn/opscrm/internal/domain"
)

// Format names a string format checked by the row validator.
type Format string

const (
	FormatNone  Format = ""
	FormatEmail Format = "email"
	FormatURL   Format = "url"
)

// FieldDefinition describes how one lead field is validated.
type FieldDefinition struct {
	Required bool   `json:"required"`
	Format   Format `json:"format,omitempty"`
	// MaxLength produces a warning when exceeded; zero disables the check.
	MaxLength int `json:"max_length,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// String renders the error as a human-readable line.
func (e ValidationError) String() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// ErrorMessages renders blocking errors.
func (r ValidationResult) ErrorMessages() []string {
	return render(r.Errors, "")
}

// WarningMessages renders non-blocking warnings.
func (r ValidationResult) WarningMessages() []string {
	return render(r.Warnings, "warning ")
}

// Reason joins blocking errors into one line suitable for a row reason.
func (r ValidationResult) Reason() string {
	return strings.Join(r.ErrorMessages(), "; ")
}

func render(list []ValidationError, prefix string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, prefix+item.String())
	}
	return out
}

// DefaultLeadDefinitions requires the fields a lead cannot be created without.
func DefaultLeadDefinitions() map[domain.LeadField]FieldDefinition {
	return map[domain.LeadField]FieldDefinition{
		domain.FieldBusinessName: {Required: true, MaxLength: 255},
		domain.FieldPipelineID:   {Required: true},
		domain.FieldStageID:      {Required: true},
		domain.FieldEmail:        {Format: FormatEmail, MaxLength: 320},
		domain.FieldWebsite:      {Format: FormatURL, MaxLength: 2048},
		domain.FieldContactName:  {MaxLength: 255},
		domain.FieldCity:         {MaxLength: 255},
	}
}

// RowValidator validates mapped import rows.
type RowValidator struct {
	definitions map[domain.LeadField]FieldDefinition
	formats     *playground.Validate
}

// NewRowValidator creates a validator using DefaultLeadDefinitions.
func NewRowValidator() *RowValidator {
	return NewRowValidatorWithDefinitions(DefaultLeadDefinitions())
}

// NewRowValidatorWithDefinitions creates a validator for custom field rules.
func NewRowValidatorWithDefinitions(definitions map[domain.LeadField]FieldDefinition) *RowValidator {
	return &RowValidator{
		definitions: definitions,
		formats:     playground.New(),
	}
}

// ValidateMappedRow checks required fields and formats. Format problems are warnings only.
func (v *RowValidator) ValidateMappedRow(row domain.MappedRow) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	for _, field := range domain.KnownLeadFields() {
		def, ok := v.definitions[field]
		if !ok {
			continue
		}
		value := strings.TrimSpace(row.Fields.Get(field))

		if value == "" {
			if def.Required {
				result.IsValid = false
				result.Errors = append(result.Errors, ValidationError{
					Field:   string(field),
					Message: fmt.Sprintf("required field '%s' is missing", field),
				})
			}
			continue
		}

		if msg := v.checkFormat(value, def.Format); msg != "" {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   string(field),
				Message: msg,
				Value:   value,
			})
		}

		if def.MaxLength > 0 && len(value) > def.MaxLength {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   string(field),
				Message: fmt.Sprintf("length %d is greater than maximum %d", len(value), def.MaxLength),
			})
		}
	}

	return result
}

func (v *RowValidator) checkFormat(value string, format Format) string {
	switch format {
	case FormatEmail:
		if err := v.formats.Var(value, "email"); err != nil {
			return fmt.Sprintf("'%s' is not a valid email address", value)
		}
	case FormatURL:
		candidate := value
		if !strings.Contains(candidate, "://") {
			candidate = "http://" + candidate
		}
		if err := v.formats.Var(candidate, "url"); err != nil {
			return fmt.Sprintf("'%s' is not a valid website", value)
		}
	}
	return ""
}
