package tabular

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/normalize"
)

// synonyms maps a normalized header to the lead field it most likely holds.
var synonyms = map[string]domain.LeadField{
	"businessname":  domain.FieldBusinessName,
	"business":      domain.FieldBusinessName,
	"company":       domain.FieldBusinessName,
	"companyname":   domain.FieldBusinessName,
	"organization":  domain.FieldBusinessName,
	"organisation":  domain.FieldBusinessName,
	"name":          domain.FieldBusinessName,
	"contactname":   domain.FieldContactName,
	"contact":       domain.FieldContactName,
	"fullname":      domain.FieldContactName,
	"contactperson": domain.FieldContactName,
	"owner":         domain.FieldContactName,
	"email":         domain.FieldEmail,
	"emailaddress":  domain.FieldEmail,
	"mail":          domain.FieldEmail,
	"email1":        domain.FieldEmail,
	"phone":         domain.FieldPhone,
	"phonenumber":   domain.FieldPhone,
	"telephone":     domain.FieldPhone,
	"tel":           domain.FieldPhone,
	"mobile":        domain.FieldPhone,
	"cell":          domain.FieldPhone,
	"phone1":        domain.FieldPhone,
	"website":       domain.FieldWebsite,
	"url":           domain.FieldWebsite,
	"site":          domain.FieldWebsite,
	"web":           domain.FieldWebsite,
	"domain":        domain.FieldWebsite,
	"websiteurl":    domain.FieldWebsite,
	"homepage":      domain.FieldWebsite,
	"city":          domain.FieldCity,
	"town":          domain.FieldCity,
	"locality":      domain.FieldCity,
	"source":        domain.FieldSource,
	"leadsource":    domain.FieldSource,
	"niche":         domain.FieldNiche,
	"industry":      domain.FieldNiche,
	"category":      domain.FieldNiche,
	"vertical":      domain.FieldNiche,
	"pipeline":      domain.FieldPipelineID,
	"pipelineid":    domain.FieldPipelineID,
	"stage":         domain.FieldStageID,
	"stageid":       domain.FieldStageID,
}

// NormalizeHeader lowercases a header and strips everything but letters and digits.
func NormalizeHeader(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(header) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultMapping guesses a destination for every header. Each known field is claimed by the first
// header that matches it; later matches and unknown headers go to custom:<normalizedHeader>.
func DefaultMapping(headers []string) domain.ColumnMapping {
	mapping := make(domain.ColumnMapping, len(headers))
	claimed := make(map[domain.LeadField]bool)
	for _, header := range headers {
		norm := NormalizeHeader(header)
		if field, ok := synonyms[norm]; ok && !claimed[field] {
			claimed[field] = true
			mapping[header] = string(field)
			continue
		}
		if norm == "" {
			mapping[header] = ""
			continue
		}
		mapping[header] = domain.CustomPrefix + norm
	}
	return mapping
}

// ValidateMapping checks that every key names a column of the file or a $default: field,
// and that every destination is a known field, custom:<key> or empty.
func ValidateMapping(mapping domain.ColumnMapping, headers []string) error {
	if len(mapping) == 0 {
		return domain.Validationf("column mapping is empty")
	}
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	var problems []string
	for _, key := range mapping.Keys() {
		dest := strings.TrimSpace(mapping[key])
		if strings.HasPrefix(key, domain.DefaultPrefix) {
			field := domain.LeadField(strings.TrimPrefix(key, domain.DefaultPrefix))
			if !field.IsKnown() {
				problems = append(problems, "default key "+key+" does not name a lead field")
			}
			continue
		}
		if !known[key] {
			problems = append(problems, "column "+key+" is not present in the file")
			continue
		}
		switch {
		case dest == "":
		case strings.HasPrefix(dest, domain.CustomPrefix):
			if strings.TrimSpace(strings.TrimPrefix(dest, domain.CustomPrefix)) == "" {
				problems = append(problems, "column "+key+" maps to an empty custom key")
			}
		case !domain.LeadField(dest).IsKnown():
			problems = append(problems, "column "+key+" maps to unknown field "+dest)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return domain.Validationf("invalid column mapping: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Apply maps one raw row through mapping. Columns are visited in header order so the first
// non-empty value wins when several columns target one field; $default: values fill what is
// still empty afterwards.
func Apply(mapping domain.ColumnMapping, headers []string, raw map[string]string) domain.MappedRow {
	var row domain.MappedRow
	for _, header := range headers {
		dest := strings.TrimSpace(mapping[header])
		value := strings.TrimSpace(raw[header])
		if dest == "" || value == "" {
			continue
		}
		if strings.HasPrefix(dest, domain.CustomPrefix) {
			key := strings.TrimPrefix(dest, domain.CustomPrefix)
			if key == "" {
				continue
			}
			if row.CustomData == nil {
				row.CustomData = make(map[string]string)
			}
			if _, exists := row.CustomData[key]; !exists {
				row.CustomData[key] = value
			}
			continue
		}
		field := domain.LeadField(dest)
		if row.Fields.Get(field) == "" {
			row.Fields.Set(field, value)
		}
	}

	for field, value := range mapping.Defaults() {
		value = strings.TrimSpace(value)
		if value != "" && row.Fields.Get(field) == "" {
			row.Fields.Set(field, value)
		}
	}
	return row
}

// MapAndNormalize applies mapping and derives the comparison keys of the result.
func MapAndNormalize(mapping domain.ColumnMapping, headers []string, raw map[string]string) (domain.MappedRow, domain.NormalizedKeys) {
	mapped := Apply(mapping, headers, raw)
	return mapped, normalize.Fields(mapped.Fields)
}
