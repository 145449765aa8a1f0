package domain

import (
	"sort"
	"strings"
)

// LeadField names a destination field a column can be mapped onto.
type LeadField string

const (
	FieldBusinessName LeadField = "businessName"
	FieldContactName  LeadField = "contactName"
	FieldEmail        LeadField = "email"
	FieldPhone        LeadField = "phone"
	FieldWebsite      LeadField = "website"
	FieldCity         LeadField = "city"
	FieldSource       LeadField = "source"
	FieldNiche        LeadField = "niche"
	FieldPipelineID   LeadField = "pipelineId"
	FieldStageID      LeadField = "stageId"
)

const (
	// CustomPrefix routes a column into the custom-fields bag.
	CustomPrefix = "custom:"
	// DefaultPrefix marks a mapping key that carries a static value instead of a column name.
	DefaultPrefix = "$default:"
)

var knownFields = []LeadField{
	FieldBusinessName,
	FieldContactName,
	FieldEmail,
	FieldPhone,
	FieldWebsite,
	FieldCity,
	FieldSource,
	FieldNiche,
	FieldPipelineID,
	FieldStageID,
}

// MergeableFields are the lead display fields a merge may reconcile.
var MergeableFields = []LeadField{
	FieldBusinessName,
	FieldContactName,
	FieldEmail,
	FieldPhone,
	FieldWebsite,
	FieldCity,
	FieldSource,
	FieldNiche,
}

// KnownLeadFields returns every mappable destination field in a stable order.
func KnownLeadFields() []LeadField {
	return append([]LeadField(nil), knownFields...)
}

// IsKnown reports whether the field is one of the fixed lead fields.
func (f LeadField) IsKnown() bool {
	for _, known := range knownFields {
		if known == f {
			return true
		}
	}
	return false
}

// ColumnMapping maps a raw header (or a $default: pseudo-key) to a destination.
// Destinations are a LeadField name, "custom:<key>", or empty to ignore the column.
type ColumnMapping map[string]string

// Clone returns an independent copy of the mapping.
func (m ColumnMapping) Clone() ColumnMapping {
	if m == nil {
		return ColumnMapping{}
	}
	out := make(ColumnMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Defaults returns the static values carried by $default: keys, keyed by field.
func (m ColumnMapping) Defaults() map[LeadField]string {
	defaults := make(map[LeadField]string)
	for key, value := range m {
		if !strings.HasPrefix(key, DefaultPrefix) {
			continue
		}
		defaults[LeadField(strings.TrimPrefix(key, DefaultPrefix))] = value
	}
	return defaults
}

// Keys returns mapping keys sorted for deterministic iteration.
func (m ColumnMapping) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KnownFields is the statically typed part of a mapped row.
type KnownFields struct {
	BusinessName string `json:"businessName,omitempty"`
	ContactName  string `json:"contactName,omitempty"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Website      string `json:"website,omitempty"`
	City         string `json:"city,omitempty"`
	Source       string `json:"source,omitempty"`
	Niche        string `json:"niche,omitempty"`
	PipelineID   string `json:"pipelineId,omitempty"`
	StageID      string `json:"stageId,omitempty"`
}

// Get returns the value of a known field.
func (k KnownFields) Get(field LeadField) string {
	switch field {
	case FieldBusinessName:
		return k.BusinessName
	case FieldContactName:
		return k.ContactName
	case FieldEmail:
		return k.Email
	case FieldPhone:
		return k.Phone
	case FieldWebsite:
		return k.Website
	case FieldCity:
		return k.City
	case FieldSource:
		return k.Source
	case FieldNiche:
		return k.Niche
	case FieldPipelineID:
		return k.PipelineID
	case FieldStageID:
		return k.StageID
	}
	return ""
}

// Set assigns a known field; unknown fields are ignored and reported as false.
func (k *KnownFields) Set(field LeadField, value string) bool {
	switch field {
	case FieldBusinessName:
		k.BusinessName = value
	case FieldContactName:
		k.ContactName = value
	case FieldEmail:
		k.Email = value
	case FieldPhone:
		k.Phone = value
	case FieldWebsite:
		k.Website = value
	case FieldCity:
		k.City = value
	case FieldSource:
		k.Source = value
	case FieldNiche:
		k.Niche = value
	case FieldPipelineID:
		k.PipelineID = value
	case FieldStageID:
		k.StageID = value
	default:
		return false
	}
	return true
}

// MappedRow is the result of applying a ColumnMapping to one raw row.
type MappedRow struct {
	Fields     KnownFields       `json:"fields"`
	CustomData map[string]string `json:"customData,omitempty"`
}

// NormalizedKeys holds the comparison keys derived from a row or lead.
// An empty string means the key is absent.
type NormalizedKeys struct {
	Email  string `json:"emailNorm,omitempty"`
	Phone  string `json:"phoneNorm,omitempty"`
	Domain string `json:"domainNorm,omitempty"`
	Name   string `json:"nameNorm,omitempty"`
	City   string `json:"cityNorm,omitempty"`
}

// IsZero reports whether no key is present.
func (n NormalizedKeys) IsZero() bool {
	return n == NormalizedKeys{}
}
