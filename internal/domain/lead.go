package domain

import (
	"time"

	"github.com/google/uuid"
)

// LeadStatus captures lifecycle state for a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "NEW"
	LeadStatusContacted LeadStatus = "CONTACTED"
	LeadStatusQualified LeadStatus = "QUALIFIED"
	LeadStatusWon       LeadStatus = "WON"
	LeadStatusLost      LeadStatus = "LOST"
	LeadStatusMerged    LeadStatus = "MERGED"
)

// Lead is the canonical contact/opportunity record.
type Lead struct {
	ID               uuid.UUID         `json:"id"`
	WorkspaceID      uuid.UUID         `json:"workspace_id"`
	BusinessName     string            `json:"business_name"`
	ContactName      string            `json:"contact_name,omitempty"`
	Email            string            `json:"email,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	Website          string            `json:"website,omitempty"`
	City             string            `json:"city,omitempty"`
	Source           string            `json:"source,omitempty"`
	Niche            string            `json:"niche,omitempty"`
	PipelineID       string            `json:"pipeline_id,omitempty"`
	StageID          string            `json:"stage_id,omitempty"`
	CustomData       map[string]string `json:"custom_data,omitempty"`
	Normalized       NormalizedKeys    `json:"normalized"`
	Status           LeadStatus        `json:"status"`
	MergedIntoLeadID *uuid.UUID        `json:"merged_into_lead_id,omitempty"`
	ImportRunID      *uuid.UUID        `json:"import_run_id,omitempty"`
	ArchivedAt       *time.Time        `json:"archived_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewLeadFromMappedRow builds a NEW lead from mapped import data and its normalized keys.
func NewLeadFromMappedRow(workspaceID uuid.UUID, importRunID *uuid.UUID, row MappedRow, keys NormalizedKeys) Lead {
	now := time.Now().UTC()
	lead := Lead{
		ID:           uuid.New(),
		WorkspaceID:  workspaceID,
		BusinessName: row.Fields.BusinessName,
		ContactName:  row.Fields.ContactName,
		Email:        row.Fields.Email,
		Phone:        row.Fields.Phone,
		Website:      row.Fields.Website,
		City:         row.Fields.City,
		Source:       row.Fields.Source,
		Niche:        row.Fields.Niche,
		PipelineID:   row.Fields.PipelineID,
		StageID:      row.Fields.StageID,
		CustomData:   copyStrings(row.CustomData),
		Normalized:   keys,
		Status:       LeadStatusNew,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if importRunID != nil {
		id := *importRunID
		lead.ImportRunID = &id
	}
	return lead
}

// Field returns the display value of a mergeable field.
func (l Lead) Field(field LeadField) string {
	return l.KnownFields().Get(field)
}

// WithField returns a copy of the lead with one display field replaced.
func (l Lead) WithField(field LeadField, value string) Lead {
	fields := l.KnownFields()
	fields.Set(field, value)
	out := l
	out.BusinessName = fields.BusinessName
	out.ContactName = fields.ContactName
	out.Email = fields.Email
	out.Phone = fields.Phone
	out.Website = fields.Website
	out.City = fields.City
	out.Source = fields.Source
	out.Niche = fields.Niche
	out.CustomData = copyStrings(l.CustomData)
	return out
}

// KnownFields projects the lead display fields into the mapped-row shape.
func (l Lead) KnownFields() KnownFields {
	return KnownFields{
		BusinessName: l.BusinessName,
		ContactName:  l.ContactName,
		Email:        l.Email,
		Phone:        l.Phone,
		Website:      l.Website,
		City:         l.City,
		Source:       l.Source,
		Niche:        l.Niche,
		PipelineID:   l.PipelineID,
		StageID:      l.StageID,
	}
}

// IsMerged reports whether the lead has been absorbed into another lead.
func (l Lead) IsMerged() bool {
	return l.MergedIntoLeadID != nil || l.Status == LeadStatusMerged
}

// IsArchived reports whether the lead is archived.
func (l Lead) IsArchived() bool {
	return l.ArchivedAt != nil
}

// Matchable reports whether the lead participates in duplicate and merge lookups.
func (l Lead) Matchable() bool {
	return !l.IsMerged() && !l.IsArchived()
}

func copyStrings(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
