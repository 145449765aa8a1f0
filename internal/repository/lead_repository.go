package repository

import (
	"context"
	"fmt"

	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

type leadRepository struct {
	db dbtx
}

var leadColumnList = []string{
	"id", "workspace_id", "business_name", "contact_name", "email", "phone", "website", "city",
	"source", "niche", "pipeline_id", "stage_id", "custom_data",
	"email_norm", "phone_norm", "domain_norm", "name_norm", "city_norm",
	"status", "merged_into_lead_id", "import_run_id", "archived_at", "created_at", "updated_at",
}

const leadColumns = `id, workspace_id, business_name, contact_name, email, phone, website, city,
	source, niche, pipeline_id, stage_id, custom_data,
	email_norm, phone_norm, domain_norm, name_norm, city_norm,
	status, merged_into_lead_id, import_run_id, archived_at, created_at, updated_at`

func scanLead(row pgx.Row) (domain.Lead, error) {
	var (
		lead                                                 domain.Lead
		contactName, email, phone, website, city             pgtype.Text
		source, niche, pipelineID, stageID                   pgtype.Text
		emailNorm, phoneNorm, domainNorm, nameNorm, cityNorm pgtype.Text
		status                                               string
		mergedInto, importRunID                              pgtype.UUID
		archivedAt                                           pgtype.Timestamptz
	)
	if err := row.Scan(
		&lead.ID,
		&lead.WorkspaceID,
		&lead.BusinessName,
		&contactName,
		&email,
		&phone,
		&website,
		&city,
		&source,
		&niche,
		&pipelineID,
		&stageID,
		&lead.CustomData,
		&emailNorm,
		&phoneNorm,
		&domainNorm,
		&nameNorm,
		&cityNorm,
		&status,
		&mergedInto,
		&importRunID,
		&archivedAt,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	); err != nil {
		return domain.Lead{}, err
	}
	lead.ContactName = contactName.String
	lead.Email = email.String
	lead.Phone = phone.String
	lead.Website = website.String
	lead.City = city.String
	lead.Source = source.String
	lead.Niche = niche.String
	lead.PipelineID = pipelineID.String
	lead.StageID = stageID.String
	lead.Normalized = domain.NormalizedKeys{
		Email:  emailNorm.String,
		Phone:  phoneNorm.String,
		Domain: domainNorm.String,
		Name:   nameNorm.String,
		City:   cityNorm.String,
	}
	lead.Status = domain.LeadStatus(status)
	lead.MergedIntoLeadID = uuidPtr(mergedInto)
	lead.ImportRunID = uuidPtr(importRunID)
	lead.ArchivedAt = timePtr(archivedAt)
	if len(lead.CustomData) == 0 {
		lead.CustomData = nil
	}
	return lead, nil
}

func collectLeads(rows pgx.Rows) ([]domain.Lead, error) {
	defer rows.Close()

	leads := make([]domain.Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leads: %w", err)
	}
	return leads, nil
}

func customDataArg(data map[string]string) map[string]string {
	if data == nil {
		return map[string]string{}
	}
	return data
}

func (r *leadRepository) Create(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	var archivedAt pgtype.Timestamptz
	if lead.ArchivedAt != nil {
		archivedAt = pgtype.Timestamptz{Time: *lead.ArchivedAt, Valid: true}
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("leads")
	ib.Cols(leadColumnList...)
	ib.Values(
		lead.ID,
		lead.WorkspaceID,
		lead.BusinessName,
		nullText(lead.ContactName),
		nullText(lead.Email),
		nullText(lead.Phone),
		nullText(lead.Website),
		nullText(lead.City),
		nullText(lead.Source),
		nullText(lead.Niche),
		nullText(lead.PipelineID),
		nullText(lead.StageID),
		customDataArg(lead.CustomData),
		nullText(lead.Normalized.Email),
		nullText(lead.Normalized.Phone),
		nullText(lead.Normalized.Domain),
		nullText(lead.Normalized.Name),
		nullText(lead.Normalized.City),
		string(lead.Status),
		nullUUID(lead.MergedIntoLeadID),
		nullUUID(lead.ImportRunID),
		archivedAt,
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	ib.SQL("RETURNING " + leadColumns)

	query, args := ib.Build()
	created, err := scanLead(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Lead{}, fmt.Errorf("failed to create lead: %w", err)
	}
	return created, nil
}

func (r *leadRepository) GetByID(ctx context.Context, workspaceID, id uuid.UUID) (domain.Lead, error) {
	lead, err := scanLead(r.db.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1 AND workspace_id = $2`, id, workspaceID,
	))
	if err != nil {
		return domain.Lead{}, notFoundOr(err, "lead %s", id)
	}
	return lead, nil
}

// GetByIDs returns the workspace leads among ids; missing ids are omitted.
func (r *leadRepository) GetByIDs(ctx context.Context, workspaceID uuid.UUID, ids []uuid.UUID) ([]domain.Lead, error) {
	if len(ids) == 0 {
		return []domain.Lead{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumnList...)
	sb.From("leads")
	sb.Where(
		sb.Equal("workspace_id", workspaceID),
		sb.In("id", sqlbuilder.Flatten(ids)...),
	)

	query, args := sb.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get leads by IDs: %w", err)
	}
	return collectLeads(rows)
}

// Update rewrites every mutable column of the lead.
func (r *leadRepository) Update(ctx context.Context, lead domain.Lead) (domain.Lead, error) {
	var archivedAt pgtype.Timestamptz
	if lead.ArchivedAt != nil {
		archivedAt = pgtype.Timestamptz{Time: *lead.ArchivedAt, Valid: true}
	}

	updated, err := scanLead(r.db.QueryRow(ctx,
		`UPDATE leads
		 SET business_name = $3, contact_name = $4, email = $5, phone = $6, website = $7, city = $8,
		     source = $9, niche = $10, pipeline_id = $11, stage_id = $12, custom_data = $13,
		     email_norm = $14, phone_norm = $15, domain_norm = $16, name_norm = $17, city_norm = $18,
		     status = $19, merged_into_lead_id = $20, archived_at = $21, updated_at = NOW()
		 WHERE id = $1 AND workspace_id = $2
		 RETURNING `+leadColumns,
		lead.ID,
		lead.WorkspaceID,
		lead.BusinessName,
		nullText(lead.ContactName),
		nullText(lead.Email),
		nullText(lead.Phone),
		nullText(lead.Website),
		nullText(lead.City),
		nullText(lead.Source),
		nullText(lead.Niche),
		nullText(lead.PipelineID),
		nullText(lead.StageID),
		customDataArg(lead.CustomData),
		nullText(lead.Normalized.Email),
		nullText(lead.Normalized.Phone),
		nullText(lead.Normalized.Domain),
		nullText(lead.Normalized.Name),
		nullText(lead.Normalized.City),
		string(lead.Status),
		nullUUID(lead.MergedIntoLeadID),
		archivedAt,
	))
	if err != nil {
		return domain.Lead{}, notFoundOr(err, "lead %s", lead.ID)
	}
	return updated, nil
}

func (r *leadRepository) FindLookupPool(ctx context.Context, workspaceID uuid.UUID, lookup LeadLookup) ([]domain.Lead, error) {
	if lookup.Empty() {
		return []domain.Lead{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(leadColumnList...)
	sb.From("leads")

	var matches []string
	if len(lookup.Emails) > 0 {
		matches = append(matches, sb.In("email_norm", sqlbuilder.Flatten(lookup.Emails)...))
	}
	if len(lookup.Phones) > 0 {
		matches = append(matches, sb.In("phone_norm", sqlbuilder.Flatten(lookup.Phones)...))
	}
	if len(lookup.Domains) > 0 {
		matches = append(matches, sb.In("domain_norm", sqlbuilder.Flatten(lookup.Domains)...))
	}
	if len(lookup.Cities) > 0 {
		soft := sb.In("city_norm", sqlbuilder.Flatten(lookup.Cities)...)
		if len(lookup.Names) > 0 {
			soft = sb.And(sb.In("name_norm", sqlbuilder.Flatten(lookup.Names)...), soft)
		}
		matches = append(matches, soft)
	}

	sb.Where(
		sb.Equal("workspace_id", workspaceID),
		sb.IsNull("merged_into_lead_id"),
		sb.IsNull("archived_at"),
		sb.Or(matches...),
	)
	sb.OrderBy("created_at", "id").Asc()

	query, args := sb.Build()
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find lead lookup pool: %w", err)
	}
	return collectLeads(rows)
}
