package merge

import (
	"net/http"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/httpapi"

	"github.com/google/uuid"
)

// Handler exposes resolution and merge over HTTP.
type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the merge routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /import-rows/{rowID}/resolve", h.handleResolve)
	mux.HandleFunc("POST /leads/{leadID}/merge", h.handleMerge)
	mux.HandleFunc("GET /leads/{leadID}/merge-logs", h.handleListMergeLogs)
}

type resolvePayload struct {
	Action        string            `json:"action" validate:"required,oneof=SKIP CREATE LINK_EXISTING MERGE"`
	MatchedLeadID *string           `json:"matchedLeadId" validate:"omitempty,uuid"`
	ChosenFields  map[string]string `json:"chosenFields" validate:"omitempty,dive,oneof=existing incoming"`
	Reason        string            `json:"reason" validate:"max=1000"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	rowID, err := httpapi.PathUUID(r, "rowID")
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	var payload resolvePayload
	if err := httpapi.DecodeJSON(r, &payload); err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	req := ResolveRequest{
		WorkspaceID:  scope.WorkspaceID,
		UserID:       scope.UserID,
		RowID:        rowID,
		Action:       domain.ResolutionAction(payload.Action),
		ChosenFields: toChosenFields(payload.ChosenFields),
		Reason:       payload.Reason,
	}
	if payload.MatchedLeadID != nil {
		id := uuid.MustParse(*payload.MatchedLeadID)
		req.MatchedLeadID = &id
	}

	result, err := h.service.ResolveSoftDuplicate(r.Context(), req)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

type mergePayload struct {
	MergedLeadID string            `json:"mergedLeadId" validate:"required,uuid"`
	ChosenFields map[string]string `json:"chosenFields" validate:"omitempty,dive,oneof=existing incoming"`
	Reason       string            `json:"reason" validate:"max=1000"`
	ImportRunID  *string           `json:"importRunId" validate:"omitempty,uuid"`
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	primaryID, err := httpapi.PathUUID(r, "leadID")
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	var payload mergePayload
	if err := httpapi.DecodeJSON(r, &payload); err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	req := MergeRequest{
		WorkspaceID:   scope.WorkspaceID,
		UserID:        scope.UserID,
		PrimaryLeadID: primaryID,
		MergedLeadID:  uuid.MustParse(payload.MergedLeadID),
		ChosenFields:  toChosenFields(payload.ChosenFields),
		Reason:        payload.Reason,
	}
	if payload.ImportRunID != nil {
		id := uuid.MustParse(*payload.ImportRunID)
		req.ImportRunID = &id
	}

	result, err := h.service.MergeLeadRecords(r.Context(), req)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListMergeLogs(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	leadID, err := httpapi.PathUUID(r, "leadID")
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	entries, err := h.service.ListMergeLogs(r.Context(), scope.WorkspaceID, leadID)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	views, err := MergeLogViews(entries)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"merge_logs": views})
}

func toChosenFields(in map[string]string) domain.ChosenFields {
	if len(in) == 0 {
		return nil
	}
	out := make(domain.ChosenFields, len(in))
	for field, choice := range in {
		out[domain.LeadField(field)] = domain.FieldChoice(choice)
	}
	return out
}
