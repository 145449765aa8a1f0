package ingestion

import (
	"io"
	"net/http"
	"strings"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/httpapi"
	"github.com/rpattn/opscrm/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultMaxUploadBytes = 32 << 20
	// HeaderIdempotencyKey lets clients retry uploads safely.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Handler exposes the import pipeline over HTTP.
type Handler struct {
	service        *Service
	maxUploadBytes int64
}

// NewHTTPHandler wraps the service. A non-positive maxUploadBytes uses 32MB.
func NewHTTPHandler(service *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{service: service, maxUploadBytes: maxUploadBytes}
}

// Register mounts the import routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /imports", h.handleStart)
	mux.HandleFunc("GET /imports", h.handleListRuns)
	mux.HandleFunc("GET /imports/{runID}", h.handleGetRun)
	mux.HandleFunc("PUT /imports/{runID}/mapping", h.handleMap)
	mux.HandleFunc("GET /imports/{runID}/preview", h.handlePreview)
	mux.HandleFunc("POST /imports/{runID}/preview", h.handlePreview)
	mux.HandleFunc("POST /imports/{runID}/execute", h.handleExecute)
	mux.HandleFunc("GET /imports/{runID}/rows", h.handleListRows)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		httpapi.WriteError(w, r, domain.Validationf("invalid form data: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httpapi.WriteError(w, r, domain.Validationf("file required: %v", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		httpapi.WriteError(w, r, domain.Validationf("failed to read file: %v", err))
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if key == "" {
		key = strings.TrimSpace(r.FormValue("idempotencyKey"))
	}

	result, err := h.service.Start(r.Context(), StartRequest{
		WorkspaceID:    scope.WorkspaceID,
		UploadedBy:     scope.UserID,
		FileName:       header.Filename,
		Data:           data,
		IdempotencyKey: key,
	})
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	httpapi.WriteJSON(w, status, result)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	limit, err := httpapi.QueryInt(r, "limit", 50)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	offset, err := httpapi.QueryInt(r, "offset", 0)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), scope.WorkspaceID, limit, offset)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": limit, "offset": offset})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	scope, runID, ok := h.scopedRun(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), scope.WorkspaceID, runID)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, run)
}

type mappingPayload struct {
	Mapping domain.ColumnMapping `json:"mapping" validate:"required"`
}

func (h *Handler) handleMap(w http.ResponseWriter, r *http.Request) {
	scope, runID, ok := h.scopedRun(w, r)
	if !ok {
		return
	}
	var payload mappingPayload
	if err := httpapi.DecodeJSON(r, &payload); err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	run, err := h.service.Map(r.Context(), scope.WorkspaceID, runID, payload.Mapping)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, run)
}

// handlePreview serves the stored mapping on GET and a candidate mapping posted in the body on POST.
func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	scope, runID, ok := h.scopedRun(w, r)
	if !ok {
		return
	}
	var mapping domain.ColumnMapping
	if r.Method == http.MethodPost {
		var payload mappingPayload
		if err := httpapi.DecodeJSON(r, &payload); err != nil {
			httpapi.WriteError(w, r, err)
			return
		}
		mapping = payload.Mapping
	}
	preview, err := h.service.Preview(r.Context(), scope.WorkspaceID, runID, mapping)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	scope, runID, ok := h.scopedRun(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Execute(r.Context(), scope.WorkspaceID, runID)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListRows(w http.ResponseWriter, r *http.Request) {
	scope, runID, ok := h.scopedRun(w, r)
	if !ok {
		return
	}
	filter, err := rowFilterFromQuery(r)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	page, err := h.service.ListRows(r.Context(), scope.WorkspaceID, runID, filter)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) scopedRun(w http.ResponseWriter, r *http.Request) (auth.Scope, uuid.UUID, bool) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return auth.Scope{}, uuid.Nil, false
	}
	runID, err := httpapi.PathUUID(r, "runID")
	if err != nil {
		httpapi.WriteError(w, r, err)
		return auth.Scope{}, uuid.Nil, false
	}
	return scope, runID, true
}

// rowFilterFromQuery reads status (repeatable or comma separated), limit and offset.
func rowFilterFromQuery(r *http.Request) (repository.RowFilter, error) {
	var filter repository.RowFilter
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			status := domain.ImportRowStatus(part)
			if !status.Valid() {
				return filter, domain.Validationf("unknown row status %q", part)
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	var err error
	if filter.Limit, err = httpapi.QueryInt(r, "limit", 100); err != nil {
		return filter, err
	}
	if filter.Offset, err = httpapi.QueryInt(r, "offset", 0); err != nil {
		return filter, err
	}
	if filter.Limit > 500 {
		return filter, domain.Validationf("limit must be at most 500, got %d", filter.Limit)
	}
	return filter, nil
}
