package export

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/httpapi"
)

type Handler struct {
	service *Service
}

func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register mounts the report route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /imports/{runID}/report", h.handleDownload)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	scope, err := auth.RequireScope(r.Context())
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	runID, err := httpapi.PathUUID(r, "runID")
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	var buf bytes.Buffer
	report, err := h.service.WriteReport(r.Context(), scope.WorkspaceID, runID, format, &buf)
	if err != nil {
		httpapi.WriteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName))
	http.ServeContent(w, r, report.FileName, report.ModifiedAt, bytes.NewReader(buf.Bytes()))
}
