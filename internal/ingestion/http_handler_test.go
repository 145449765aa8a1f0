package ingestion

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpattn/opscrm/internal/auth"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/httpapi"
	"github.com/rpattn/opscrm/internal/middleware"
	"github.com/rpattn/opscrm/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiClient struct {
	t         *testing.T
	handler   http.Handler
	workspace uuid.UUID
	user      uuid.UUID
}

func newAPIClient(t *testing.T) *apiClient {
	t.Helper()
	store := memstore.New()
	mux := http.NewServeMux()
	NewHTTPHandler(NewService(store), 0).Register(mux)
	return &apiClient{
		t:         t,
		handler:   middleware.ScopeMiddleware(middleware.DataLoaderMiddleware(store.Leads())(mux)),
		workspace: uuid.New(),
		user:      uuid.New(),
	}
}

func (c *apiClient) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	req.Header.Set(auth.HeaderWorkspaceID, c.workspace.String())
	req.Header.Set(auth.HeaderUserID, c.user.String())
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

func (c *apiClient) upload(csv, key string) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", "leads.csv")
	require.NoError(c.t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(c.t, err)
	require.NoError(c.t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/imports", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return c.do(req)
}

func (c *apiClient) jsonRequest(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(c.t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHTTPImportFlow(t *testing.T) {
	c := newAPIClient(t)

	rec := c.upload(acmeCSV+"Acme Services,hello@acme-services.com,Austin\n", "upload-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decode[StartResult](t, rec)
	assert.Equal(t, domain.ImportRunStatusMapping, started.Run.Status)
	assert.Equal(t, 2, started.Run.TotalRows)

	rec = c.upload(acmeCSV, "upload-1")
	require.Equal(t, http.StatusOK, rec.Code)
	replayed := decode[StartResult](t, rec)
	assert.True(t, replayed.Replayed)
	assert.Equal(t, started.Run.ID, replayed.Run.ID)

	base := "/imports/" + started.Run.ID.String()
	rec = c.jsonRequest(http.MethodPut, base+"/mapping", map[string]any{"mapping": leadMapping()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.jsonRequest(http.MethodGet, base+"/preview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[PreviewResult](t, rec)
	assert.Equal(t, domain.ImportRunStatusPreviewReady, preview.Status)
	assert.Len(t, preview.Rows, 2)

	rec = c.jsonRequest(http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[domain.RunSummary](t, rec)
	assert.Equal(t, domain.ImportRunStatusCompleted, summary.Status)
	assert.Equal(t, 1, summary.CreatedCount)
	assert.Equal(t, 1, summary.HardDuplicateCount)

	rec = c.jsonRequest(http.MethodGet, base+"/rows?status=HARD_DUPLICATE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[RowPage](t, rec)
	require.Len(t, page.Rows, 1)
	require.NotNil(t, page.Rows[0].MatchedLead)
	assert.Equal(t, "Acme Services", page.Rows[0].MatchedLead.BusinessName)

	rec = c.jsonRequest(http.MethodPut, base+"/mapping", map[string]any{"mapping": leadMapping()})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, domain.CodeStateConflict, decode[httpapi.ErrorBody](t, rec).Code)
}

func TestHTTPErrors(t *testing.T) {
	c := newAPIClient(t)

	req := httptest.NewRequest(http.MethodGet, "/imports", nil)
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.CodeValidation, decode[httpapi.ErrorBody](t, rec).Code)

	rec = c.jsonRequest(http.MethodGet, "/imports/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = c.jsonRequest(http.MethodGet, "/imports/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.upload("", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	started := decode[StartResult](t, c.upload(acmeCSV, ""))
	base := "/imports/" + started.Run.ID.String()

	rec = c.jsonRequest(http.MethodPut, base+"/mapping", map[string]any{"mapping": map[string]string{"Nope": "email"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[httpapi.ErrorBody](t, rec).Message, "not present in the file")

	rec = c.jsonRequest(http.MethodPut, base+"/mapping", map[string]any{"unknown": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = c.jsonRequest(http.MethodGet, base+"/rows?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "BOGUS"))
}
