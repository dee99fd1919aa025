package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recstore/internal/backend"
	"github.com/roach88/recstore/internal/catalog"
	"github.com/roach88/recstore/internal/config"
	"github.com/roach88/recstore/internal/importer"
	"github.com/roach88/recstore/internal/manager"
	"github.com/roach88/recstore/internal/schema"
)

func newTestAPI(t *testing.T, setup bool) *API {
	t.Helper()
	s, err := schema.Compile(`entity: Account: {
		key: "id"
		fields: {
			id: {type: "string", required: true}
			email: {type: "string", required: true}
		}
	}`)
	require.NoError(t, err)
	cat := catalog.New(s)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Store.Driver = config.DriverMemory
	m := manager.New(cfg,
		manager.WithLogger(logger),
		manager.WithKinds(cat.Descriptors()...),
		manager.WithBatchIDGenerator(importer.NewSequenceGenerator("b")),
	)
	if setup {
		require.NoError(t, m.Setup(context.Background(), nil))
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return New(m, cat, "127.0.0.1:0", logger)
}

func do(t *testing.T, a *API, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, true)
	w := do(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","kinds":["Account","Item"]}`, w.Body.String())

	a = newTestAPI(t, false)
	w = do(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestImportAndRead(t *testing.T) {
	a := newTestAPI(t, true)

	w := do(t, a, http.MethodPost, "/v1/entities/Account/import",
		`[{"id":"a1","email":"x@y"},{"id":"a2","email":"z@y"},{"email":"nokey"}]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out catalog.Outcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "b-1", out.BatchID)
	assert.Equal(t, importer.Stats{Received: 3, Created: 2, Skipped: 1}, out.Stats)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "a1", out.Records[0].Key)
	assert.JSONEq(t, `{"id":"a1","email":"x@y"}`, string(out.Records[0].Fields))

	// newline-delimited body
	w = do(t, a, http.MethodPost, "/v1/entities/Account/import", "{\"id\":\"a1\",\"email\":\"new@y\"}\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, a, http.MethodGet, "/v1/entities/Account/records/a1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view catalog.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(2), view.Version)
	assert.Equal(t, "b-2", view.BatchID)
	assert.JSONEq(t, `{"id":"a1","email":"new@y"}`, string(view.Fields))

	w = do(t, a, http.MethodGet, "/v1/entities/Account/records?limit=1&offset=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var views []catalog.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "a2", views[0].Key)

	w = do(t, a, http.MethodGet, "/v1/entities/Account/count", "")
	assert.JSONEq(t, `{"kind":"Account","count":2}`, w.Body.String())

	w = do(t, a, http.MethodGet, "/v1/entities/Account/batches", "")
	require.Equal(t, http.StatusOK, w.Code)
	var batches []backend.Batch
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batches))
	require.Len(t, batches, 2)
	assert.Equal(t, "b-1", batches[0].ID)
	assert.Equal(t, 2, batches[0].Created)

	w = do(t, a, http.MethodGet, "/v1/entities/Item/batches", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestImport_ValidationError(t *testing.T) {
	a := newTestAPI(t, true)

	w := do(t, a, http.MethodPost, "/v1/entities/Account/import",
		`[{"id":"a1","email":"x@y"},{"id":"a2"}]`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	detail := decodeError(t, w)
	assert.Equal(t, "VALIDATION", detail.Code)
	assert.Equal(t, "Account", detail.Kind)
	assert.Equal(t, "a2", detail.Key)
	assert.Equal(t, "email", detail.Field)
	require.NotNil(t, detail.Index)
	assert.Equal(t, 1, *detail.Index)

	// nothing from the failed batch was committed
	w = do(t, a, http.MethodGet, "/v1/entities/Account/count", "")
	assert.JSONEq(t, `{"kind":"Account","count":0}`, w.Body.String())
}

func TestErrors(t *testing.T) {
	a := newTestAPI(t, true)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown kind import", http.MethodPost, "/v1/entities/Ghost/import", `[]`, http.StatusNotFound, "PRECONDITION"},
		{"unknown kind list", http.MethodGet, "/v1/entities/Ghost/records", "", http.StatusNotFound, "PRECONDITION"},
		{"missing record", http.MethodGet, "/v1/entities/Account/records/zzz", "", http.StatusNotFound, "NOT_FOUND"},
		{"bad json", http.MethodPost, "/v1/entities/Account/import", `[{"id":`, http.StatusBadRequest, "BAD_REQUEST"},
		{"bad limit", http.MethodGet, "/v1/entities/Account/records?limit=-1", "", http.StatusBadRequest, "BAD_REQUEST"},
		{"bad offset", http.MethodGet, "/v1/entities/Account/records?offset=x", "", http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, a, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestNotSetup(t *testing.T) {
	a := newTestAPI(t, false)

	w := do(t, a, http.MethodPost, "/v1/entities/Account/import", `[{"id":"a1","email":"x"}]`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "PRECONDITION", decodeError(t, w).Code)

	w = do(t, a, http.MethodGet, "/v1/entities/Account/count", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStop_NotStarted(t *testing.T) {
	a := newTestAPI(t, true)
	assert.NoError(t, a.Stop(context.Background()))
}
