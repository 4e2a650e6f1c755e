package ui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	h, err := Handler()
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHandler_Index(t *testing.T) {
	rec := serve(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>BugSage</title>")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestHandler_BoardRoute(t *testing.T) {
	rec := serve(t, "/board")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-page="board"`)
}

func TestHandler_StaticAsset(t *testing.T) {
	rec := serve(t, "/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `const API = "/api/v1"`)
}

func TestHandler_MissingAsset(t *testing.T) {
	rec := serve(t, "/missing.css")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_UnknownRouteFallsBack(t *testing.T) {
	rec := serve(t, "/bugs/01ABC")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>BugSage</title>")
}
