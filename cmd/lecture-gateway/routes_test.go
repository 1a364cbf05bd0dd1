package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?limit=5&bad=notanumber", nil)
	assert.Equal(t, 5, queryInt(req, "limit", 20))
	assert.Equal(t, 20, queryInt(req, "offset", 20), "missing key falls back")
	assert.Equal(t, 20, queryInt(req, "bad", 20), "unparseable value falls back")
}

func TestRegisterTraceRoutes_DisabledWithNilStoreReturns404(t *testing.T) {
	mux := http.NewServeMux()
	registerTraceRoutes(mux, nil)

	for _, path := range []string{
		"/api/traces/sessions",
		"/api/traces/sessions/abc",
		"/api/traces/sessions/abc/runs/def",
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "path %s should 404 when tracing is disabled", path)
	}
}
