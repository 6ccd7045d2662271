package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapeDiffIgnoresVolatileKeys(t *testing.T) {
	goBody := unwrapEnvelope([]byte(`{"data":{"grievances":[{"id":"a","status":"submitted","createdAt":"x"}]},"meta":{"count":1}}`))
	legacy := []byte(`{"grievances":[{"id":"b","status":"submitted","createdAt":"y"}]}`)

	diffs, err := shapeDiff(goBody, legacy)
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestShapeDiffReportsDrift(t *testing.T) {
	diffs, err := shapeDiff([]byte(`{"total":2,"openByStage":{"submitted":1}}`), []byte(`{"total":3,"resolvedCount":1}`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"$.openByStage: missing in legacy",
		"$.resolvedCount: missing in go",
		"$.total: 2 vs 3",
	}, diffs)
}

func TestCompareTargetStatusMismatch(t *testing.T) {
	goSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusForbidden)
	}))
	defer goSrv.Close()
	legacySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/grievances/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"total":0}`))
	}))
	defer legacySrv.Close()

	res := compareTarget(http.DefaultClient, goSrv.URL, legacySrv.URL, "tok", target{
		Method: http.MethodGet, Path: "/api/v1/grievances/stats", LegacyPath: "/api/grievances/stats",
	})
	require.NoError(t, res.Err)
	assert.False(t, res.StatusMatch)
	assert.True(t, res.failed())
}
