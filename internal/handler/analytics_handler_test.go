package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/middleware"
	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

type analyticsServiceMock struct {
	format string
}

func (m *analyticsServiceMock) Stats(_ context.Context, _ *models.Actor) (*models.GrievanceStats, bool, error) {
	return &models.GrievanceStats{Total: 3}, true, nil
}

func (m *analyticsServiceMock) Analytics(_ context.Context, actor *models.Actor) (*models.GrievanceAnalytics, bool, error) {
	if !actor.IsAdmin() {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "Insufficient permissions")
	}
	return &models.GrievanceAnalytics{}, false, nil
}

func (m *analyticsServiceMock) Export(_ context.Context, _ *models.Actor, format string) (*service.ExportFile, error) {
	m.format = format
	return &service.ExportFile{FileName: "grievance-analytics.csv", ContentType: "text/csv", Content: []byte("id\n")}, nil
}

func TestAnalyticsHandlerStatsReportsCacheHit(t *testing.T) {
	handler := NewAnalyticsHandler(&analyticsServiceMock{})
	c, w := newTestContext(http.MethodGet, "/grievances/stats", nil)
	c.Set(middleware.ContextUserKey, &models.Actor{ID: "u-1"})

	handler.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	var envelope struct {
		Data struct {
			Stats models.GrievanceStats `json:"stats"`
		} `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, 3, envelope.Data.Stats.Total)
	assert.Equal(t, true, envelope.Meta["cached"])
}

func TestAnalyticsHandlerAnalyticsForbidden(t *testing.T) {
	handler := NewAnalyticsHandler(&analyticsServiceMock{})
	c, w := newTestContext(http.MethodGet, "/grievances/analytics", nil)
	c.Set(middleware.ContextUserKey, &models.Actor{ID: "u-1", Role: models.RoleStaff})

	handler.Analytics(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAnalyticsHandlerExportDefaultsToCSV(t *testing.T) {
	mockSvc := &analyticsServiceMock{}
	handler := NewAnalyticsHandler(mockSvc)
	c, w := newTestContext(http.MethodGet, "/grievances/analytics/export", nil)
	c.Set(middleware.ContextUserKey, &models.Actor{ID: "a-1", Role: models.RoleAdmin})

	handler.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mockSvc.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "grievance-analytics.csv")
}
