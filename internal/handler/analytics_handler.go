package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grievance-api/internal/middleware"
	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	"github.com/noah-isme/grievance-api/pkg/response"
)

type analyticsService interface {
	Stats(ctx context.Context, actor *models.Actor) (*models.GrievanceStats, bool, error)
	Analytics(ctx context.Context, actor *models.Actor) (*models.GrievanceAnalytics, bool, error)
	Export(ctx context.Context, actor *models.Actor, format string) (*service.ExportFile, error)
}

// AnalyticsHandler exposes dashboard stats and resolution analytics.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs the analytics handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Stats godoc
// @Summary Grievance dashboard stats
// @Description Admins get global counts and open cases by stage; other users get their own.
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /grievances/stats [get]
func (h *AnalyticsHandler) Stats(c *gin.Context) {
	stats, hit, err := h.analytics.Stats(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, gin.H{"stats": stats}, nil, middleware.ResponseMeta(c))
}

// Analytics godoc
// @Summary Per-case resolution analytics
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /grievances/analytics [get]
func (h *AnalyticsHandler) Analytics(c *gin.Context) {
	result, hit, err := h.analytics.Analytics(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, result, nil, middleware.ResponseMeta(c))
}

// Export godoc
// @Summary Download analytics as CSV or PDF
// @Tags Analytics
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv (default) or pdf"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /grievances/analytics/export [get]
func (h *AnalyticsHandler) Export(c *gin.Context) {
	file, err := h.analytics.Export(c.Request.Context(), actorFromContext(c), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
