package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grievance-api/internal/dto"
	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, actor *models.Actor, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, actor *models.Actor, ids []string) (int64, error)
}

// NotificationHandler serves the caller's in-app notifications.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler builds the handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Param limit query int false "Maximum results (max 50)"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	limit, err := queryLimit(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.service.List(c.Request.Context(), actorFromContext(c), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"notifications": items}, nil)
}

// MarkRead godoc
// @Summary Mark notifications read
// @Description Omit ids (or send an empty body) to mark every notification read.
// @Tags Notifications
// @Accept json
// @Produce json
// @Param payload body dto.MarkNotificationsReadRequest false "Notification ids"
// @Success 200 {object} response.Envelope
// @Router /notifications/mark-read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req dto.MarkNotificationsReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark-read payload"))
			return
		}
	}
	updated, err := h.service.MarkRead(c.Request.Context(), actorFromContext(c), req.IDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"updated": updated}, nil)
}
