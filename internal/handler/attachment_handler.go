package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/response"
)

type attachmentService interface {
	Link(ctx context.Context, actor *models.Actor, grievanceID string, position int) (*service.AttachmentLink, error)
	Open(ctx context.Context, token string) (*service.AttachmentDownload, error)
}

// AttachmentHandler issues and redeems signed attachment links.
type AttachmentHandler struct {
	service attachmentService
}

// NewAttachmentHandler builds the handler.
func NewAttachmentHandler(service attachmentService) *AttachmentHandler {
	return &AttachmentHandler{service: service}
}

// Link godoc
// @Summary Signed download link for an attachment
// @Tags Attachments
// @Produce json
// @Param id path string true "Grievance ID"
// @Param index path int true "Attachment position"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grievances/{id}/attachments/{index} [get]
func (h *AttachmentHandler) Link(c *gin.Context) {
	position, err := strconv.Atoi(c.Param("index"))
	if err != nil || position < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "attachment index must be a non-negative integer"))
		return
	}
	link, err := h.service.Link(c.Request.Context(), actorFromContext(c), c.Param("id"), position)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download an attachment with a signed token
// @Tags Attachments
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 401 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Router /attachments/download [get]
func (h *AttachmentHandler) Download(c *gin.Context) {
	download, err := h.service.Open(c.Request.Context(), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close()

	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read attachment"))
		return
	}
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", download.FileName),
		"Cache-Control":       "no-store",
	})
}
