package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/noah-isme/grievance-api/internal/dto"
	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/service"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/response"
)

// attachmentsField is the multipart field carrying submission files.
const attachmentsField = "attachments"

type grievanceService interface {
	Create(ctx context.Context, actor *models.Actor, req service.CreateGrievanceRequest, uploads []service.Upload) (*service.CreateGrievanceResult, error)
	List(ctx context.Context, actor *models.Actor, filter models.GrievanceFilter) ([]models.Grievance, error)
	Get(ctx context.Context, actor *models.Actor, id string) (*models.Grievance, error)
	Track(ctx context.Context, code string) (*models.Grievance, error)
	Apply(ctx context.Context, actor *models.Actor, id string, req service.ActionRequest) (*service.ActionResult, error)
}

// GrievanceHandler exposes case submission and lifecycle endpoints.
type GrievanceHandler struct {
	service        grievanceService
	maxUploadBytes int64
}

// NewGrievanceHandler builds a handler. maxUploadBytes caps the whole multipart body.
func NewGrievanceHandler(service grievanceService, maxUploadBytes int64) *GrievanceHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &GrievanceHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// Create godoc
// @Summary Submit a grievance
// @Description Multipart form with optional attachments. Authentication is optional for anonymous submissions.
// @Tags Grievances
// @Accept multipart/form-data
// @Produce json
// @Param category formData string true "Academic|Administrative|Harassment|Infrastructure|Other"
// @Param title formData string true "Title"
// @Param description formData string true "Description"
// @Param anonymous formData bool false "Submit without identity"
// @Param assignedTo formData string false "Department to route to"
// @Param initialComment formData string false "Comment stored on the first history entry"
// @Param attachments formData file false "Attachment files"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /grievances [post]
func (h *GrievanceHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	var form dto.CreateGrievanceForm
	if err := c.ShouldBind(&form); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(c, appErrors.Clone(appErrors.ErrPayloadTooLarge, "Request body is too large"))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid grievance payload"))
		return
	}

	uploads, closeAll, err := multipartUploads(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer closeAll()

	req := service.CreateGrievanceRequest{
		Category:       form.Category,
		Title:          form.Title,
		Description:    form.Description,
		Anonymous:      form.Anonymous,
		InitialComment: form.InitialComment,
	}
	if assignee := strings.TrimSpace(form.AssignedTo); assignee != "" {
		req.AssignedTo = &assignee
	}

	result, err := h.service.Create(c.Request.Context(), actorFromContext(c), req, uploads)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List grievances
// @Description Admins see every case; other users only their own.
// @Tags Grievances
// @Produce json
// @Param status query string false "Status filter"
// @Param category query string false "Category filter"
// @Param assignedTo query string false "Assigned department"
// @Param includeAnonymous query bool false "Include anonymous cases (admin only)"
// @Param limit query int false "Maximum results (default 50, max 200)"
// @Success 200 {object} response.Envelope
// @Router /grievances [get]
func (h *GrievanceHandler) List(c *gin.Context) {
	var query dto.GrievanceListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	filter := models.GrievanceFilter{
		Status:           query.Status,
		Category:         query.Category,
		AssignedTo:       strings.TrimSpace(query.AssignedTo),
		IncludeAnonymous: query.IncludeAnonymous,
		Limit:            query.Limit,
	}
	items, err := h.service.List(c.Request.Context(), actorFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"grievances": items}, nil, map[string]interface{}{"count": len(items)})
}

// Get godoc
// @Summary Get a grievance with its timeline
// @Tags Grievances
// @Produce json
// @Param id path string true "Grievance ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grievances/{id} [get]
func (h *GrievanceHandler) Get(c *gin.Context) {
	g, err := h.service.Get(c.Request.Context(), actorFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"grievance": g}, nil)
}

// Track godoc
// @Summary Look up an anonymous grievance by tracking code
// @Tags Grievances
// @Produce json
// @Param code query string true "Tracking code issued at submission"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /grievances/track [get]
func (h *GrievanceHandler) Track(c *gin.Context) {
	g, err := h.service.Track(c.Request.Context(), c.Query("code"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"grievance": g}, nil)
}

// Update godoc
// @Summary Apply an action to a grievance
// @Description action is one of status, comment, assign, escalate, feedback.
// @Tags Grievances
// @Accept json
// @Produce json
// @Param id path string true "Grievance ID"
// @Param payload body dto.UpdateGrievanceRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /grievances/{id} [patch]
func (h *GrievanceHandler) Update(c *gin.Context) {
	var req dto.UpdateGrievanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid action payload"))
		return
	}
	result, err := h.service.Apply(c.Request.Context(), actorFromContext(c), c.Param("id"), service.ActionRequest{
		Action:     req.Action,
		Status:     req.Status,
		Comment:    req.Comment,
		AssignedTo: req.AssignedTo,
		Rating:     req.Rating,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// multipartUploads opens every attachment part. The returned func closes them.
func multipartUploads(c *gin.Context) ([]service.Upload, func(), error) {
	noop := func() {}
	if c.ContentType() != binding.MIMEMultipartPOSTForm {
		return nil, noop, nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, noop, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid multipart form")
	}
	headers := form.File[attachmentsField]
	if len(headers) == 0 {
		return nil, noop, nil
	}

	files := make([]multipart.File, 0, len(headers))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	uploads := make([]service.Upload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			closeAll()
			return nil, noop, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read attachment")
		}
		files = append(files, file)
		uploads = append(uploads, service.Upload{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     file,
		})
	}
	return uploads, closeAll, nil
}
