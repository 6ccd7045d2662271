package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/repository"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

// grievanceCachePattern matches every cached aggregate derived from cases.
const grievanceCachePattern = "grievances:*"

type grievanceStore interface {
	Create(ctx context.Context, g *models.Grievance, initial models.HistoryEvent) error
	AppendHistory(ctx context.Context, grievanceID string, event models.HistoryEvent) (*models.HistoryEvent, error)
	ApplyChange(ctx context.Context, change repository.CaseChange) (*models.HistoryEvent, error)
	GetByID(ctx context.Context, id string) (*models.Grievance, error)
	FindByTrackingHash(ctx context.Context, hash string) (*models.Grievance, error)
	List(ctx context.Context, filter models.GrievanceFilter) ([]models.Grievance, error)
}

type notifier interface {
	Notify(ctx context.Context, recipientID, grievanceID, message string) (*models.Notification, error)
	NotifyAdmins(ctx context.Context, grievanceID, message string, exclude ...string) error
}

type attachmentKeeper interface {
	Validate(uploads []Upload) error
	Store(ctx context.Context, grievanceID string, uploads []Upload) ([]models.Attachment, error)
	Discard(attachments []models.Attachment)
}

// CreateGrievanceRequest is a bound submission form.
type CreateGrievanceRequest struct {
	Category       models.GrievanceCategory
	Title          string
	Description    string
	Anonymous      bool
	AssignedTo     *string
	InitialComment string
}

// CreateGrievanceResult is returned once to the submitter.
type CreateGrievanceResult struct {
	GrievanceID  string `json:"grievanceId"`
	CaseNumber   string `json:"caseNumber"`
	TrackingCode string `json:"trackingCode,omitempty"`
}

// ActionResult is the outcome of a PATCH action.
type ActionResult struct {
	Message      string               `json:"message"`
	HistoryEntry *models.HistoryEvent `json:"historyEntry"`
}

// GrievanceService orchestrates the case lifecycle: storage, transitions and fan-out.
type GrievanceService struct {
	store       grievanceStore
	notifier    notifier
	attachments attachmentKeeper
	machine     CaseMachine
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// GrievanceOption configures the service.
type GrievanceOption func(*GrievanceService)

// WithGrievanceCache invalidates cached aggregates after writes.
func WithGrievanceCache(cache *CacheService) GrievanceOption {
	return func(s *GrievanceService) { s.cache = cache }
}

// WithGrievanceMetrics records submission and action counters.
func WithGrievanceMetrics(metrics *MetricsService) GrievanceOption {
	return func(s *GrievanceService) { s.metrics = metrics }
}

// WithAttachments enables file uploads on submission.
func WithAttachments(keeper attachmentKeeper) GrievanceOption {
	return func(s *GrievanceService) { s.attachments = keeper }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GrievanceOption {
	return func(s *GrievanceService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewGrievanceService constructs the service.
func NewGrievanceService(store grievanceStore, notifier notifier, logger *zap.Logger, opts ...GrievanceOption) *GrievanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &GrievanceService{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create files a new grievance. actor may be nil only for anonymous submissions.
func (s *GrievanceService) Create(ctx context.Context, actor *models.Actor, req CreateGrievanceRequest, uploads []Upload) (*CreateGrievanceResult, error) {
	title := strings.TrimSpace(req.Title)
	description := strings.TrimSpace(req.Description)
	switch {
	case !req.Category.Valid():
		return nil, appErrors.Clone(appErrors.ErrValidation, "Invalid grievance category")
	case title == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "Title is required")
	case description == "":
		return nil, appErrors.Clone(appErrors.ErrValidation, "Description is required")
	}
	if actor == nil && !req.Anonymous {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	if len(uploads) > 0 {
		if s.attachments == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "Attachments are not accepted")
		}
		if err := s.attachments.Validate(uploads); err != nil {
			return nil, err
		}
	}

	now := s.now()
	g := &models.Grievance{
		ID:          uuid.NewString(),
		Category:    req.Category,
		Title:       title,
		Description: description,
		Anonymous:   req.Anonymous,
		Status:      models.StatusSubmitted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.AssignedTo != nil {
		if assignee := strings.TrimSpace(*req.AssignedTo); assignee != "" {
			g.AssignedTo = &assignee
		}
	}

	updatedBy := models.AnonymousActor
	var trackingCode string
	if req.Anonymous {
		trackingCode = NewTrackingCode()
		hash := HashTrackingCode(trackingCode)
		g.TrackingHash = &hash
	} else {
		g.CreatorID = &actor.ID
		updatedBy = actor.ID
	}

	submitted := models.StatusSubmitted
	initial := models.HistoryEvent{
		Type:      models.EventStatus,
		Status:    &submitted,
		Comment:   strings.TrimSpace(req.InitialComment),
		UpdatedBy: updatedBy,
		UpdatedAt: now,
	}

	if len(uploads) > 0 {
		stored, err := s.attachments.Store(ctx, g.ID, uploads)
		if err != nil {
			return nil, err
		}
		g.Attachments = stored
	}

	if err := s.store.Create(ctx, g, initial); err != nil {
		if s.attachments != nil {
			s.attachments.Discard(g.Attachments)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create grievance")
	}
	s.metrics.RecordGrievanceCreated(g.Category, g.Anonymous)
	s.invalidate(ctx)

	s.logger.Info("grievance created",
		zap.String("grievance_id", g.ID),
		zap.String("case_number", g.CaseNumber),
		zap.Bool("anonymous", g.Anonymous))

	notices := []Notice{{Admins: true, Message: "New grievance submitted: " + g.Title}}
	if g.CreatorID != nil {
		notices = append(notices, Notice{RecipientID: *g.CreatorID, Message: "Your grievance has been successfully submitted."})
	}
	s.dispatch(ctx, g.ID, notices)

	return &CreateGrievanceResult{GrievanceID: g.ID, CaseNumber: g.CaseNumber, TrackingCode: trackingCode}, nil
}

// List returns cases visible to actor. Non-admins only see their own cases.
func (s *GrievanceService) List(ctx context.Context, actor *models.Actor, filter models.GrievanceFilter) ([]models.Grievance, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "Invalid status")
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Invalid grievance category")
	}
	if !actor.IsAdmin() {
		filter.CreatorID = actor.ID
		filter.IncludeAnonymous = false
	}
	items, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list grievances")
	}
	for i := range items {
		items[i] = *Sanitize(actor, &items[i])
	}
	return items, nil
}

// Get loads one case when actor may read it.
func (s *GrievanceService) Get(ctx context.Context, actor *models.Actor, id string) (*models.Grievance, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, g) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Access denied")
	}
	return Sanitize(actor, g), nil
}

// Track looks up an anonymous case by the code issued at submission.
func (s *GrievanceService) Track(ctx context.Context, code string) (*models.Grievance, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Tracking code is required")
	}
	g, err := s.store.FindByTrackingHash(ctx, HashTrackingCode(code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	return Sanitize(nil, g), nil
}

// Apply runs one case action. The record is unchanged when an error is returned.
func (s *GrievanceService) Apply(ctx context.Context, actor *models.Actor, id string, req ActionRequest) (*ActionResult, error) {
	g, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	transition, err := s.machine.Decide(actor, g, req, s.now())
	if err != nil {
		s.recordAction(req.Action, err)
		return nil, err
	}

	var entry *models.HistoryEvent
	if transition.AppendOnly {
		entry, err = s.store.AppendHistory(ctx, g.ID, transition.Change.Event)
	} else {
		entry, err = s.store.ApplyChange(ctx, transition.Change)
	}
	if err != nil {
		err = s.mapWriteError(req.Action, err)
		s.recordAction(req.Action, err)
		return nil, err
	}
	s.recordAction(req.Action, nil)
	s.invalidate(ctx)
	s.dispatch(ctx, g.ID, transition.Notices)

	return &ActionResult{Message: transition.Message, HistoryEntry: entry}, nil
}

func (s *GrievanceService) mapWriteError(action models.CaseAction, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "Grievance not found")
	case errors.Is(err, repository.ErrStaleCase) && action == models.ActionFeedback:
		return appErrors.Clone(appErrors.ErrFeedbackSubmitted, "Feedback already submitted")
	case errors.Is(err, repository.ErrStaleCase):
		return appErrors.Clone(appErrors.ErrInvalidTransition, "Grievance was closed by another update")
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update grievance")
	}
}

func (s *GrievanceService) load(ctx context.Context, id string) (*models.Grievance, error) {
	g, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Grievance not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load grievance")
	}
	return g, nil
}

// dispatch runs after the write committed; failures are logged and never
// surface to the caller.
func (s *GrievanceService) dispatch(ctx context.Context, grievanceID string, notices []Notice) {
	if s.notifier == nil || len(notices) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, notice := range notices {
		var err error
		if notice.Admins {
			err = s.notifier.NotifyAdmins(ctx, grievanceID, notice.Message, notice.Exclude...)
		} else {
			_, err = s.notifier.Notify(ctx, notice.RecipientID, grievanceID, notice.Message)
		}
		if err != nil {
			s.logger.Warn("notification fan-out failed",
				zap.String("grievance_id", grievanceID),
				zap.Bool("admins", notice.Admins),
				zap.Error(err))
		}
	}
}

func (s *GrievanceService) invalidate(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, grievanceCachePattern)
}

func (s *GrievanceService) recordAction(action models.CaseAction, err error) {
	switch action {
	case models.ActionStatus, models.ActionComment, models.ActionAssign, models.ActionEscalate, models.ActionFeedback:
	default:
		action = "unknown"
	}
	outcome := "applied"
	if err != nil {
		outcome = appErrors.FromError(err).Code
	}
	s.metrics.RecordCaseAction(action, outcome)
}
