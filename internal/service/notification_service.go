package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/repository"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
	"github.com/noah-isme/grievance-api/pkg/jobs"
	"github.com/noah-isme/grievance-api/pkg/mailer"
)

// EmailJobType identifies notification email jobs on the delivery queue.
const EmailJobType = "notification_email"

const emailSubject = "Grievance Portal Notification"

type notificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error)
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// RoleDirectory resolves portal users for fan-out and contact lookup.
type RoleDirectory interface {
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type emailDispatcher interface {
	TryEnqueue(job jobs.Job) error
}

// EmailPayload is carried by queued email jobs.
type EmailPayload struct {
	RecipientID string
	GrievanceID string
	Message     string
}

// NotificationService records in-app notifications and mirrors them by email.
type NotificationService struct {
	store      notificationStore
	directory  RoleDirectory
	queue      emailDispatcher
	sender     mailer.Sender
	metrics    *MetricsService
	portalBase string
	logger     *zap.Logger
}

// NotificationOption configures the service.
type NotificationOption func(*NotificationService)

// WithEmailQueue enables the email mirror through the given queue.
func WithEmailQueue(queue emailDispatcher) NotificationOption {
	return func(s *NotificationService) { s.queue = queue }
}

// WithNotificationMetrics attaches delivery counters.
func WithNotificationMetrics(metrics *MetricsService) NotificationOption {
	return func(s *NotificationService) { s.metrics = metrics }
}

// WithPortalBaseURL adds a direct link to emails.
func WithPortalBaseURL(base string) NotificationOption {
	return func(s *NotificationService) { s.portalBase = strings.TrimRight(base, "/") }
}

// NewNotificationService constructs the fan-out service.
func NewNotificationService(store notificationStore, directory RoleDirectory, sender mailer.Sender, logger *zap.Logger, opts ...NotificationOption) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = mailer.NewLogSender(logger)
	}
	svc := &NotificationService{store: store, directory: directory, sender: sender, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Notify persists one notification and schedules its email copy. An empty
// recipient is a no-op.
func (s *NotificationService) Notify(ctx context.Context, recipientID, grievanceID, message string) (*models.Notification, error) {
	if recipientID == "" {
		return nil, nil
	}
	n := &models.Notification{RecipientID: recipientID, Message: message}
	if grievanceID != "" {
		n.GrievanceID = &grievanceID
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("notify %s: %w", recipientID, err)
	}
	s.metrics.RecordNotification()
	s.scheduleEmail(EmailPayload{RecipientID: recipientID, GrievanceID: grievanceID, Message: message})
	return n, nil
}

// NotifyAdmins notifies every admin not listed in exclude, concurrently. Each
// failure is collected; successful deliveries are not rolled back.
func (s *NotificationService) NotifyAdmins(ctx context.Context, grievanceID, message string, exclude ...string) error {
	admins, err := s.directory.ListByRole(ctx, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, admin := range admins {
		if _, ok := skip[admin.ID]; ok {
			continue
		}
		skip[admin.ID] = struct{}{}
		wg.Add(1)
		go func(recipientID string) {
			defer wg.Done()
			if _, err := s.Notify(ctx, recipientID, grievanceID, message); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(admin.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (s *NotificationService) scheduleEmail(payload EmailPayload) {
	if s.queue == nil {
		return
	}
	job := jobs.Job{ID: uuid.NewString(), Type: EmailJobType, Payload: payload}
	if err := s.queue.TryEnqueue(job); err != nil {
		s.metrics.RecordEmailDelivery(false)
		s.logger.Warn("email not queued", zap.String("recipient", payload.RecipientID), zap.Error(err))
	}
}

// HandleEmailJob is the delivery queue handler. Returned errors trigger retries.
func (s *NotificationService) HandleEmailJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(EmailPayload)
	if !ok {
		s.logger.Error("unexpected email job payload", zap.String("job_id", job.ID))
		return nil
	}
	user, err := s.directory.FindByID(ctx, payload.RecipientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if user.Email == "" {
		return nil
	}

	if err := s.sender.Send(ctx, s.composeEmail(user, payload)); err != nil {
		s.metrics.RecordEmailDelivery(false)
		s.logger.Warn("notification email failed",
			zap.String("recipient", payload.RecipientID),
			zap.Int("attempt", job.Attempt+1),
			zap.Error(err))
		return err
	}
	s.metrics.RecordEmailDelivery(true)
	return nil
}

func (s *NotificationService) composeEmail(user *models.User, payload EmailPayload) mailer.Message {
	name := user.DisplayName
	if name == "" {
		name = "there"
	}
	link := ""
	if s.portalBase != "" && payload.GrievanceID != "" {
		link = s.portalBase + "/grievances/" + payload.GrievanceID
	}

	text := fmt.Sprintf("Hello %s,\n\n%s\n\nPlease sign in to the Grievance Portal for more details.", name, payload.Message)
	if link != "" {
		text += "\n\nDirect link: " + link
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hello %s,</p><p>%s</p>", html.EscapeString(name), html.EscapeString(payload.Message))
	if link != "" {
		fmt.Fprintf(&b, `<p><a href="%s">View grievance details</a></p>`, html.EscapeString(link))
	}
	b.WriteString("<p>Please sign in to the Grievance Portal for more details.</p>")

	return mailer.Message{To: user.Email, Subject: emailSubject, Text: text, HTML: b.String()}
}

// List returns the actor's most recent notifications.
func (s *NotificationService) List(ctx context.Context, actor *models.Actor, limit int) ([]models.Notification, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	items, err := s.store.ListByRecipient(ctx, actor.ID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notifications")
	}
	return items, nil
}

// MarkRead flips the given notifications to read, or all of them when ids is empty.
// Repeating the call is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, actor *models.Actor, ids []string) (int64, error) {
	if actor == nil {
		return 0, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	var (
		updated int64
		err     error
	)
	if len(ids) == 0 {
		updated, err = s.store.MarkAllRead(ctx, actor.ID)
	} else {
		updated, err = s.store.MarkRead(ctx, actor.ID, ids)
	}
	if errors.Is(err, repository.ErrInvalidNotificationID) {
		return 0, appErrors.Clone(appErrors.ErrValidation, "ids must be notification ids")
	}
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update notifications")
	}
	return updated, nil
}
