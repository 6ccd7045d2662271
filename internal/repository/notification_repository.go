package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/grievance-api/internal/models"
)

// ErrInvalidNotificationID is returned when a notification id is not a uuid.
var ErrInvalidNotificationID = errors.New("invalid notification id")

// NotificationRepository persists in-app notifications.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification row.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notifications (id, grievance_id, recipient_id, message, read, created_at)
	VALUES (:id, :grievance_id, :recipient_id, :message, :read, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListByRecipient returns the newest notifications for the recipient.
func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	const query = `SELECT id, grievance_id, recipient_id, message, read, created_at
	FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2`
	var list []models.Notification
	if err := r.db.SelectContext(ctx, &list, query, recipientID, limit); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkRead flips read on the given notifications owned by the recipient and
// returns how many rows changed.
func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE
	WHERE recipient_id = $1 AND read = FALSE AND id = ANY($2)`
	result, err := r.db.ExecContext(ctx, query, recipientID, pq.Array(ids))
	if err != nil {
		if isMalformedID(err) {
			return 0, ErrInvalidNotificationID
		}
		return 0, fmt.Errorf("mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// MarkAllRead flips read on every unread notification of the recipient.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	const query = `UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND read = FALSE`
	result, err := r.db.ExecContext(ctx, query, recipientID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}
