package models

import "time"

// Notification is an in-app message for a single recipient.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	GrievanceID *string   `db:"grievance_id" json:"grievanceId"`
	RecipientID string    `db:"recipient_id" json:"recipientId"`
	Message     string    `db:"message" json:"message"`
	Read        bool      `db:"read" json:"read"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
