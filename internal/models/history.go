package models

import (
	"sort"
	"time"
)

// HistoryEventType is the kind of timeline entry.
type HistoryEventType string

const (
	EventStatus     HistoryEventType = "status"
	EventComment    HistoryEventType = "comment"
	EventAssignment HistoryEventType = "assignment"
	EventEscalation HistoryEventType = "escalation"
	EventFeedback   HistoryEventType = "feedback"
)

// AnonymousActor is recorded as updatedBy for submissions without a session.
const AnonymousActor = "anonymous"

// HistoryEvent is an immutable timeline entry. Seq is the storage insertion order.
type HistoryEvent struct {
	Seq         int64            `db:"seq" json:"-"`
	GrievanceID string           `db:"grievance_id" json:"-"`
	Type        HistoryEventType `db:"type" json:"type"`
	Status      *GrievanceStatus `db:"status" json:"status"`
	Comment     string           `db:"comment" json:"comment"`
	UpdatedBy   string           `db:"updated_by" json:"updatedBy"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updatedAt"`
}

// Timeline returns a copy of events ordered newest first. Events sharing a
// timestamp keep their insertion order.
func Timeline(events []HistoryEvent) []HistoryEvent {
	ordered := make([]HistoryEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
	})
	return ordered
}
