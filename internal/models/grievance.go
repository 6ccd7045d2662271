package models

import (
	"fmt"
	"time"
)

// GrievanceStatus is the lifecycle state of a case.
type GrievanceStatus string

const (
	StatusSubmitted  GrievanceStatus = "submitted"
	StatusInReview   GrievanceStatus = "in_review"
	StatusInProgress GrievanceStatus = "in_progress"
	StatusResolved   GrievanceStatus = "resolved"
	StatusRejected   GrievanceStatus = "rejected"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []GrievanceStatus{StatusSubmitted, StatusInReview, StatusInProgress, StatusResolved, StatusRejected}

// Valid reports whether the status belongs to the closed set.
func (s GrievanceStatus) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// Closed reports whether the status is terminal.
func (s GrievanceStatus) Closed() bool {
	return s == StatusResolved || s == StatusRejected
}

// GrievanceCategory classifies a case at submission time.
type GrievanceCategory string

const (
	CategoryAcademic       GrievanceCategory = "Academic"
	CategoryAdministrative GrievanceCategory = "Administrative"
	CategoryHarassment     GrievanceCategory = "Harassment"
	CategoryInfrastructure GrievanceCategory = "Infrastructure"
	CategoryOther          GrievanceCategory = "Other"
)

// AllCategories lists the accepted categories.
var AllCategories = []GrievanceCategory{CategoryAcademic, CategoryAdministrative, CategoryHarassment, CategoryInfrastructure, CategoryOther}

// Valid reports whether the category belongs to the closed set.
func (c GrievanceCategory) Valid() bool {
	for _, candidate := range AllCategories {
		if c == candidate {
			return true
		}
	}
	return false
}

// Grievance is the central case record.
type Grievance struct {
	ID                 string              `json:"id"`
	CaseNumber         string              `json:"caseNumber"`
	Category           GrievanceCategory   `json:"category"`
	Title              string              `json:"title"`
	Description        string              `json:"description"`
	CreatorID          *string             `json:"creatorId"`
	Anonymous          bool                `json:"anonymous"`
	TrackingHash       *string             `json:"trackingHash,omitempty"`
	Status             GrievanceStatus     `json:"status"`
	AssignedTo         *string             `json:"assignedTo"`
	EscalationLevel    int                 `json:"escalationLevel"`
	ResolutionFeedback *ResolutionFeedback `json:"resolutionFeedback"`
	Attachments        []Attachment        `json:"attachments"`
	History            []HistoryEvent      `json:"history"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

// IsOwner reports whether the user created the case. Anonymous cases have no owner.
func (g *Grievance) IsOwner(userID string) bool {
	return g != nil && g.CreatorID != nil && userID != "" && *g.CreatorID == userID
}

// ResolutionFeedback is the creator's rating after resolution.
type ResolutionFeedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Attachment describes a file uploaded with the submission.
type Attachment struct {
	GrievanceID string    `db:"grievance_id" json:"-"`
	Position    int       `db:"position" json:"position"`
	FileName    string    `db:"file_name" json:"fileName"`
	ContentType string    `db:"content_type" json:"contentType"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	StorageKey  string    `db:"storage_key" json:"-"`
	UploadedAt  time.Time `db:"uploaded_at" json:"uploadedAt"`
}

// GrievanceFilter narrows list queries.
type GrievanceFilter struct {
	Status           GrievanceStatus
	Category         GrievanceCategory
	AssignedTo       string
	CreatorID        string
	IncludeAnonymous bool
	Limit            int
}

// CaseAction identifies a mutation requested on an existing case.
type CaseAction string

const (
	ActionStatus   CaseAction = "status"
	ActionComment  CaseAction = "comment"
	ActionAssign   CaseAction = "assign"
	ActionEscalate CaseAction = "escalate"
	ActionFeedback CaseAction = "feedback"
)

// FormatCaseNumber renders the yearly sequential case identifier.
func FormatCaseNumber(year, seq int) string {
	return fmt.Sprintf("GRV-%d-%04d", year, seq)
}
