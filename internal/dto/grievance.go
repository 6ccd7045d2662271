package dto

import "github.com/noah-isme/grievance-api/internal/models"

// CreateGrievanceForm is the submission payload. It binds from multipart
// forms (with attachments) or plain JSON.
type CreateGrievanceForm struct {
	Category       models.GrievanceCategory `form:"category" json:"category"`
	Title          string                   `form:"title" json:"title"`
	Description    string                   `form:"description" json:"description"`
	Anonymous      bool                     `form:"anonymous" json:"anonymous"`
	AssignedTo     string                   `form:"assignedTo" json:"assignedTo"`
	InitialComment string                   `form:"initialComment" json:"initialComment"`
}

// GrievanceListQuery holds list filters from the query string.
type GrievanceListQuery struct {
	Status           models.GrievanceStatus   `form:"status"`
	Category         models.GrievanceCategory `form:"category"`
	AssignedTo       string                   `form:"assignedTo"`
	IncludeAnonymous bool                     `form:"includeAnonymous"`
	Limit            int                      `form:"limit" binding:"omitempty,min=0"`
}

// UpdateGrievanceRequest is the PATCH body. Which fields apply depends on Action.
type UpdateGrievanceRequest struct {
	Action     models.CaseAction      `json:"action"`
	Status     models.GrievanceStatus `json:"status"`
	Comment    string                 `json:"comment"`
	AssignedTo *string                `json:"assignedTo"`
	Rating     int                    `json:"rating"`
}

// MarkNotificationsReadRequest lists notifications to mark read. Empty marks all.
type MarkNotificationsReadRequest struct {
	IDs []string `json:"ids"`
}
