package service

import (
	"strings"
	"time"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/repository"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

// ActionRequest is a PATCH payload after binding.
type ActionRequest struct {
	Action     models.CaseAction
	Status     models.GrievanceStatus
	Comment    string
	AssignedTo *string
	Rating     int
}

// Notice describes who hears about a transition. Admins fans out to every admin
// not listed in Exclude; otherwise RecipientID is notified alone.
type Notice struct {
	RecipientID string
	Admins      bool
	Exclude     []string
	Message     string
}

// Transition is the outcome of a legal action.
type Transition struct {
	// AppendOnly marks actions that only add a history event.
	AppendOnly bool
	Change     repository.CaseChange
	Message    string
	Notices    []Notice
}

// CaseMachine decides which actions are legal on a grievance. It never touches storage.
type CaseMachine struct{}

// Decide validates req against the case and actor and computes the delta to persist.
func (CaseMachine) Decide(actor *models.Actor, g *models.Grievance, req ActionRequest, now time.Time) (*Transition, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "Authentication required")
	}
	if g == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "Grievance not found")
	}
	base := models.HistoryEvent{GrievanceID: g.ID, UpdatedBy: actor.ID, UpdatedAt: now}

	switch req.Action {
	case models.ActionStatus:
		return decideStatus(actor, g, req, base)
	case models.ActionComment:
		return decideComment(actor, g, req, base)
	case models.ActionAssign:
		return decideAssign(actor, g, req, base)
	case models.ActionEscalate:
		return decideEscalate(actor, g, req, base)
	case models.ActionFeedback:
		return decideFeedback(actor, g, req, base)
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedAction, "Unsupported action")
	}
}

func decideStatus(actor *models.Actor, g *models.Grievance, req ActionRequest, event models.HistoryEvent) (*Transition, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only admins can update status")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "Invalid status")
	}
	if g.Status.Closed() {
		return nil, closedError(g)
	}
	status := req.Status
	event.Type = models.EventStatus
	event.Status = &status
	event.Comment = strings.TrimSpace(req.Comment)
	return &Transition{
		Change:  repository.CaseChange{GrievanceID: g.ID, Status: &status, Event: event},
		Message: "Status updated",
		Notices: creatorNotice(g, actor, "Status updated to "+strings.ReplaceAll(string(status), "_", " ")),
	}, nil
}

func decideComment(actor *models.Actor, g *models.Grievance, req ActionRequest, event models.HistoryEvent) (*Transition, error) {
	owner := g.IsOwner(actor.ID)
	if !actor.IsAdmin() && !owner {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Not permitted to comment")
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "Comment is required")
	}
	event.Type = models.EventComment
	event.Comment = comment

	message := "New comment from " + actor.Name()
	var notices []Notice
	if actor.IsAdmin() {
		exclude := []string{actor.ID}
		if g.CreatorID != nil && *g.CreatorID != actor.ID {
			notices = append(notices, Notice{RecipientID: *g.CreatorID, Message: message})
			exclude = append(exclude, *g.CreatorID)
		}
		notices = append(notices, Notice{Admins: true, Exclude: exclude, Message: message})
	} else {
		notices = append(notices, Notice{Admins: true, Message: message})
	}
	return &Transition{
		AppendOnly: true,
		Change:     repository.CaseChange{GrievanceID: g.ID, Event: event},
		Message:    "Comment added",
		Notices:    notices,
	}, nil
}

func decideAssign(actor *models.Actor, g *models.Grievance, req ActionRequest, event models.HistoryEvent) (*Transition, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only admins can assign")
	}
	if g.Status.Closed() {
		return nil, closedError(g)
	}
	var assignee *string
	if req.AssignedTo != nil {
		if trimmed := strings.TrimSpace(*req.AssignedTo); trimmed != "" {
			assignee = &trimmed
		}
	}
	event.Type = models.EventAssignment
	notice := "Grievance assignment updated"
	event.Comment = "Assignment cleared"
	if assignee != nil {
		event.Comment = "Assigned to " + *assignee
		notice = "Grievance assigned to " + *assignee
	}
	return &Transition{
		Change:  repository.CaseChange{GrievanceID: g.ID, SetAssignee: true, AssignedTo: assignee, Event: event},
		Message: "Assignment updated",
		Notices: creatorNotice(g, actor, notice),
	}, nil
}

func decideEscalate(actor *models.Actor, g *models.Grievance, req ActionRequest, event models.HistoryEvent) (*Transition, error) {
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only admins can escalate")
	}
	if g.Status.Closed() {
		return nil, closedError(g)
	}
	event.Type = models.EventEscalation
	event.Comment = strings.TrimSpace(req.Comment)
	if event.Comment == "" {
		event.Comment = "Escalated to next level"
	}
	return &Transition{
		Change:  repository.CaseChange{GrievanceID: g.ID, Escalate: true, Event: event},
		Message: "Grievance escalated",
		Notices: creatorNotice(g, actor, "Your grievance has been escalated"),
	}, nil
}

func decideFeedback(actor *models.Actor, g *models.Grievance, req ActionRequest, event models.HistoryEvent) (*Transition, error) {
	if !g.IsOwner(actor.ID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "Only the reporter can submit feedback")
	}
	if g.Status != models.StatusResolved {
		return nil, appErrors.Clone(appErrors.ErrInvalidStatus, "Feedback allowed only after resolution")
	}
	if g.ResolutionFeedback != nil {
		return nil, appErrors.Clone(appErrors.ErrFeedbackSubmitted, "Feedback already submitted")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, appErrors.Clone(appErrors.ErrInvalidRating, "Rating must be between 1 and 5")
	}
	feedback := &models.ResolutionFeedback{
		Rating:      req.Rating,
		Comment:     strings.TrimSpace(req.Comment),
		SubmittedAt: event.UpdatedAt,
	}
	event.Type = models.EventFeedback
	event.Comment = "Feedback submitted by " + actor.ID
	return &Transition{
		Change:  repository.CaseChange{GrievanceID: g.ID, Feedback: feedback, Event: event},
		Message: "Feedback submitted",
		Notices: []Notice{{Admins: true, Message: "Feedback submitted on a grievance"}},
	}, nil
}

func creatorNotice(g *models.Grievance, actor *models.Actor, message string) []Notice {
	if g.CreatorID == nil || *g.CreatorID == actor.ID {
		return nil
	}
	return []Notice{{RecipientID: *g.CreatorID, Message: message}}
}

func closedError(g *models.Grievance) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, "Grievance is "+string(g.Status)+" and can no longer change")
}

// CanView applies the single-case read rule.
func CanView(actor *models.Actor, g *models.Grievance) bool {
	if actor == nil || g == nil {
		return false
	}
	if actor.IsAdmin() || g.IsOwner(actor.ID) {
		return true
	}
	return g.AssignedTo != nil && actor.Department != "" && *g.AssignedTo == actor.Department
}

// Sanitize prepares a case for display to actor: the tracking hash is dropped
// for everyone but the owner and history is ordered newest first.
func Sanitize(actor *models.Actor, g *models.Grievance) *models.Grievance {
	if g == nil {
		return nil
	}
	out := *g
	if actor == nil || !g.IsOwner(actor.ID) {
		out.TrackingHash = nil
	}
	out.History = models.Timeline(g.History)
	return &out
}
