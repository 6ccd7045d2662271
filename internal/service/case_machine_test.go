package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

func strPtr(v string) *string { return &v }

var (
	adminActor   = &models.Actor{ID: "admin-1", Role: models.RoleAdmin, DisplayName: "Dean"}
	ownerActor   = &models.Actor{ID: "student-1", Role: models.RoleStudent, Email: "s1@example.edu"}
	strangerUser = &models.Actor{ID: "student-2", Role: models.RoleStudent}
)

func openCase() *models.Grievance {
	return &models.Grievance{
		ID:        "g-1",
		Status:    models.StatusInReview,
		CreatorID: strPtr(ownerActor.ID),
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, appErrors.FromError(err).Code)
}

func TestCaseMachineStatus(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	machine := CaseMachine{}

	tr, err := machine.Decide(adminActor, openCase(), ActionRequest{Action: models.ActionStatus, Status: models.StatusInProgress}, now)
	require.NoError(t, err)
	require.NotNil(t, tr.Change.Status)
	assert.Equal(t, models.StatusInProgress, *tr.Change.Status)
	assert.Equal(t, models.EventStatus, tr.Change.Event.Type)
	assert.Equal(t, adminActor.ID, tr.Change.Event.UpdatedBy)
	assert.Equal(t, now, tr.Change.Event.UpdatedAt)
	assert.Equal(t, "Status updated", tr.Message)
	require.Len(t, tr.Notices, 1)
	assert.Equal(t, ownerActor.ID, tr.Notices[0].RecipientID)
	assert.Equal(t, "Status updated to in progress", tr.Notices[0].Message)

	_, err = machine.Decide(ownerActor, openCase(), ActionRequest{Action: models.ActionStatus, Status: models.StatusResolved}, now)
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, err = machine.Decide(adminActor, openCase(), ActionRequest{Action: models.ActionStatus, Status: "archived"}, now)
	requireCode(t, err, appErrors.ErrInvalidStatus.Code)
}

func TestCaseMachineClosedCasesRejectMutations(t *testing.T) {
	machine := CaseMachine{}
	for _, status := range []models.GrievanceStatus{models.StatusResolved, models.StatusRejected} {
		g := openCase()
		g.Status = status

		_, err := machine.Decide(adminActor, g, ActionRequest{Action: models.ActionStatus, Status: models.StatusInReview}, time.Now())
		requireCode(t, err, appErrors.ErrInvalidTransition.Code)
		_, err = machine.Decide(adminActor, g, ActionRequest{Action: models.ActionAssign, AssignedTo: strPtr("Registry")}, time.Now())
		requireCode(t, err, appErrors.ErrInvalidTransition.Code)
		_, err = machine.Decide(adminActor, g, ActionRequest{Action: models.ActionEscalate}, time.Now())
		requireCode(t, err, appErrors.ErrInvalidTransition.Code)

		tr, err := machine.Decide(adminActor, g, ActionRequest{Action: models.ActionComment, Comment: "noted"}, time.Now())
		require.NoError(t, err)
		assert.True(t, tr.AppendOnly)
	}
}

func TestCaseMachineCommentRecipients(t *testing.T) {
	machine := CaseMachine{}

	tr, err := machine.Decide(ownerActor, openCase(), ActionRequest{Action: models.ActionComment, Comment: " any update? "}, time.Now())
	require.NoError(t, err)
	assert.True(t, tr.AppendOnly)
	assert.Equal(t, "any update?", tr.Change.Event.Comment)
	require.Len(t, tr.Notices, 1)
	assert.True(t, tr.Notices[0].Admins)
	assert.Equal(t, "New comment from s1@example.edu", tr.Notices[0].Message)

	tr, err = machine.Decide(adminActor, openCase(), ActionRequest{Action: models.ActionComment, Comment: "looking into it"}, time.Now())
	require.NoError(t, err)
	require.Len(t, tr.Notices, 2)
	assert.Equal(t, ownerActor.ID, tr.Notices[0].RecipientID)
	assert.True(t, tr.Notices[1].Admins)
	assert.ElementsMatch(t, []string{adminActor.ID, ownerActor.ID}, tr.Notices[1].Exclude)
	assert.Equal(t, "New comment from Dean", tr.Notices[1].Message)

	_, err = machine.Decide(strangerUser, openCase(), ActionRequest{Action: models.ActionComment, Comment: "hi"}, time.Now())
	requireCode(t, err, appErrors.ErrForbidden.Code)

	_, err = machine.Decide(ownerActor, openCase(), ActionRequest{Action: models.ActionComment, Comment: "   "}, time.Now())
	requireCode(t, err, appErrors.ErrValidation.Code)
}

func TestCaseMachineAssign(t *testing.T) {
	machine := CaseMachine{}

	tr, err := machine.Decide(adminActor, openCase(), ActionRequest{Action: models.ActionAssign, AssignedTo: strPtr("Records Office")}, time.Now())
	require.NoError(t, err)
	assert.True(t, tr.Change.SetAssignee)
	require.NotNil(t, tr.Change.AssignedTo)
	assert.Equal(t, "Records Office", *tr.Change.AssignedTo)
	assert.Equal(t, models.EventAssignment, tr.Change.Event.Type)
	assert.Equal(t, "Assigned to Records Office", tr.Change.Event.Comment)
	require.Len(t, tr.Notices, 1)
	assert.Equal(t, ownerActor.ID, tr.Notices[0].RecipientID)
	assert.Contains(t, tr.Notices[0].Message, "Records Office")

	tr, err = machine.Decide(adminActor, openCase(), ActionRequest{Action: models.ActionAssign, AssignedTo: strPtr("")}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, tr.Change.AssignedTo)
	assert.Equal(t, "Assignment cleared", tr.Change.Event.Comment)

	_, err = machine.Decide(ownerActor, openCase(), ActionRequest{Action: models.ActionAssign}, time.Now())
	requireCode(t, err, appErrors.ErrForbidden.Code)
}

func TestCaseMachineEscalateAnonymousHasNoCreatorNotice(t *testing.T) {
	g := openCase()
	g.CreatorID = nil
	g.Anonymous = true

	tr, err := CaseMachine{}.Decide(adminActor, g, ActionRequest{Action: models.ActionEscalate}, time.Now())
	require.NoError(t, err)
	assert.True(t, tr.Change.Escalate)
	assert.Equal(t, "Escalated to next level", tr.Change.Event.Comment)
	assert.Empty(t, tr.Notices)
}

func TestCaseMachineFeedback(t *testing.T) {
	machine := CaseMachine{}
	resolved := openCase()
	resolved.Status = models.StatusResolved

	_, err := machine.Decide(ownerActor, openCase(), ActionRequest{Action: models.ActionFeedback, Rating: 4}, time.Now())
	requireCode(t, err, appErrors.ErrInvalidStatus.Code)

	_, err = machine.Decide(adminActor, resolved, ActionRequest{Action: models.ActionFeedback, Rating: 4}, time.Now())
	requireCode(t, err, appErrors.ErrForbidden.Code)

	for _, rating := range []int{0, 6} {
		_, err = machine.Decide(ownerActor, resolved, ActionRequest{Action: models.ActionFeedback, Rating: rating}, time.Now())
		requireCode(t, err, appErrors.ErrInvalidRating.Code)
	}

	tr, err := machine.Decide(ownerActor, resolved, ActionRequest{Action: models.ActionFeedback, Rating: 5, Comment: "thanks"}, time.Now())
	require.NoError(t, err)
	require.NotNil(t, tr.Change.Feedback)
	assert.Equal(t, 5, tr.Change.Feedback.Rating)
	assert.Equal(t, "thanks", tr.Change.Feedback.Comment)
	assert.Equal(t, "Feedback submitted by student-1", tr.Change.Event.Comment)
	require.Len(t, tr.Notices, 1)
	assert.True(t, tr.Notices[0].Admins)

	resolved.ResolutionFeedback = &models.ResolutionFeedback{Rating: 5}
	_, err = machine.Decide(ownerActor, resolved, ActionRequest{Action: models.ActionFeedback, Rating: 3}, time.Now())
	requireCode(t, err, appErrors.ErrFeedbackSubmitted.Code)
}

func TestCaseMachineUnsupportedAction(t *testing.T) {
	_, err := CaseMachine{}.Decide(adminActor, openCase(), ActionRequest{Action: "archive"}, time.Now())
	requireCode(t, err, appErrors.ErrUnsupportedAction.Code)
}

func TestCanViewAndSanitize(t *testing.T) {
	g := openCase()
	g.AssignedTo = strPtr("Registry")
	g.TrackingHash = strPtr("abc")
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.History = []models.HistoryEvent{
		{Seq: 1, Type: models.EventStatus, UpdatedAt: t0},
		{Seq: 2, Type: models.EventComment, UpdatedAt: t0.Add(time.Hour)},
	}

	staff := &models.Actor{ID: "staff-1", Role: models.RoleStaff, Department: "Registry"}
	assert.True(t, CanView(adminActor, g))
	assert.True(t, CanView(ownerActor, g))
	assert.True(t, CanView(staff, g))
	assert.False(t, CanView(strangerUser, g))
	assert.False(t, CanView(nil, g))

	view := Sanitize(adminActor, g)
	assert.Nil(t, view.TrackingHash)
	assert.Equal(t, int64(2), view.History[0].Seq)
	assert.NotNil(t, g.TrackingHash)
	assert.Equal(t, int64(1), g.History[0].Seq)

	assert.NotNil(t, Sanitize(ownerActor, g).TrackingHash)
}

func TestTrackingCode(t *testing.T) {
	code := NewTrackingCode()
	assert.Len(t, code, 12)
	assert.Regexp(t, `^[0-9A-F]{12}$`, code)
	assert.Equal(t, HashTrackingCode(code), HashTrackingCode(" "+code+" "))
	assert.Len(t, HashTrackingCode(code), 64)
	assert.NotEqual(t, HashTrackingCode(code), code)
}
