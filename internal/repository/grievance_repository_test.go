package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
)

var grievanceRowColumns = []string{
	"id", "case_number", "category", "title", "description", "creator_id", "anonymous", "tracking_hash",
	"status", "assigned_to", "escalation_level", "feedback_rating", "feedback_comment", "feedback_submitted_at",
	"created_at", "updated_at",
}

var historyRowColumns = []string{"seq", "grievance_id", "type", "status", "comment", "updated_by", "updated_at"}

func TestGrievanceRepositoryCreateAssignsCaseNumber(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	created := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_counters (year, count) VALUES ($1, 1)")).
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grievances (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grievance_attachments")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_history")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(11))
	mock.ExpectCommit()

	creator := "student-1"
	status := models.StatusSubmitted
	g := &models.Grievance{
		Category:    models.CategoryAcademic,
		Title:       "Grade dispute",
		Description: "Midterm score was not recorded",
		CreatorID:   &creator,
		Status:      models.StatusSubmitted,
		Attachments: []models.Attachment{{FileName: "score.pdf", ContentType: "application/pdf", SizeBytes: 10, StorageKey: "k"}},
		CreatedAt:   created,
	}
	err := repo.Create(context.Background(), g, models.HistoryEvent{Type: models.EventStatus, Status: &status, UpdatedBy: creator})
	require.NoError(t, err)

	assert.Equal(t, "GRV-2024-0007", g.CaseNumber)
	assert.NotEmpty(t, g.ID)
	require.Len(t, g.History, 1)
	assert.Equal(t, int64(11), g.History[0].Seq)
	assert.Equal(t, g.ID, g.Attachments[0].GrievanceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryCreateRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_counters")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grievances (")).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.Grievance{Status: models.StatusSubmitted}, models.HistoryEvent{Type: models.EventStatus})
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryAppendHistory(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WITH touched AS (")).
		WithArgs("grv-1", "comment", nil, "Please attach the receipt", "admin-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))

	event, err := repo.AppendHistory(context.Background(), "grv-1", models.HistoryEvent{
		Type:      models.EventComment,
		Comment:   "Please attach the receipt",
		UpdatedBy: "admin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), event.Seq)
	assert.Equal(t, "grv-1", event.GrievanceID)
	assert.False(t, event.UpdatedAt.IsZero())

	mock.ExpectQuery(regexp.QuoteMeta("WITH touched AS (")).WillReturnError(sql.ErrNoRows)
	_, err = repo.AppendHistory(context.Background(), "missing", models.HistoryEvent{Type: models.EventComment})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryApplyStatusChange(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	resolved := models.StatusResolved
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE grievances SET updated_at = $2, status = $3 WHERE id = $1 AND status NOT IN ('resolved', 'rejected')")).
		WithArgs("grv-1", sqlmock.AnyArg(), "resolved").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_history")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	mock.ExpectCommit()

	event, err := repo.ApplyChange(context.Background(), CaseChange{
		GrievanceID: "grv-1",
		Status:      &resolved,
		Event:       models.HistoryEvent{Type: models.EventStatus, Status: &resolved, UpdatedBy: "admin-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), event.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryApplyEscalationIncrementsInSQL(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET updated_at = $2, escalation_level = escalation_level + 1 WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_history")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(4))
	mock.ExpectCommit()

	_, err := repo.ApplyChange(context.Background(), CaseChange{
		GrievanceID: "grv-1",
		Escalate:    true,
		Event:       models.HistoryEvent{Type: models.EventEscalation, Comment: "Escalated to next level"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryApplyFeedbackGuard(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'resolved' AND feedback_rating IS NULL")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.ApplyChange(context.Background(), CaseChange{
		GrievanceID: "grv-1",
		Feedback:    &models.ResolutionFeedback{Rating: 5, SubmittedAt: time.Now()},
		Event:       models.HistoryEvent{Type: models.EventFeedback},
	})
	assert.ErrorIs(t, err, ErrStaleCase)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryApplyRequiresFields(t *testing.T) {
	db, _, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	_, err := repo.ApplyChange(context.Background(), CaseChange{GrievanceID: "grv-1"})
	assert.Error(t, err)
}

func TestGrievanceRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grievances WHERE id = $1")).
		WithArgs("grv-1").
		WillReturnRows(sqlmock.NewRows(grievanceRowColumns).AddRow(
			"grv-1", "GRV-2024-0001", "Academic", "Title", "Body", "student-1", false, nil,
			"resolved", "Records Office", 1, 4, "thanks", now,
			now.Add(-time.Hour), now,
		))
	mock.ExpectQuery(regexp.QuoteMeta("FROM grievance_attachments WHERE grievance_id = $1 ORDER BY position")).
		WithArgs("grv-1").
		WillReturnRows(sqlmock.NewRows([]string{"grievance_id", "position", "file_name", "content_type", "size_bytes", "storage_key", "uploaded_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM grievance_history WHERE grievance_id = $1 ORDER BY seq")).
		WithArgs("grv-1").
		WillReturnRows(sqlmock.NewRows(historyRowColumns).
			AddRow(1, "grv-1", "status", "submitted", "", "student-1", now.Add(-time.Hour)).
			AddRow(2, "grv-1", "status", "resolved", "done", "admin-1", now))

	g, err := repo.GetByID(context.Background(), "grv-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, g.Status)
	require.NotNil(t, g.ResolutionFeedback)
	assert.Equal(t, 4, g.ResolutionFeedback.Rating)
	require.Len(t, g.History, 2)
	require.NotNil(t, g.History[0].Status)
	assert.Equal(t, models.StatusSubmitted, *g.History[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryGetByIDMalformedID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM grievances WHERE id = $1")).
		WithArgs("abc").
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"})

	_, err := repo.GetByID(context.Background(), "abc")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND creator_id = $2 AND anonymous = FALSE ORDER BY created_at DESC LIMIT 50")).
		WithArgs("submitted", "student-1").
		WillReturnRows(sqlmock.NewRows(grievanceRowColumns).AddRow(
			"grv-1", "GRV-2024-0001", "Other", "T", "D", "student-1", false, nil,
			"submitted", nil, 0, nil, nil, nil, now, now,
		))

	list, err := repo.List(context.Background(), models.GrievanceFilter{
		Status:    models.StatusSubmitted,
		CreatorID: "student-1",
		Limit:     1000,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ResolutionFeedback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceRepositoryListForAnalytics(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewGrievanceRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM grievances ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(grievanceRowColumns).
			AddRow("grv-1", "GRV-2024-0001", "Other", "T", "D", nil, true, "hash", "resolved", nil, 0, nil, nil, nil, now, now).
			AddRow("grv-2", "GRV-2024-0002", "Other", "T", "D", "u", false, nil, "submitted", nil, 0, nil, nil, nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM grievance_history WHERE type = $1 AND grievance_id = ANY($2) ORDER BY seq")).
		WithArgs("status", `{"grv-1","grv-2"}`).
		WillReturnRows(sqlmock.NewRows(historyRowColumns).
			AddRow(1, "grv-1", "status", "submitted", "", "anonymous", now).
			AddRow(2, "grv-1", "status", "resolved", "", "admin-1", now).
			AddRow(3, "grv-2", "status", "submitted", "", "u", now))

	list, err := repo.ListForAnalytics(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Len(t, list[0].History, 2)
	assert.Len(t, list[1].History, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}
