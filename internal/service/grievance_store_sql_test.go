package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
	"github.com/noah-isme/grievance-api/internal/repository"
	appErrors "github.com/noah-isme/grievance-api/pkg/errors"
)

func newSQLMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestGrievanceMalformedIDIsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := repository.NewGrievanceRepository(db)
	svc := NewGrievanceService(repo, &notifierStub{}, nil)
	attachments := NewAttachmentService(nil, nil, repo, nil, AttachmentConfig{})

	invalid := &pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"}
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("FROM grievances WHERE id = $1")).
			WithArgs("abc").
			WillReturnError(invalid)
	}

	_, err := svc.Get(context.Background(), adminActor, "abc")
	requireCode(t, err, appErrors.ErrNotFound.Code)
	assert.Equal(t, 404, appErrors.FromError(err).Status)

	_, err = svc.Apply(context.Background(), adminActor, "abc", ActionRequest{Action: models.ActionEscalate})
	requireCode(t, err, appErrors.ErrNotFound.Code)

	_, err = attachments.Link(context.Background(), adminActor, "abc", 0)
	requireCode(t, err, appErrors.ErrNotFound.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrievanceCreateFormatsStoredCounter(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := repository.NewGrievanceRepository(db)
	svc := NewGrievanceService(repo, &notifierStub{}, nil, WithClock(func() time.Time {
		return time.Date(2024, 9, 3, 10, 0, 0, 0, time.UTC)
	}))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (year) DO UPDATE SET count = grievance_counters.count + 1")).
		WithArgs(2024).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO grievances (")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO grievance_history")).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(1))
	mock.ExpectCommit()

	res, err := svc.Create(context.Background(), ownerActor, CreateGrievanceRequest{
		Category:    models.CategoryAdministrative,
		Title:       "Fee refund",
		Description: "Refund has not arrived",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "GRV-2024-0007", res.CaseNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkReadRejectsMalformedIDs(t *testing.T) {
	db, mock := newSQLMock(t)
	svc := NewNotificationService(repository.NewNotificationRepository(db), newDirectory(), nil, nil)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE")).
		WithArgs("student-1", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "22P02"})

	_, err := svc.MarkRead(context.Background(), ownerActor, []string{"not-a-uuid"})
	requireCode(t, err, appErrors.ErrValidation.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
