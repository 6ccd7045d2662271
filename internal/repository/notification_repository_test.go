package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grievance-api/internal/models"
)

func TestNotificationRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).WillReturnResult(sqlmock.NewResult(1, 1))
	grievanceID := "grv-1"
	n := &models.Notification{GrievanceID: &grievanceID, RecipientID: "user-1", Message: "Status updated to in review"}
	require.NoError(t, repo.Create(context.Background(), n))
	assert.NotEmpty(t, n.ID)

	rows := sqlmock.NewRows([]string{"id", "grievance_id", "recipient_id", "message", "read", "created_at"}).
		AddRow(n.ID, grievanceID, "user-1", n.Message, false, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC LIMIT $2")).
		WithArgs("user-1", 50).
		WillReturnRows(rows)

	list, err := repo.ListByRecipient(context.Background(), "user-1", 500)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "grv-1", *list[0].GrievanceID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkRead(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	changed, err := repo.MarkRead(context.Background(), "user-1", []string{"n1", "n2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE WHERE recipient_id = $1 AND read = FALSE")).
		WithArgs("user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	changed, err = repo.MarkAllRead(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkReadMalformedID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET read = TRUE")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "22P02"})

	_, err := repo.MarkRead(context.Background(), "user-1", []string{"n1"})
	assert.ErrorIs(t, err, ErrInvalidNotificationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
